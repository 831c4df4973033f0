// Package catalog holds the curriculum and learner tables the ALE reads but
// never writes. They are owned by the institution/curriculum service and share
// the relational store.
package catalog

import "time"

type Learner struct {
	ID            int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	InstitutionID int64     `gorm:"not null;index" json:"institution_id"`
	Role          string    `gorm:"not null;default:learner" json:"role"`
	DisplayName   string    `gorm:"column:display_name" json:"display_name"`
	Active        bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Learner) TableName() string { return "learner" }

type Course struct {
	ID            int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	InstitutionID int64  `gorm:"not null;index" json:"institution_id"`
	Title         string `gorm:"not null" json:"title"`
}

func (Course) TableName() string { return "course" }

type Module struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CourseID int64  `gorm:"not null;index" json:"course_id"`
	Title    string `gorm:"not null" json:"title"`
	Position int    `gorm:"not null;default:0" json:"position"`
}

func (Module) TableName() string { return "module" }

type Sequence struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ModuleID int64  `gorm:"not null;index" json:"module_id"`
	Title    string `gorm:"not null" json:"title"`
	Position int    `gorm:"not null;default:0" json:"position"`
}

func (Sequence) TableName() string { return "sequence" }

type Block struct {
	ID         int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	SequenceID int64  `gorm:"not null;index" json:"sequence_id"`
	Title      string `gorm:"not null" json:"title"`
	Body       string `gorm:"type:text" json:"body"`
	Position   int    `gorm:"not null;default:0" json:"position"`
	Visible    bool   `gorm:"not null;default:true" json:"visible"`
	Required   bool   `gorm:"not null;default:true" json:"required"`
}

func (Block) TableName() string { return "block" }

// Counts toward sequence completion.
func (b *Block) Gates() bool { return b != nil && b.Visible && b.Required }

type Quiz struct {
	ID         int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	SequenceID *int64 `gorm:"index" json:"sequence_id,omitempty"`
	Title      string `json:"title"`
}

func (Quiz) TableName() string { return "quiz" }

type Question struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	QuizID    *int64 `gorm:"index" json:"quiz_id,omitempty"`
	BlockID   *int64 `gorm:"index" json:"block_id,omitempty"`
	Statement string `gorm:"type:text;not null" json:"statement"`
	Concepts  string `gorm:"column:concepts" json:"concepts"`
}

func (Question) TableName() string { return "question" }
