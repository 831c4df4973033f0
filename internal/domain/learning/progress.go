package learning

import "time"

// Progress rows share one shape: CompletedAt is non-nil iff Complete.

type BlockProgress struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	LearnerID   int64      `gorm:"not null;uniqueIndex:ux_block_progress_pair,priority:1" json:"learner_id"`
	BlockID     int64      `gorm:"not null;uniqueIndex:ux_block_progress_pair,priority:2" json:"block_id"`
	Complete    bool       `gorm:"not null;default:false" json:"complete"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (BlockProgress) TableName() string { return "block_progress" }

type SequenceProgress struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	LearnerID   int64      `gorm:"not null;uniqueIndex:ux_sequence_progress_pair,priority:1" json:"learner_id"`
	SequenceID  int64      `gorm:"not null;uniqueIndex:ux_sequence_progress_pair,priority:2" json:"sequence_id"`
	Complete    bool       `gorm:"not null;default:false" json:"complete"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (SequenceProgress) TableName() string { return "sequence_progress" }

type ModuleProgress struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	LearnerID   int64      `gorm:"not null;uniqueIndex:ux_module_progress_pair,priority:1" json:"learner_id"`
	ModuleID    int64      `gorm:"not null;uniqueIndex:ux_module_progress_pair,priority:2" json:"module_id"`
	Complete    bool       `gorm:"not null;default:false" json:"complete"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (ModuleProgress) TableName() string { return "module_progress" }

type CourseProgress struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	LearnerID   int64      `gorm:"not null;uniqueIndex:ux_course_progress_pair,priority:1" json:"learner_id"`
	CourseID    int64      `gorm:"not null;uniqueIndex:ux_course_progress_pair,priority:2" json:"course_id"`
	Complete    bool       `gorm:"not null;default:false" json:"complete"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (CourseProgress) TableName() string { return "course_progress" }

// ProgressLevel names the cascade levels above a block.
type ProgressLevel string

const (
	LevelBlock    ProgressLevel = "block"
	LevelSequence ProgressLevel = "sequence"
	LevelModule   ProgressLevel = "module"
	LevelCourse   ProgressLevel = "course"
)

// ProgressState is the level-agnostic view the cascade folds over.
type ProgressState struct {
	Complete    bool
	CompletedAt *time.Time
}

// Transition applies the completed_at rule: set on false->true, cleared on
// true->false, untouched otherwise.
func (s ProgressState) Transition(complete bool, now time.Time) (ProgressState, bool) {
	switch {
	case complete && !s.Complete:
		t := now
		return ProgressState{Complete: true, CompletedAt: &t}, true
	case !complete && s.Complete:
		return ProgressState{Complete: false, CompletedAt: nil}, true
	}
	return s, false
}
