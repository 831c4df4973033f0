package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type GenerationKind string

const (
	GenerationRemediation    GenerationKind = "remediation"
	GenerationDeepening      GenerationKind = "deepening"
	GenerationSimplification GenerationKind = "simplification"
	GenerationAlternative    GenerationKind = "alternative"
)

func (k GenerationKind) Valid() bool {
	switch k {
	case GenerationRemediation, GenerationDeepening, GenerationSimplification, GenerationAlternative:
		return true
	}
	return false
}

// GeneratedContent is an LLM- or template-produced artifact. Body fields are
// written once; only the consultation/feedback fields change afterwards.
type GeneratedContent struct {
	ID                uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID         int64                       `gorm:"not null;index" json:"learner_id"`
	BlockID           int64                       `gorm:"not null;index" json:"block_id"`
	QuestionID        *int64                      `gorm:"index" json:"question_id,omitempty"`
	Kind              GenerationKind              `gorm:"column:kind;not null;index" json:"kind"`
	Title             string                      `gorm:"not null" json:"title"`
	BodyHTML          string                      `gorm:"column:body_html;type:text;not null" json:"body_html"`
	BodyMarkdown      *string                     `gorm:"column:body_markdown;type:text" json:"body_markdown,omitempty"`
	TargetConcepts    datatypes.JSONSlice[string] `gorm:"column:target_concepts" json:"target_concepts"`
	Difficulty        int                         `gorm:"not null;default:3" json:"difficulty"`
	Generator         string                      `gorm:"not null" json:"generator"`
	SourceJobID       *uuid.UUID                  `gorm:"type:uuid;column:source_job_id;uniqueIndex" json:"source_job_id,omitempty"`
	Consulted         bool                        `gorm:"not null;default:false" json:"consulted"`
	Helpful           *bool                       `gorm:"column:helpful" json:"helpful"`
	ConsultationCount int                         `gorm:"column:consultation_count;not null;default:0" json:"consultation_count"`
	CreatedAt         time.Time                   `gorm:"not null;index" json:"created_at"`
	LastConsultedAt   *time.Time                  `gorm:"column:last_consulted_at" json:"last_consulted_at,omitempty"`
}

func (GeneratedContent) TableName() string { return "generated_content" }

func (c *GeneratedContent) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
