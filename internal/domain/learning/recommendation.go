package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RecommendationKind string

const (
	RecReviewBlock        RecommendationKind = "review-block"
	RecExtraQuiz          RecommendationKind = "extra-quiz"
	RecPause              RecommendationKind = "pause"
	RecChangeApproach     RecommendationKind = "change-approach"
	RecAlternativeContent RecommendationKind = "alternative-content"
)

func (k RecommendationKind) Valid() bool {
	switch k {
	case RecReviewBlock, RecExtraQuiz, RecPause, RecChangeApproach, RecAlternativeContent:
		return true
	}
	return false
}

// DefaultPriority is 1 (highest) .. 5.
func (k RecommendationKind) DefaultPriority() int {
	switch k {
	case RecReviewBlock:
		return 1
	case RecChangeApproach, RecAlternativeContent, RecExtraQuiz:
		return 2
	case RecPause:
		return 3
	}
	return 5
}

func (k RecommendationKind) DefaultTTL() time.Duration {
	switch k {
	case RecChangeApproach, RecAlternativeContent:
		return 7 * 24 * time.Hour
	case RecReviewBlock, RecExtraQuiz:
		return 5 * 24 * time.Hour
	case RecPause:
		return 2 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// Recommendation is a learner-facing nudge.
//
// Active is true until the row is seen, followed or swept as expired. The
// partial unique index ux_recommendation_active on (learner_id, kind,
// target_key) WHERE active keeps at most one live row per target. TargetKey is
// the target block id, or 0 when the recommendation has no block.
type Recommendation struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID          int64              `gorm:"not null;index" json:"learner_id"`
	Kind               RecommendationKind `gorm:"column:kind;not null" json:"kind"`
	Message            string             `gorm:"type:text;not null" json:"message"`
	TargetBlockID      *int64             `gorm:"column:target_block_id" json:"target_block_id,omitempty"`
	TargetKey          int64              `gorm:"column:target_key;not null;default:0" json:"-"`
	GeneratedContentID *uuid.UUID         `gorm:"type:uuid;column:generated_content_id" json:"generated_content_id,omitempty"`
	Priority           int                `gorm:"not null;default:3" json:"priority"`
	Seen               bool               `gorm:"not null;default:false" json:"seen"`
	Followed           bool               `gorm:"not null;default:false" json:"followed"`
	Active             bool               `gorm:"not null;default:true;index" json:"-"`
	CreatedAt          time.Time          `gorm:"not null;index" json:"created_at"`
	SeenAt             *time.Time         `gorm:"column:seen_at" json:"seen_at,omitempty"`
	ExpiresAt          *time.Time         `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
}

func (Recommendation) TableName() string { return "recommendation" }

func (r *Recommendation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (r *Recommendation) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// TargetKeyFor maps an optional block to the dedup key column.
func TargetKeyFor(blockID *int64) int64 {
	if blockID == nil {
		return 0
	}
	return *blockID
}
