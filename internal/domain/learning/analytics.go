package learning

import (
	"time"

	"gorm.io/datatypes"
)

// BlockAnalytics is the rolling per-(learner, block) telemetry fold.
type BlockAnalytics struct {
	ID                  int64          `gorm:"primaryKey" json:"id"`
	LearnerID           int64          `gorm:"not null;uniqueIndex:ux_block_analytics_pair,priority:1" json:"learner_id"`
	BlockID             int64          `gorm:"not null;uniqueIndex:ux_block_analytics_pair,priority:2;index" json:"block_id"`
	TimeOnBlock         float64        `gorm:"column:time_on_block;not null;default:0" json:"time_on_block"`
	Visits              int            `gorm:"not null;default:0" json:"visits"`
	ScrollDepth         float64        `gorm:"column:scroll_depth;not null;default:0" json:"scroll_depth"`
	Interactions        datatypes.JSON `gorm:"column:interactions" json:"interactions"`
	ComprehensionScore  *float64       `gorm:"column:comprehension_score" json:"comprehension_score,omitempty"`
	PerceivedDifficulty *int           `gorm:"column:perceived_difficulty" json:"perceived_difficulty,omitempty"`
	FirstVisitAt        time.Time      `gorm:"column:first_visit_at;not null" json:"first_visit_at"`
	LastVisitAt         time.Time      `gorm:"column:last_visit_at;not null;index" json:"last_visit_at"`
}

func (BlockAnalytics) TableName() string { return "block_analytics" }

// FrequentErrorsCap bounds QuestionAnalytics.FrequentErrors.
const FrequentErrorsCap = 32

// QuestionAnalytics is the rolling per-(learner, question) attempt fold.
type QuestionAnalytics struct {
	ID               int64                       `gorm:"primaryKey" json:"id"`
	LearnerID        int64                       `gorm:"not null;uniqueIndex:ux_question_analytics_pair,priority:1" json:"learner_id"`
	QuestionID       int64                       `gorm:"not null;uniqueIndex:ux_question_analytics_pair,priority:2;index" json:"question_id"`
	Attempts         int                         `gorm:"not null;default:0" json:"attempts"`
	Failures         int                         `gorm:"not null;default:0" json:"failures"`
	MeanResponseTime float64                     `gorm:"column:mean_response_time;not null;default:0" json:"mean_response_time"`
	FrequentErrors   datatypes.JSONSlice[string] `gorm:"column:frequent_errors" json:"frequent_errors"`
	FragileConcepts  datatypes.JSONSlice[string] `gorm:"column:fragile_concepts" json:"fragile_concepts"`
	LastAttemptAt    time.Time                   `gorm:"column:last_attempt_at;not null" json:"last_attempt_at"`
}

func (QuestionAnalytics) TableName() string { return "question_analytics" }
