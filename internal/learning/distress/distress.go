// Package distress holds the stateless predicates that flag a learner as
// stuck, failing or fatigued. Findings are inputs to recommendation
// materialization and are never stored.
package distress

import (
	"sort"
	"time"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
)

const FatigueWindow = time.Hour

type Thresholds struct {
	StuckSeconds   float64 // T_STUCK
	FailureCount   int     // F_STUCK
	FatigueSeconds float64 // T_FATIGUE
}

func DefaultThresholds() Thresholds {
	return Thresholds{StuckSeconds: 900, FailureCount: 2, FatigueSeconds: 3600}
}

type Kind string

const (
	KindStuck   Kind = "stuck_on_block"
	KindFragile Kind = "fragile_question"
	KindFatigue Kind = "fatigue"
)

type Finding struct {
	Kind       Kind
	LearnerID  int64
	BlockID    int64 // stuck
	QuestionID int64 // fragile
	Seconds    float64
	Failures   int
}

func StuckOnBlock(a *types.BlockAnalytics, b *types.Block, th Thresholds) bool {
	return a != nil && b != nil && b.Visible && a.TimeOnBlock >= th.StuckSeconds
}

func FragileQuestion(q *types.QuestionAnalytics, th Thresholds) bool {
	return q != nil && q.Failures >= th.FailureCount
}

// RecentActivity sums time on blocks whose last visit falls in the hour before now.
func RecentActivity(rows []*types.BlockAnalytics, now time.Time) float64 {
	cutoff := now.Add(-FatigueWindow)
	var total float64
	for _, a := range rows {
		if a == nil || a.LastVisitAt.Before(cutoff) || a.LastVisitAt.After(now) {
			continue
		}
		total += a.TimeOnBlock
	}
	return total
}

func Fatigue(rows []*types.BlockAnalytics, now time.Time, th Thresholds) bool {
	return RecentActivity(rows, now) > th.FatigueSeconds
}

// Input is everything the detectors look at for one learner.
type Input struct {
	LearnerID int64
	Blocks    []*types.BlockAnalytics
	Questions []*types.QuestionAnalytics
	// Catalog rows for the blocks referenced by Blocks.
	BlockIndex map[int64]*types.Block
}

// Detect runs every predicate and returns findings in a stable order:
// stuck blocks, fragile questions, then fatigue.
func Detect(in Input, now time.Time, th Thresholds) []Finding {
	var out []Finding
	blocks := append([]*types.BlockAnalytics(nil), in.Blocks...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].BlockID < blocks[j].BlockID })
	for _, a := range blocks {
		if StuckOnBlock(a, in.BlockIndex[a.BlockID], th) {
			out = append(out, Finding{Kind: KindStuck, LearnerID: in.LearnerID, BlockID: a.BlockID, Seconds: a.TimeOnBlock})
		}
	}
	questions := append([]*types.QuestionAnalytics(nil), in.Questions...)
	sort.Slice(questions, func(i, j int) bool { return questions[i].QuestionID < questions[j].QuestionID })
	for _, q := range questions {
		if FragileQuestion(q, th) {
			out = append(out, Finding{Kind: KindFragile, LearnerID: in.LearnerID, QuestionID: q.QuestionID, Failures: q.Failures})
		}
	}
	if total := RecentActivity(in.Blocks, now); total > th.FatigueSeconds {
		out = append(out, Finding{Kind: KindFatigue, LearnerID: in.LearnerID, Seconds: total})
	}
	return out
}
