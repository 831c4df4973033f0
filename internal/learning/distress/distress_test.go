package distress

import (
	"testing"
	"time"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
)

func TestStuckOnBlock(t *testing.T) {
	th := DefaultThresholds()
	visible := &types.Block{ID: 7, Visible: true}
	hidden := &types.Block{ID: 7, Visible: false}

	cases := []struct {
		name string
		secs float64
		b    *types.Block
		want bool
	}{
		{"below", 899, visible, false},
		{"at threshold", 900, visible, true},
		{"above", 950, visible, true},
		{"hidden", 5000, hidden, false},
		{"unknown block", 5000, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &types.BlockAnalytics{BlockID: 7, TimeOnBlock: tc.secs}
			if got := StuckOnBlock(a, tc.b, th); got != tc.want {
				t.Fatalf("want=%v got=%v", tc.want, got)
			}
		})
	}
}

func TestFragileQuestion(t *testing.T) {
	th := DefaultThresholds()
	if FragileQuestion(&types.QuestionAnalytics{Failures: 1}, th) {
		t.Fatalf("1 failure should not be fragile")
	}
	if !FragileQuestion(&types.QuestionAnalytics{Failures: 2}, th) {
		t.Fatalf("2 failures should be fragile")
	}
}

func TestFatigueUsesLastHourOnly(t *testing.T) {
	th := DefaultThresholds()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := []*types.BlockAnalytics{
		{BlockID: 1, TimeOnBlock: 2000, LastVisitAt: now.Add(-10 * time.Minute)},
		{BlockID: 2, TimeOnBlock: 1700, LastVisitAt: now.Add(-59 * time.Minute)},
		{BlockID: 3, TimeOnBlock: 9000, LastVisitAt: now.Add(-2 * time.Hour)},
	}
	if got := RecentActivity(rows, now); got != 3700 {
		t.Fatalf("RecentActivity: want=3700 got=%v", got)
	}
	if !Fatigue(rows, now, th) {
		t.Fatalf("Fatigue: want true")
	}
	if Fatigue(rows[:1], now, th) {
		t.Fatalf("Fatigue with 2000s: want false")
	}
	// Exactly at the threshold is not fatigue.
	if Fatigue([]*types.BlockAnalytics{{TimeOnBlock: 3600, LastVisitAt: now}}, now, th) {
		t.Fatalf("Fatigue at 3600s: want false")
	}
}

func TestDetectOrder(t *testing.T) {
	th := DefaultThresholds()
	now := time.Now().UTC()
	in := Input{
		LearnerID: 1,
		Blocks: []*types.BlockAnalytics{
			{BlockID: 9, TimeOnBlock: 1000, LastVisitAt: now},
			{BlockID: 3, TimeOnBlock: 2800, LastVisitAt: now},
		},
		Questions: []*types.QuestionAnalytics{
			{QuestionID: 42, Failures: 3, Attempts: 3},
			{QuestionID: 41, Failures: 0, Attempts: 1},
		},
		BlockIndex: map[int64]*types.Block{
			3: {ID: 3, Visible: true},
			9: {ID: 9, Visible: true},
		},
	}
	got := Detect(in, now, th)
	wantKinds := []Kind{KindStuck, KindStuck, KindFragile, KindFatigue}
	if len(got) != len(wantKinds) {
		t.Fatalf("Detect: want %d findings, got %+v", len(wantKinds), got)
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Fatalf("finding %d: want=%s got=%s", i, k, got[i].Kind)
		}
	}
	if got[0].BlockID != 3 || got[2].QuestionID != 42 {
		t.Fatalf("Detect: unexpected targets %+v", got)
	}
}
