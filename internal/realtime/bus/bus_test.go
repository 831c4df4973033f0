package bus

import (
	"context"
	"testing"

	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

func TestMemoryBus(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	_ = b.Publish(ctx, Event{Type: EventRecommendationCreated, LearnerID: 1})
	_ = b.Publish(ctx, Event{Type: EventContentReady, LearnerID: 1})
	_ = b.Publish(ctx, Event{Type: EventRecommendationCreated, LearnerID: 2})
	if got := b.Count(EventRecommendationCreated); got != 2 {
		t.Fatalf("Count: want=2 got=%d", got)
	}
	if got := len(b.Events()); got != 3 {
		t.Fatalf("Events: want=3 got=%d", got)
	}
}

func TestNewRedisBusRequiresAddr(t *testing.T) {
	if _, err := NewRedisBus(RedisConfig{}, logger.Nop()); err == nil {
		t.Fatalf("NewRedisBus without addr: want error")
	}
}
