package services

import (
	"context"
	"time"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
	"github.com/yungbote/neurobridge-ale/internal/realtime/bus"
)

// Notifier fans engine events out to the external notification channel.
// Delivery is best effort; failures are logged and never fail the caller.
type Notifier interface {
	RecommendationCreated(ctx context.Context, rec *types.Recommendation)
	ContentReady(ctx context.Context, content *types.GeneratedContent, rec *types.Recommendation)
}

type notifier struct {
	bus bus.Bus
	log *logger.Logger
}

func NewNotifier(b bus.Bus, baseLog *logger.Logger) Notifier {
	return &notifier{bus: b, log: baseLog.With("service", "Notifier")}
}

func (n *notifier) RecommendationCreated(ctx context.Context, rec *types.Recommendation) {
	if n == nil || n.bus == nil || rec == nil {
		return
	}
	n.publish(ctx, bus.Event{
		Type:      bus.EventRecommendationCreated,
		LearnerID: rec.LearnerID,
		Data: map[string]any{
			"recommendation_id": rec.ID.String(),
			"kind":              string(rec.Kind),
			"priority":          rec.Priority,
		},
	})
}

func (n *notifier) ContentReady(ctx context.Context, content *types.GeneratedContent, rec *types.Recommendation) {
	if n == nil || n.bus == nil || content == nil {
		return
	}
	data := map[string]any{
		"generated_content_id": content.ID.String(),
		"kind":                 string(content.Kind),
		"block_id":             content.BlockID,
	}
	if rec != nil {
		data["recommendation_id"] = rec.ID.String()
	}
	n.publish(ctx, bus.Event{
		Type:      bus.EventContentReady,
		LearnerID: content.LearnerID,
		Data:      data,
	})
}

func (n *notifier) publish(ctx context.Context, ev bus.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := n.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		n.log.Warn("Notification publish failed", "event", ev.Type, "learner_id", ev.LearnerID, "error", err)
	}
}
