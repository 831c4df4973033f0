// Package bus publishes learner-facing events to the external notification
// channel.
package bus

import (
	"context"
	"sync"
	"time"
)

const (
	EventRecommendationCreated = "recommendation.created"
	EventContentReady          = "content.ready"
)

type Event struct {
	Type      string         `json:"type"`
	LearnerID int64          `json:"learner_id"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// MemoryBus keeps published events in memory. It backs local runs without
// Redis and tests.
type MemoryBus struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryBus() *MemoryBus { return &MemoryBus{} }

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *MemoryBus) Close() error { return nil }

func (b *MemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

func (b *MemoryBus) Count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}
