// Package activity is the activity feed: events from the engines are
// persisted for the audit trail and pushed to live subscribers.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/legends-of-valor/internal/domain"
)

// EventStore persists activity events
type EventStore interface {
	RecordEvents(ctx context.Context, events []domain.ActivityEvent) error
	ListEvents(ctx context.Context, topic string, limit int) ([]domain.ActivityEvent, error)
}

// Broadcaster pushes events to live subscribers
type Broadcaster interface {
	BroadcastEvent(event domain.ActivityEvent)
}

// Recorder writes events to the store and the broadcaster
type Recorder struct {
	store       EventStore
	broadcaster Broadcaster
	logger      *slog.Logger
	timeout     time.Duration
}

// NewRecorder creates a new activity recorder
func NewRecorder(store EventStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		logger:  logger,
		timeout: 2 * time.Second,
	}
}

// SetBroadcaster sets the live broadcaster
func (r *Recorder) SetBroadcaster(b Broadcaster) {
	r.broadcaster = b
}

// Record stores and broadcasts one event. Failures are logged and never
// reach the engine operation that produced the event.
func (r *Recorder) Record(ctx context.Context, event domain.ActivityEvent) {
	// the caller's request may finish before the write does
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.RecordBatch(ctx, []domain.ActivityEvent{event}); err != nil {
		r.logger.Warn("failed to record activity", "type", event.Type, "topic", event.Topic, "error", err)
	}
}

// RecordBatch stores a batch of events, then broadcasts them in order
func (r *Recorder) RecordBatch(ctx context.Context, events []domain.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := r.store.RecordEvents(ctx, events)
	if r.broadcaster != nil {
		for _, e := range events {
			r.broadcaster.BroadcastEvent(e)
		}
	}
	if err != nil {
		return fmt.Errorf("storing %d events: %w", len(events), err)
	}
	return nil
}

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

// Feed returns the latest events of one topic, newest first
func (r *Recorder) Feed(ctx context.Context, topic string, limit int) ([]domain.ActivityEvent, error) {
	if topic == "" {
		return nil, domain.ErrInvalidRequest
	}
	switch {
	case limit <= 0:
		limit = defaultFeedLimit
	case limit > maxFeedLimit:
		limit = maxFeedLimit
	}
	return r.store.ListEvents(ctx, topic, limit)
}
