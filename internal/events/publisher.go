package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/store"
)

// EventLog is the slice of store.Store the publisher needs.
type EventLog interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Publisher appends events to the durable per-execution log before fanning
// them out to live subscribers. Append assigns the monotonic sequence; the
// fan-out carries it so subscribers observe the same order a later
// ListEvents replay would.
type Publisher struct {
	log    EventLog
	hub    Hub
	logger *slog.Logger
}

// NewPublisher creates a Publisher. hub may be nil when no live streaming
// is wanted.
func NewPublisher(log EventLog, hub Hub, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{log: log, hub: hub, logger: logger}
}

// Emit records and broadcasts a single event. A persistence failure is
// returned to the caller; a fan-out failure is only logged, since the
// durable log already holds the truth.
func (p *Publisher) Emit(ctx context.Context, ev StreamEvent) error {
	var payload json.RawMessage
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err == nil {
			payload = b
		}
	}

	rec := &store.Event{
		ExecutionID: ev.ExecutionID,
		NodeID:      ev.NodeID,
		Type:        ev.EventType,
		Payload:     payload,
	}
	if err := p.log.AppendEvent(ctx, rec); err != nil {
		return err
	}
	ev.Sequence = rec.Sequence

	if p.hub != nil {
		if err := p.hub.Publish(ctx, ev); err != nil {
			p.logger.WarnContext(ctx, "event fan-out failed",
				slog.String("execution_id", ev.ExecutionID),
				slog.String("event_type", ev.EventType),
				slog.Any("error", err))
		}
	}
	return nil
}
