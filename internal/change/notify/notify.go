// Package notify delivers change notifications. Sinks compose: the executor
// usually talks to a Split whose routine side is an AsyncSink draining into a
// Multi of the log and outbox sinks, and whose failure side writes that Multi
// directly.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"changegate/internal/change/models"
)

// Sink receives notifications.
type Sink interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogSink writes each notification as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, n models.Notification) error {
	level := slog.LevelInfo
	if n.Status == models.NotificationFailed {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "change notification",
		"kind", n.Kind,
		"entity_id", n.EntityID,
		"status", n.Status,
		"outcome", n.Outcome,
		"operation", n.Operation,
		"actor_id", n.ActorID,
		"idempotency_key", n.IdempotencyKey,
	)
	return nil
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Split writes failed notifications through Failures before returning and
// hands everything else to Routine. A nil Failures sends all notifications
// to Routine.
type Split struct {
	Routine  Sink
	Failures Sink
}

func (s Split) Notify(ctx context.Context, n models.Notification) error {
	if n.Status == models.NotificationFailed && s.Failures != nil {
		return s.Failures.Notify(ctx, n)
	}
	return s.Routine.Notify(ctx, n)
}
