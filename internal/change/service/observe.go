package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"changegate/internal/change/models"
	"changegate/pkg/platform/attrs"
	"changegate/pkg/requestcontext"
)

const unknownKind = "unknown"

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	var eventAttrs []attribute.KeyValue
	for _, key := range []string{"entity_id", "actor_id", "reason"} {
		if val := attrs.ExtractString(attributes, key); val != "" {
			eventAttrs = append(eventAttrs, attribute.String("change."+key, val))
		}
	}
	span.AddEvent(event, trace.WithAttributes(eventAttrs...))
}

// logOutcome records every terminal outcome. Diverged state is logged at
// ERROR so it pages; the raw cause only ever reaches the log.
func (s *Service) logOutcome(ctx context.Context, req models.ChangeRequest, out models.Outcome) {
	args := []any{
		"outcome", out.Kind,
		"kind", req.Kind,
		"entity_id", req.EntityID,
		"actor_id", req.ActorID,
	}
	if out.Reason != "" {
		args = append(args, "reason", out.Reason)
	}
	if cause := out.Cause(); cause != nil {
		args = append(args, "error", cause)
	}

	switch out.Kind {
	case models.OutcomeUnexpectedError:
		if requestID := requestcontext.RequestID(ctx); requestID != "" {
			args = append(args, "request_id", requestID)
		}
		args = append(args, "detail", out.Detail, "state_diverged", out.StateDiverged)
		s.logger.ErrorContext(ctx, "change failed unexpectedly", args...)
	case models.OutcomeRemoteSyncFailed:
		s.logAudit(ctx, "change_compensated", append(args, "retries_exhausted", out.RetriesExhausted)...)
	case models.OutcomeCommitted:
		s.logAudit(ctx, "change_committed", args...)
	case models.OutcomeCancelled:
		s.logAudit(ctx, "change_cancelled", "reason", out.Reason, "actor_id", requestcontext.ActorID(ctx))
	default:
		s.logAudit(ctx, "change_not_executed", args...)
	}
}

// notify delivers n on a detached, bounded context. Errors and panics from
// the sink are logged and never alter the outcome.
func (s *Service) notify(ctx context.Context, req models.ChangeRequest, out models.Outcome) {
	if s.notifier == nil {
		return
	}
	status := models.NotificationFailed
	if out.IsCommitted() {
		status = models.NotificationCommitted
	}
	n := models.Notification{
		Kind:           req.Kind,
		EntityID:       req.EntityID,
		Status:         status,
		Outcome:        out.Kind,
		Operation:      req.Operation,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        req.ActorID,
		RequestID:      requestcontext.RequestID(ctx),
		OccurredAt:     s.clock(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "notification sink panicked",
				"entity_id", req.EntityID,
				"status", status,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			"entity_id", req.EntityID,
			"status", status,
			"error", err,
		)
	}
}

func markSpan(span trace.Span, out models.Outcome) {
	switch out.Kind {
	case models.OutcomeCommitted, models.OutcomeCancelled:
		span.SetStatus(codes.Ok, "")
	default:
		if cause := out.Cause(); cause != nil {
			span.RecordError(cause)
		}
		span.SetStatus(codes.Error, string(out.Kind))
	}
}

func kindLabel(kind models.EntityKind) string {
	if kind == "" {
		return unknownKind
	}
	return string(kind)
}

func (s *Service) incProposal(kind models.EntityKind, result string) {
	if s.metrics != nil {
		s.metrics.IncProposal(kindLabel(kind), result)
	}
}

func (s *Service) incSyncAttempt(kind models.EntityKind, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case models.IsRejected(err):
		result = "rejected"
	default:
		result = "transient"
	}
	s.metrics.IncSyncAttempt(kindLabel(kind), result)
}

func (s *Service) incCompensationFailure(kind models.EntityKind) {
	if s.metrics != nil {
		s.metrics.IncCompensationFailure(kindLabel(kind))
	}
}

func (s *Service) observeOutcome(kind models.EntityKind, out models.Outcome, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveOutcome(kindLabel(kind), string(out.Kind), elapsed)
	}
}
