package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"changegate/internal/change/models"
	"changegate/pkg/platform/sentinel"
)

// Cancel withdraws a pending token. Every registry answer maps to Cancelled;
// the reason tells a declined change apart from one already resolved or
// never issued.
func (s *Service) Cancel(ctx context.Context, token string) models.Outcome {
	start := s.clock()
	ctx, span := s.tracer.Start(ctx, "change.cancel")
	defer span.End()

	var out models.Outcome
	err := s.registry.Cancel(ctx, token)
	switch {
	case err == nil:
		out = models.Cancelled(models.ReasonUserDeclined)
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		out = models.Cancelled(models.ReasonAlreadyResolved)
	case errors.Is(err, sentinel.ErrNotFound):
		out = models.Cancelled(models.ReasonTokenNotFound)
	default:
		out = models.UnexpectedError("", "confirmation registry unavailable", err)
	}

	span.SetAttributes(
		attribute.String("change.outcome", string(out.Kind)),
		attribute.String("change.reason", out.Reason),
	)
	markSpan(span, out)
	s.observeOutcome("", out, s.clock().Sub(start))
	s.logOutcome(ctx, models.ChangeRequest{}, out)
	return out
}
