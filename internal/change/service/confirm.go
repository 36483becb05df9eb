package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"changegate/internal/change/models"
	"changegate/internal/change/retry"
	"changegate/pkg/platform/sentinel"
)

// Confirm redeems token and executes its change. It always returns exactly
// one Outcome. Once the token is redeemed the change runs to completion even
// if ctx is cancelled, and no other change to the entity can be proposed
// until it has committed or been compensated.
func (s *Service) Confirm(ctx context.Context, token string) models.Outcome {
	start := s.clock()
	ctx, span := s.tracer.Start(ctx, "change.confirm")
	defer span.End()

	req, err := s.registry.Redeem(ctx, token)
	if err != nil {
		return s.finish(ctx, span, models.ChangeRequest{}, start, redeemOutcome(err))
	}
	defer s.release(context.WithoutCancel(ctx), req, token)
	span.SetAttributes(
		attribute.String("change.kind", string(req.Kind)),
		attribute.String("change.entity_id", req.EntityID),
		attribute.String("change.operation", string(req.Operation)),
	)

	binding, ok := s.bindings[req.Kind]
	if !ok {
		return s.finish(ctx, span, req, start, models.UnexpectedError(req.EntityID,
			"no binding for entity kind", fmt.Errorf("entity kind %q", req.Kind)))
	}

	ctx = context.WithoutCancel(ctx)

	staged, err := s.stage(ctx, binding, req)
	if err != nil {
		return s.finish(ctx, span, req, start, models.UnexpectedError(req.EntityID, "failed to stage change locally", err))
	}

	res := s.sync(ctx, binding, req, staged.Next)
	span.SetAttributes(attribute.Int("change.sync_attempts", res.Attempts))
	if res.Succeeded() {
		out := models.Committed(req.EntityID)
		s.notify(ctx, req, out)
		return s.finish(ctx, span, req, start, out)
	}

	out := s.compensate(ctx, binding, req, staged, res)
	s.notify(ctx, req, out)
	return s.finish(ctx, span, req, start, out)
}

func redeemOutcome(err error) models.Outcome {
	switch {
	case errors.Is(err, sentinel.ErrExpired):
		return models.ConfirmationExpired(models.ReasonTokenExpired, err)
	case errors.Is(err, sentinel.ErrNotFound):
		return models.ConfirmationExpired(models.ReasonTokenNotFound, err)
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return models.ConfirmationExpired(models.ReasonTokenAlreadyConsumed, err)
	default:
		return models.UnexpectedError("", "confirmation registry unavailable", err)
	}
}

// stage reads the prior state, derives the next one and applies it. Nothing
// is written when it fails.
func (s *Service) stage(ctx context.Context, b Binding, req models.ChangeRequest) (models.StagedChange, error) {
	prior, err := b.Store.Get(ctx, req.Kind, req.EntityID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		prior = models.Absent(req.Kind, req.EntityID)
	case err != nil:
		return models.StagedChange{}, fmt.Errorf("read prior state: %w", err)
	}

	next, err := b.Deriver.Derive(prior.Clone(), req.Clone())
	if err != nil {
		return models.StagedChange{}, fmt.Errorf("derive next state: %w", err)
	}
	if err := b.Store.Apply(ctx, next); err != nil {
		return models.StagedChange{}, fmt.Errorf("apply next state: %w", err)
	}
	return models.StagedChange{Prior: prior, Next: next}, nil
}

// sync pushes next under the retry policy. Every attempt carries the same
// idempotency key.
func (s *Service) sync(ctx context.Context, b Binding, req models.ChangeRequest, next models.EntityState) retry.Result {
	return s.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		ack, err := b.Gateway.Push(ctx, req.Kind, req.EntityID, next.Clone(), req.IdempotencyKey)
		s.incSyncAttempt(req.Kind, err)
		if err != nil {
			s.logger.WarnContext(ctx, "remote sync attempt failed",
				"kind", req.Kind,
				"entity_id", req.EntityID,
				"attempt", attempt,
				"rejected", models.IsRejected(err),
				"error", err,
			)
			return err
		}
		s.logger.DebugContext(ctx, "remote sync acknowledged",
			"kind", req.Kind,
			"entity_id", req.EntityID,
			"attempt", attempt,
			"remote_version", ack.RemoteVersion,
		)
		return nil
	})
}

// compensate restores the prior local state after a failed sync. A failed
// restore is reported with both causes and flagged as diverged.
func (s *Service) compensate(ctx context.Context, b Binding, req models.ChangeRequest, staged models.StagedChange, res retry.Result) models.Outcome {
	if err := b.Store.Apply(ctx, staged.Undo()); err != nil {
		s.incCompensationFailure(req.Kind)
		return models.UnexpectedError(req.EntityID,
			"compensation failed; local state may differ from the remote system",
			errors.Join(res.Err, fmt.Errorf("compensate: %w", err)),
		).Diverged()
	}
	return models.RemoteSyncFailed(req.EntityID, res.Exhausted, res.Err)
}

func (s *Service) release(ctx context.Context, req models.ChangeRequest, token string) {
	if err := s.registry.Release(ctx, token); err != nil {
		s.logger.ErrorContext(ctx, "failed to release entity after confirm",
			"kind", req.Kind,
			"entity_id", req.EntityID,
			"error", err,
		)
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, req models.ChangeRequest, start time.Time, out models.Outcome) models.Outcome {
	span.SetAttributes(attribute.String("change.outcome", string(out.Kind)))
	if out.StateDiverged {
		span.SetAttributes(attribute.Bool("change.state_diverged", true))
	}
	markSpan(span, out)
	s.observeOutcome(req.Kind, out, s.clock().Sub(start))
	s.logOutcome(ctx, req, out)
	return out
}
