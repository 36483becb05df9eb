package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"changegate/internal/change/models"
	"changegate/internal/platform/config"
	dErrors "changegate/pkg/domain-errors"
	"changegate/pkg/platform/sentinel"
	"changegate/pkg/requestcontext"
)

// Propose validates req and issues a confirmation token for it. Validation
// failures return a *models.ValidationErrors coded CodeValidation; a pending
// change on the same entity is CodeConflict.
func (s *Service) Propose(ctx context.Context, req models.ChangeRequest) (*models.ConfirmationToken, error) {
	ctx, span := s.tracer.Start(ctx, "change.propose", trace.WithAttributes(
		attribute.String("change.kind", string(req.Kind)),
		attribute.String("change.entity_id", req.EntityID),
		attribute.String("change.operation", string(req.Operation)),
	))
	defer span.End()

	req = req.Clone()
	req.EntityID = strings.TrimSpace(req.EntityID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.ActorID == "" {
		req.ActorID = requestcontext.ActorID(ctx)
	}
	req.RequestedAt = s.clock()

	binding, problems := s.checkRequest(req)
	if len(problems) == 0 && binding.Validator != nil {
		problems = binding.Validator.Validate(ctx, req)
	}
	if verrs := models.NewValidationErrors(problems); verrs != nil {
		s.incProposal(req.Kind, "invalid")
		span.SetStatus(codes.Error, "validation failed")
		return nil, dErrors.Wrap(verrs, dErrors.CodeValidation, verrs.Error())
	}

	if s.keyStrategy == config.IdempotencyGenerated {
		req.IdempotencyKey = uuid.NewString()
	}

	tok, err := s.registry.Propose(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "propose failed")
		if errors.Is(err, sentinel.ErrConflict) {
			s.incProposal(req.Kind, "conflict")
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "a change is already pending for this entity")
		}
		s.incProposal(req.Kind, "error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue confirmation token")
	}

	s.incProposal(req.Kind, "issued")
	s.logAudit(ctx, "change_proposed",
		"kind", req.Kind,
		"entity_id", req.EntityID,
		"operation", req.Operation,
		"actor_id", req.ActorID,
		"expires_at", tok.ExpiresAt,
	)
	return tok, nil
}

// checkRequest applies the structural rules shared by every kind.
func (s *Service) checkRequest(req models.ChangeRequest) (Binding, []string) {
	var problems []string
	binding, ok := s.bindings[req.Kind]
	if !ok {
		problems = append(problems, fmt.Sprintf("unknown entity kind %q", req.Kind))
	}
	if req.EntityID == "" {
		problems = append(problems, "entity_id is required")
	}
	if !req.Operation.IsValid() {
		problems = append(problems, fmt.Sprintf("unsupported operation %q", req.Operation))
	}
	if s.keyStrategy == config.IdempotencyCallerSupplied && req.IdempotencyKey == "" {
		problems = append(problems, "idempotency_key is required")
	}
	return binding, problems
}
