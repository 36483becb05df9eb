package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"changegate/internal/change/models"
	"changegate/internal/platform/middleware"
	dErrors "changegate/pkg/domain-errors"
	"changegate/pkg/platform/httputil"
	"changegate/pkg/requestcontext"
)

// Service is the change executor as seen by the HTTP layer.
type Service interface {
	Propose(ctx context.Context, req models.ChangeRequest) (*models.ConfirmationToken, error)
	Confirm(ctx context.Context, token string) models.Outcome
	Cancel(ctx context.Context, token string) models.Outcome
}

// Handler exposes propose, confirm and cancel over HTTP. Authentication
// happens upstream; the actor arrives in the X-Actor-ID header.
type Handler struct {
	logger  *slog.Logger
	changes Service
}

func New(changes Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, changes: changes}
}

// Register registers the change routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	changeRouter := chi.NewRouter()
	changeRouter.Use(middleware.Recovery(h.logger))
	changeRouter.Use(middleware.RequestID)
	changeRouter.Use(middleware.Actor)
	changeRouter.Use(middleware.RequestTime)
	changeRouter.Use(middleware.Logger(h.logger))
	changeRouter.Post("/changes/{kind}/{entityID}", h.handlePropose)
	changeRouter.Post("/changes/tokens/{token}/confirm", h.handleConfirm)
	changeRouter.Post("/changes/tokens/{token}/cancel", h.handleCancel)

	r.Mount("/", changeRouter)
}

// MaxProposeBodyBytes bounds the propose request body.
const MaxProposeBodyBytes = 1 << 20

// ProposeRequest is the body of a propose call. Kind and entity ID come from
// the path.
type ProposeRequest struct {
	Operation      models.Operation `json:"operation"`
	Payload        models.Fields    `json:"payload"`
	IdempotencyKey string           `json:"idempotency_key"`
}

// ProposeResponse carries the token the caller must confirm.
type ProposeResponse struct {
	Token          string            `json:"token"`
	Kind           models.EntityKind `json:"kind"`
	EntityID       string            `json:"entity_id"`
	Operation      models.Operation  `json:"operation"`
	IdempotencyKey string            `json:"idempotency_key"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var body ProposeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxProposeBodyBytes)).Decode(&body); err != nil {
		h.logger.WarnContext(ctx, "invalid propose request",
			"request_id", requestID,
			"error", err.Error(),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeTooLarge, "request body too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req := models.NewChangeRequest(
		models.EntityKind(chi.URLParam(r, "kind")),
		chi.URLParam(r, "entityID"),
		body.Operation,
		body.Payload,
		body.IdempotencyKey,
	)
	tok, err := h.changes.Propose(ctx, req)
	if err != nil {
		var verrs *models.ValidationErrors
		if errors.As(err, &verrs) {
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, verrs.Outcome())
			return
		}
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to propose change",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, ProposeResponse{
		Token:          tok.Value,
		Kind:           tok.Request.Kind,
		EntityID:       tok.Request.EntityID,
		Operation:      tok.Request.Operation,
		IdempotencyKey: tok.Request.IdempotencyKey,
		ExpiresAt:      tok.ExpiresAt,
	})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	out := h.changes.Confirm(r.Context(), chi.URLParam(r, "token"))
	httputil.WriteJSON(w, StatusFor(out), out)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	out := h.changes.Cancel(r.Context(), chi.URLParam(r, "token"))
	httputil.WriteJSON(w, StatusFor(out), out)
}

// StatusFor maps an outcome to the HTTP status returned with it.
func StatusFor(out models.Outcome) int {
	switch out.Kind {
	case models.OutcomeCommitted, models.OutcomeCancelled:
		return http.StatusOK
	case models.OutcomeValidationFailed:
		return http.StatusUnprocessableEntity
	case models.OutcomeConfirmationExpired:
		if out.Reason == models.ReasonTokenNotFound {
			return http.StatusNotFound
		}
		return http.StatusGone
	case models.OutcomeRemoteSyncFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
