// Package service runs the confirm-then-commit protocol: validate and issue a
// token, then on confirmation stage locally, push to the remote system under a
// retry policy, and compensate locally when the push fails.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"changegate/internal/change/models"
	"changegate/internal/change/ports"
	"changegate/internal/change/retry"
	"changegate/internal/platform/config"
	"changegate/internal/platform/metrics"
)

const (
	tracerName           = "changegate/change"
	defaultNotifyTimeout = 2 * time.Second
)

// Binding groups the collaborators for one entity kind. Store and Gateway are
// required; a nil Validator accepts everything and a nil Deriver uses
// DefaultDeriver.
type Binding struct {
	Validator ports.Validator
	Store     ports.LocalStateStore
	Gateway   ports.RemoteSyncGateway
	Deriver   ports.Deriver
}

// Service is the change executor. One instance serves every bound kind and
// shares a single registry, so the one-pending-token rule spans kinds too.
type Service struct {
	registry      ports.Registry
	bindings      map[models.EntityKind]Binding
	notifier      ports.NotificationSink
	logger        *slog.Logger
	metrics       *metrics.Metrics
	policy        retry.Policy
	clock         func() time.Time
	keyStrategy   config.IdempotencyKeyStrategy
	notifyTimeout time.Duration
	tracer        trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(sink ports.NotificationSink) Option {
	return func(s *Service) {
		s.notifier = sink
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIdempotencyStrategy selects whether callers must supply the key or the
// service generates one per proposal.
func WithIdempotencyStrategy(strategy config.IdempotencyKeyStrategy) Option {
	return func(s *Service) {
		s.keyStrategy = strategy
	}
}

// WithNotifyTimeout bounds how long a notification may take.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New constructs a Service. Every binding needs a store and a gateway.
func New(registry ports.Registry, bindings map[models.EntityKind]Binding, opts ...Option) (*Service, error) {
	if registry == nil {
		return nil, errors.New("confirmation registry is required")
	}
	if len(bindings) == 0 {
		return nil, errors.New("at least one entity binding is required")
	}

	s := &Service{
		registry:      registry,
		bindings:      make(map[models.EntityKind]Binding, len(bindings)),
		logger:        slog.Default(),
		policy:        retry.DefaultPolicy(),
		clock:         time.Now,
		keyStrategy:   config.IdempotencyGenerated,
		notifyTimeout: defaultNotifyTimeout,
		tracer:        otel.Tracer(tracerName),
	}
	for kind, b := range bindings {
		if b.Store == nil || b.Gateway == nil {
			return nil, fmt.Errorf("binding %q needs a store and a gateway", kind)
		}
		if b.Deriver == nil {
			b.Deriver = DefaultDeriver
		}
		s.bindings[kind] = b
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Kinds lists the bound entity kinds.
func (s *Service) Kinds() []models.EntityKind {
	kinds := make([]models.EntityKind, 0, len(s.bindings))
	for kind := range s.bindings {
		kinds = append(kinds, kind)
	}
	return kinds
}
