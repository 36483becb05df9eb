// Package gateway pushes entity states to the remote system of record over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"changegate/internal/change/models"
	"changegate/pkg/platform/circuit"
)

const (
	IdempotencyKeyHeader  = "Idempotency-Key"
	defaultAttemptTimeout = 2 * time.Second
	maxErrorBody          = 4 << 10
)

// ErrCircuitOpen is returned, wrapped as transient, while the breaker is open.
var ErrCircuitOpen = errors.New("remote circuit open")

// HTTPGateway implements the remote push as PUT (existing state) or DELETE
// (absent state) on {base}/entities/{kind}/{id}. Each call has its own
// deadline. Timeouts, 408, 425, 429 and 5xx are transient; other 4xx are
// rejections.
type HTTPGateway struct {
	baseURL        string
	client         *http.Client
	breaker        *circuit.Breaker
	attemptTimeout time.Duration
	logger         *slog.Logger
}

type Option func(*HTTPGateway)

func WithHTTPClient(client *http.Client) Option {
	return func(g *HTTPGateway) {
		if client != nil {
			g.client = client
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(g *HTTPGateway) {
		g.breaker = b
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(g *HTTPGateway) {
		if d > 0 {
			g.attemptTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *HTTPGateway) {
		g.logger = logger
	}
}

func NewHTTP(baseURL string, opts ...Option) (*HTTPGateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", baseURL)
	}
	g := &HTTPGateway{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{},
		attemptTimeout: defaultAttemptTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type pushBody struct {
	Fields  models.Fields `json:"fields"`
	Version int64         `json:"version"`
}

type ackBody struct {
	Version string `json:"version"`
}

func (g *HTTPGateway) Push(ctx context.Context, kind models.EntityKind, entityID string, state models.EntityState, idempotencyKey string) (models.Ack, error) {
	if g.breaker != nil && !g.breaker.Allow() {
		return models.Ack{}, models.Transient(ErrCircuitOpen)
	}

	ack, err := g.push(ctx, kind, entityID, state, idempotencyKey)
	g.record(ctx, err)
	return ack, err
}

func (g *HTTPGateway) push(ctx context.Context, kind models.EntityKind, entityID string, state models.EntityState, idempotencyKey string) (models.Ack, error) {
	ctx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/entities/%s/%s", g.baseURL, url.PathEscape(string(kind)), url.PathEscape(entityID))
	method := http.MethodDelete
	var body io.Reader
	if state.Exists {
		method = http.MethodPut
		raw, err := json.Marshal(pushBody{Fields: state.Fields, Version: state.Version})
		if err != nil {
			return models.Ack{}, models.Rejected(fmt.Errorf("encode state: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return models.Ack{}, models.Rejected(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return models.Ack{}, models.Transient(fmt.Errorf("%s %s: %w", method, endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ack ackBody
		// an empty or non-JSON body is still an acknowledgement
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&ack)
		return models.Ack{RemoteVersion: ack.Version}, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	if isTransientStatus(resp.StatusCode) {
		return models.Ack{}, models.Transient(statusErr)
	}
	return models.Ack{}, models.Rejected(statusErr)
}

func (g *HTTPGateway) record(ctx context.Context, err error) {
	if g.breaker == nil {
		return
	}
	// a rejection is a healthy remote saying no
	if err == nil || models.IsRejected(err) {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "remote circuit closed", "breaker", g.breaker.Name())
		}
		return
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.WarnContext(ctx, "remote circuit opened", "breaker", g.breaker.Name(), "error", err)
	}
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// StatusError is a non-2xx answer from the remote.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d", e.Code)
	}
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}
