package notify

import (
	"context"
	"log/slog"
	"time"

	"changegate/internal/change/models"
)

const (
	defaultBatchSize    = 64
	defaultDrainTimeout = 5 * time.Second
)

// DropObserver is told about every notification evicted from a full buffer.
type DropObserver interface {
	IncNotificationDropped()
}

// AsyncSink buffers notifications and delivers them from Run, so Notify never
// waits on the downstream sink. A full buffer drops the oldest entry.
type AsyncSink struct {
	next         Sink
	buf          *RingBuffer[models.Notification]
	wake         chan struct{}
	logger       *slog.Logger
	observer     DropObserver
	batchSize    int
	drainTimeout time.Duration
}

type AsyncOption func(*AsyncSink)

func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(a *AsyncSink) {
		a.logger = logger
	}
}

func WithDropObserver(o DropObserver) AsyncOption {
	return func(a *AsyncSink) {
		a.observer = o
	}
}

func WithDrainTimeout(d time.Duration) AsyncOption {
	return func(a *AsyncSink) {
		if d > 0 {
			a.drainTimeout = d
		}
	}
}

func NewAsync(next Sink, capacity int, opts ...AsyncOption) *AsyncSink {
	a := &AsyncSink{
		next:         next,
		buf:          NewRingBuffer[models.Notification](capacity),
		wake:         make(chan struct{}, 1),
		logger:       slog.Default(),
		batchSize:    defaultBatchSize,
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AsyncSink) Notify(ctx context.Context, n models.Notification) error {
	if a.buf.Enqueue(n) {
		a.logger.WarnContext(ctx, "notification buffer full, dropped oldest entry")
		if a.observer != nil {
			a.observer.IncNotificationDropped()
		}
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending reports how many notifications await delivery.
func (a *AsyncSink) Pending() int {
	return a.buf.Len()
}

// Run delivers buffered notifications until ctx is cancelled, then drains
// what is left within the drain timeout.
func (a *AsyncSink) Run(ctx context.Context) error {
	for {
		select {
		case <-a.wake:
			a.drain(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.drainTimeout)
			a.drain(drainCtx)
			cancel()
			return nil
		}
	}
}

func (a *AsyncSink) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		batch := a.buf.DequeueBatch(a.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, n := range batch {
			if err := a.next.Notify(ctx, n); err != nil {
				a.logger.WarnContext(ctx, "notification delivery failed",
					"kind", n.Kind,
					"entity_id", n.EntityID,
					"status", n.Status,
					"error", err,
				)
			}
		}
	}
}
