// Package outbox relays notification rows written by notify.OutboxSink to a
// message broker. Rows are claimed with FOR UPDATE SKIP LOCKED so several
// workers can share one table.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "changegate/pkg/platform/tx"
)

// Entry is one unpublished outbox row.
type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Publisher delivers a batch of entries. A nil error means every entry was
// accepted by the broker.
type Publisher interface {
	Publish(ctx context.Context, entries []Entry) error
}

// PublishObserver is told how many entries each successful batch published.
type PublishObserver interface {
	AddOutboxPublished(n int)
}

type Worker struct {
	db        *sql.DB
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	observer  PublishObserver
	clock     func() time.Time
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithObserver(o PublishObserver) Option {
	return func(w *Worker) {
		w.observer = o
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(w *Worker) {
		w.clock = clock
	}
}

func NewWorker(db *sql.DB, publisher Publisher, interval time.Duration, opts ...Option) *Worker {
	w := &Worker{
		db:        db,
		publisher: publisher,
		interval:  interval,
		batchSize: 100,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls the outbox every interval until ctx is cancelled. Failed batches
// are logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := w.ProcessBatch(ctx)
				if err != nil {
					if ctx.Err() == nil {
						w.logger.ErrorContext(ctx, "outbox batch failed", "error", err)
					}
					break
				}
				if n < w.batchSize {
					break
				}
			}
		}
	}
}

// ProcessBatch publishes up to one batch of entries and marks them published
// in the same transaction. Entries stay unpublished if the broker fails.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	var published int
	err := txcontext.RunInTx(ctx, w.db, func(ctx context.Context) error {
		entries, err := w.claim(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		if err := w.publisher.Publish(ctx, entries); err != nil {
			return fmt.Errorf("publish outbox entries: %w", err)
		}
		if err := w.markPublished(ctx, entries); err != nil {
			return err
		}
		published = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 && w.observer != nil {
		w.observer.AddOutboxPublished(published)
	}
	return published, nil
}

func (w *Worker) claim(ctx context.Context) ([]Entry, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := txcontext.Use(ctx, w.db).QueryContext(ctx, query, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

func (w *Worker) markPublished(ctx context.Context, entries []Entry) error {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID.String()
	}
	query := `UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`
	if _, err := txcontext.Use(ctx, w.db).ExecContext(ctx, query, w.clock(), pq.Array(ids)); err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}
