package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"changegate/internal/change/models"
	txcontext "changegate/pkg/platform/tx"
)

// AggregateType tags outbox rows written for entity changes.
const AggregateType = "entity"

// OutboxSink records notifications in the outbox table. The outbox worker
// publishes them to Kafka, so a notification survives a broker outage.
type OutboxSink struct {
	db    *sql.DB
	clock func() time.Time
}

func NewOutboxSink(db *sql.DB) *OutboxSink {
	return &OutboxSink{db: db, clock: time.Now}
}

// EventType names the outbox event for a notification status.
func EventType(status models.NotificationStatus) string {
	return "change." + string(status)
}

func (s *OutboxSink) Notify(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		uuid.New(),
		AggregateType,
		string(n.Kind)+"/"+n.EntityID,
		EventType(n.Status),
		payload,
		s.clock(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}
