package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"changegate/internal/change/models"
	"changegate/pkg/platform/sentinel"
	txcontext "changegate/pkg/platform/tx"
)

// PostgresStore persists entity states in the entity_states table. It joins
// any transaction carried in the context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, kind models.EntityKind, entityID string) (models.EntityState, error) {
	query := `
		SELECT fields, version
		FROM entity_states
		WHERE kind = $1 AND entity_id = $2
	`
	var (
		raw     []byte
		version int64
	)
	err := txcontext.Use(ctx, s.db).QueryRowContext(ctx, query, string(kind), entityID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EntityState{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.EntityState{}, fmt.Errorf("select entity state: %w", err)
	}

	var fields models.Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.EntityState{}, fmt.Errorf("decode entity fields: %w", err)
	}
	return models.EntityState{
		Kind:     kind,
		EntityID: entityID,
		Fields:   fields,
		Exists:   true,
		Version:  version,
	}, nil
}

// Apply upserts an existing state or deletes an absent one.
func (s *PostgresStore) Apply(ctx context.Context, state models.EntityState) error {
	exec := txcontext.Use(ctx, s.db)
	if !state.Exists {
		query := `DELETE FROM entity_states WHERE kind = $1 AND entity_id = $2`
		if _, err := exec.ExecContext(ctx, query, string(state.Kind), state.EntityID); err != nil {
			return fmt.Errorf("delete entity state: %w", err)
		}
		return nil
	}

	fields := state.Fields
	if fields == nil {
		fields = models.Fields{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode entity fields: %w", err)
	}

	query := `
		INSERT INTO entity_states (kind, entity_id, fields, version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (kind, entity_id) DO UPDATE
		SET fields = EXCLUDED.fields, version = EXCLUDED.version, updated_at = now()
	`
	if _, err := exec.ExecContext(ctx, query, string(state.Kind), state.EntityID, raw, state.Version); err != nil {
		return fmt.Errorf("upsert entity state: %w", err)
	}
	return nil
}
