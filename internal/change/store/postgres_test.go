package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changegate/internal/change/models"
	"changegate/pkg/platform/sentinel"
	txcontext "changegate/pkg/platform/tx"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock, db
}

var selectState = regexp.QuoteMeta("SELECT fields, version")

func TestPostgresStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes fields and version", func(t *testing.T) {
		s, mock, _ := newMockStore(t)
		mock.ExpectQuery(selectState).
			WithArgs("site", "site-42").
			WillReturnRows(sqlmock.NewRows([]string{"fields", "version"}).
				AddRow([]byte(`{"name":"Harbour"}`), int64(4)))

		state, err := s.Get(ctx, "site", "site-42")
		require.NoError(t, err)
		assert.True(t, state.Exists)
		assert.Equal(t, int64(4), state.Version)
		assert.Equal(t, "Harbour", state.Fields["name"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is not found", func(t *testing.T) {
		s, mock, _ := newMockStore(t)
		mock.ExpectQuery(selectState).WithArgs("site", "nope").WillReturnError(sql.ErrNoRows)

		_, err := s.Get(ctx, "site", "nope")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("driver errors are wrapped", func(t *testing.T) {
		s, mock, _ := newMockStore(t)
		boom := errors.New("connection refused")
		mock.ExpectQuery(selectState).WillReturnError(boom)

		_, err := s.Get(ctx, "site", "x")
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestPostgresStore_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("existing state is upserted", func(t *testing.T) {
		s, mock, _ := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_states")).
			WithArgs("banner", "banner-7", sqlmock.AnyArg(), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.Apply(ctx, models.EntityState{
			Kind: "banner", EntityID: "banner-7", Exists: true, Version: 2,
			Fields: models.Fields{"name": "Sale"},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent state deletes the row", func(t *testing.T) {
		s, mock, _ := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM entity_states")).
			WithArgs("banner", "banner-7").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Apply(ctx, models.Absent("banner", "banner-7")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("joins the transaction carried in context", func(t *testing.T) {
		s, mock, db := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM entity_states")).
			WithArgs("tag", "t1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := txcontext.RunInTx(ctx, db, func(txCtx context.Context) error {
			return s.Apply(txCtx, models.Absent("tag", "t1"))
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
