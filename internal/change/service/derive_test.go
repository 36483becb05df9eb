package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changegate/internal/change/models"
)

func TestDefaultDeriver(t *testing.T) {
	existing := models.EntityState{
		Kind: "site", EntityID: "s1", Exists: true, Version: 4,
		Fields: models.Fields{"name": "Old", "region": "eu"},
	}
	absent := models.Absent("site", "s1")

	tests := []struct {
		name    string
		prior   models.EntityState
		op      models.Operation
		payload models.Fields
		want    models.EntityState
		wantErr error
	}{
		{
			name:    "create from absent",
			prior:   absent,
			op:      models.OperationCreate,
			payload: models.Fields{"name": "New", "skip": nil},
			want:    models.EntityState{Kind: "site", EntityID: "s1", Exists: true, Version: 1, Fields: models.Fields{"name": "New"}},
		},
		{
			name:    "create over existing",
			prior:   existing,
			op:      models.OperationCreate,
			wantErr: ErrEntityExists,
		},
		{
			name:    "update merges and removes nil fields",
			prior:   existing,
			op:      models.OperationUpdate,
			payload: models.Fields{"name": "New", "region": nil},
			want:    models.EntityState{Kind: "site", EntityID: "s1", Exists: true, Version: 5, Fields: models.Fields{"name": "New"}},
		},
		{
			name:    "update of absent entity",
			prior:   absent,
			op:      models.OperationUpdate,
			wantErr: ErrEntityMissing,
		},
		{
			name:  "delete tombstones",
			prior: existing,
			op:    models.OperationDelete,
			want:  models.EntityState{Kind: "site", EntityID: "s1", Version: 5},
		},
		{
			name:    "delete of absent entity",
			prior:   absent,
			op:      models.OperationDelete,
			wantErr: ErrEntityMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := models.NewChangeRequest("site", "s1", tt.op, tt.payload, "k")
			got, err := DefaultDeriver.Derive(tt.prior.Clone(), req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("prior fields are not mutated", func(t *testing.T) {
		prior := existing.Clone()
		req := models.NewChangeRequest("site", "s1", models.OperationUpdate, models.Fields{"name": "X"}, "k")
		_, err := DefaultDeriver.Derive(prior, req)
		require.NoError(t, err)
		assert.Equal(t, "Old", prior.Fields["name"])
	})
}
