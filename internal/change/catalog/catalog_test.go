package catalog

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"changegate/internal/change/models"
	"changegate/internal/change/registry"
	"changegate/internal/change/service"
	"changegate/internal/change/store"
)

func request(kind models.EntityKind, op models.Operation, payload models.Fields) models.ChangeRequest {
	return models.NewChangeRequest(kind, "id-1", op, payload, "key-1")
}

func validate(t *testing.T, kind models.EntityKind, op models.Operation, payload models.Fields) []string {
	t.Helper()
	b, ok := Bindings(store.NewInMemory(), nil)[kind]
	require.True(t, ok, "kind %s must be bound", kind)
	return b.Validator.Validate(context.Background(), request(kind, op, payload))
}

func TestBindingsCoverEveryKind(t *testing.T) {
	bindings := Bindings(store.NewInMemory(), nil)
	assert.Len(t, bindings, len(Kinds()))
	for _, kind := range Kinds() {
		b := bindings[kind]
		assert.NotNil(t, b.Validator, kind)
		assert.NotNil(t, b.Deriver, kind)
		assert.NotNil(t, b.Store, kind)
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name    string
		kind    models.EntityKind
		op      models.Operation
		payload models.Fields
		want    []string
	}{
		{
			name:    "site create needs name address and city",
			kind:    KindSite,
			op:      models.OperationCreate,
			payload: models.Fields{"description": "old harbour"},
			want:    []string{"name is required", "address is required", "city is required"},
		},
		{
			name:    "site update checks only sent fields",
			kind:    KindSite,
			op:      models.OperationUpdate,
			payload: models.Fields{"name": "Harbour"},
		},
		{
			name:    "site update cannot clear a required field",
			kind:    KindSite,
			op:      models.OperationUpdate,
			payload: models.Fields{"city": nil},
			want:    []string{"city cannot be cleared"},
		},
		{
			name:    "unknown fields are rejected",
			kind:    KindSite,
			op:      models.OperationUpdate,
			payload: models.Fields{"colour": "red"},
			want:    []string{"unknown field colour"},
		},
		{
			name: "banner image must be a picture",
			kind: KindBanner,
			op:   models.OperationCreate,
			payload: models.Fields{
				"name": "Summer", "image_path": "/img/summer.exe", "refreshment_point_id": "rp-1",
			},
			want: []string{"image_path must be one of .png, .jpg, .jpeg, .gif, .webp"},
		},
		{
			name: "banner accepts upper case extensions",
			kind: KindBanner,
			op:   models.OperationCreate,
			payload: models.Fields{
				"name": "Summer", "image_path": "/img/summer.PNG", "refreshment_point_id": "rp-1",
			},
		},
		{
			name:    "blank name",
			kind:    KindRefreshmentPoint,
			op:      models.OperationCreate,
			payload: models.Fields{"name": "   ", "location": "North gate"},
			want:    []string{"name must not be blank"},
		},
		{
			name:    "seats must be a whole number",
			kind:    KindRefreshmentPoint,
			op:      models.OperationUpdate,
			payload: models.Fields{"seats": 2.5},
			want:    []string{"seats must be a whole number"},
		},
		{
			name:    "feedback vote out of range",
			kind:    KindFeedback,
			op:      models.OperationCreate,
			payload: models.Fields{"tourist_id": "t-1", "site_id": "s-1", "vote": float64(6)},
			want:    []string{"vote must be between 1 and 5"},
		},
		{
			name:    "feedback vote from go code",
			kind:    KindFeedback,
			op:      models.OperationCreate,
			payload: models.Fields{"tourist_id": "t-1", "site_id": "s-1", "vote": 4},
		},
		{
			name:    "tag must be one word",
			kind:    KindTag,
			op:      models.OperationCreate,
			payload: models.Fields{"name": "sea view"},
			want:    []string{"name must be a single word"},
		},
		{
			name:    "bookmark needs tourist and site",
			kind:    KindBookmark,
			op:      models.OperationCreate,
			payload: models.Fields{"tourist_id": "t-1"},
			want:    []string{"site_id is required"},
		},
		{
			name:    "preference tags must be strings",
			kind:    KindPreference,
			op:      models.OperationCreate,
			payload: models.Fields{"tourist_id": "t-1", "tags": []any{"beach", 3}},
			want:    []string{"tags must be a list of strings"},
		},
		{
			name:    "delete skips field rules",
			kind:    KindFeedback,
			op:      models.OperationDelete,
			payload: nil,
		},
		{
			name:    "password too short and mismatched",
			kind:    KindPassword,
			op:      models.OperationCreate,
			payload: models.Fields{"password": "short", "confirmation": "shorter"},
			want:    []string{"password must be at least 8 characters", "confirmation does not match password"},
		},
		{
			name:    "password cannot be deleted",
			kind:    KindPassword,
			op:      models.OperationDelete,
			want:    []string{"password cannot be deleted"},
		},
		{
			name:    "password accepted",
			kind:    KindPassword,
			op:      models.OperationUpdate,
			payload: models.Fields{"password": "correct horse", "confirmation": "correct horse"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validate(t, tt.kind, tt.op, tt.payload)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPasswordDeriverStoresOnlyTheHash(t *testing.T) {
	deriver := passwordDeriver(bcrypt.MinCost)
	prior := models.EntityState{
		Kind: KindPassword, EntityID: "user-1", Exists: true, Version: 3,
		Fields: models.Fields{PasswordHashField: "old", "password": "leaked"},
	}
	req := request(KindPassword, models.OperationUpdate, models.Fields{
		"password": "correct horse", "confirmation": "correct horse",
	})

	next, err := deriver.Derive(prior, req)
	require.NoError(t, err)

	assert.Equal(t, int64(4), next.Version)
	assert.Equal(t, []string{PasswordHashField}, keys(next.Fields))
	hash := next.Fields.String(PasswordHashField)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")))
	assert.Equal(t, "correct horse", req.Payload["password"], "the caller's request must not be mutated")
}

func TestPreferenceDeriverNormalizesTags(t *testing.T) {
	req := request(KindPreference, models.OperationCreate, models.Fields{
		"tourist_id": "t-1",
		"tags":       []any{" Beach", "museum", "beach ", ""},
	})

	next, err := derivePreference(models.Absent(KindPreference, "id-1"), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"beach", "museum"}, next.Fields["tags"])
}

func keys(f models.Fields) []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	return out
}

type pushedStates struct {
	mu     sync.Mutex
	states []models.EntityState
}

func (p *pushedStates) Push(_ context.Context, _ models.EntityKind, _ string, state models.EntityState, _ string) (models.Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
	return models.Ack{RemoteVersion: strconv.FormatInt(state.Version, 10)}, nil
}

func TestCatalogThroughService(t *testing.T) {
	ctx := context.Background()
	local := store.NewInMemory()
	remote := &pushedStates{}
	svc, err := service.New(registry.NewInMemory(time.Minute), Bindings(local, remote, WithBcryptCost(bcrypt.MinCost)))
	require.NoError(t, err)

	t.Run("invalid payload never issues a token", func(t *testing.T) {
		_, err := svc.Propose(ctx, request(KindFeedback, models.OperationCreate, models.Fields{"vote": 9}))
		var verrs *models.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		assert.Contains(t, verrs.Errors, "vote must be between 1 and 5")
	})

	t.Run("password commit pushes no cleartext", func(t *testing.T) {
		tok, err := svc.Propose(ctx, models.NewChangeRequest(KindPassword, "user-9", models.OperationCreate,
			models.Fields{"password": "hunter2hunter2", "confirmation": "hunter2hunter2"}, ""))
		require.NoError(t, err)

		out := svc.Confirm(ctx, tok.Value)
		require.True(t, out.IsCommitted(), out.String())

		stored, err := local.Get(ctx, KindPassword, "user-9")
		require.NoError(t, err)
		assert.NotContains(t, stored.Fields, "password")
		assert.NotContains(t, stored.Fields, "confirmation")

		require.Len(t, remote.states, 1)
		assert.NotContains(t, remote.states[0].Fields, "password")
	})
}
