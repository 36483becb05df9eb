package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ActorID(ctx))
	assert.Empty(t, RequestID(ctx))

	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ctx = WithActorID(ctx, "admin-1")
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithTime(ctx, fixed)

	assert.Equal(t, "admin-1", ActorID(ctx))
	assert.Equal(t, "req-123", RequestID(ctx))
	assert.Equal(t, fixed, Now(ctx))
}
