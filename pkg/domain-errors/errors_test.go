package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("connection refused")

	t.Run("direct code matches", func(t *testing.T) {
		err := New(CodeConflict, "pending change exists")
		assert.True(t, HasCode(err, CodeConflict))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("nested code matches through fmt wrapping", func(t *testing.T) {
		inner := Wrap(base, CodeUnavailable, "remote down")
		outer := Wrap(fmt.Errorf("sync: %w", inner), CodeInternal, "confirm failed")
		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeUnavailable))
		assert.ErrorIs(t, outer, base)
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(base, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(base))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestErrorMessages(t *testing.T) {
	err := Wrap(errors.New("boom"), CodeInternal, "apply failed")
	assert.Equal(t, "apply failed: boom", err.Error())
	assert.Equal(t, "apply failed", MessageOf(err))
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "", MessageOf(nil))
}
