package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	total int
}

func (o *countingObserver) AddTokensSwept(n int) { o.total += n }

type failingExpirer struct{}

func (failingExpirer) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("boom")
}

func TestSweeper_SweepOnce(t *testing.T) {
	clock := newFakeClock()
	reg := NewInMemory(time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	_, err := reg.Propose(ctx, request("a"))
	require.NoError(t, err)
	_, err = reg.Propose(ctx, request("b"))
	require.NoError(t, err)

	observer := &countingObserver{}
	sweeper := NewSweeper(reg, time.Second,
		WithSweepClock(clock.Now),
		WithSweepObserver(observer),
		WithSweepLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	assert.Equal(t, 0, sweeper.SweepOnce(ctx))

	clock.Advance(time.Minute)
	assert.Equal(t, 2, sweeper.SweepOnce(ctx))
	assert.Equal(t, 2, observer.total)
	assert.Equal(t, 0, reg.Len())
}

func TestSweeper_ErrorsAreSwallowed(t *testing.T) {
	sweeper := NewSweeper(failingExpirer{}, time.Second,
		WithSweepLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	assert.Equal(t, 0, sweeper.SweepOnce(context.Background()))
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	sweeper := NewSweeper(NewInMemory(time.Minute), 5*time.Millisecond,
		WithSweepLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
