package registry

import (
	"context"
	"log/slog"
	"time"
)

// Expirer evicts tokens past their expiry.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SweepObserver receives the number of tokens evicted per sweep.
type SweepObserver interface {
	AddTokensSwept(n int)
}

// Sweeper periodically evicts expired tokens. Redemption checks expiry on its
// own, so a stalled sweeper only costs memory.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *slog.Logger
	observer SweepObserver
	clock    Clock
}

type SweeperOption func(*Sweeper)

func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithSweepObserver(observer SweepObserver) SweeperOption {
	return func(s *Sweeper) {
		s.observer = observer
	}
}

func WithSweepClock(clock Clock) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewSweeper(expirer Expirer, interval time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Sweeper{
		expirer:  expirer,
		interval: interval,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on every tick until ctx is cancelled. Sweep errors are logged
// and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// SweepOnce runs a single eviction pass and returns the number of tokens removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	removed, err := s.expirer.DeleteExpired(ctx, s.clock())
	if err != nil {
		s.logger.WarnContext(ctx, "confirmation sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		s.logger.DebugContext(ctx, "confirmation tokens swept", "removed", removed)
	}
	if s.observer != nil {
		s.observer.AddTokensSwept(removed)
	}
	return removed
}
