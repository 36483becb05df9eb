package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"changegate/internal/change/models"
	"changegate/internal/change/store"
)

var errTimeout = errors.New("read timeout")

// step programs one gateway call. applied marks calls whose effect reached
// the remote side even if the caller saw an error.
type step struct {
	err     error
	applied bool
}

func ok() step { return step{applied: true} }
func transient() step { return step{err: models.Transient(errTimeout)} }
func appliedThenTimeout() step { return step{err: models.Transient(errTimeout), applied: true} }
func rejected(msg string) step { return step{err: models.Rejected(errors.New(msg))} }

// scriptedGateway replays steps in order and succeeds once they run out. It
// honours idempotency keys the way a real remote must: an effect is applied
// at most once per key.
type scriptedGateway struct {
	mu      sync.Mutex
	steps   []step
	calls   int
	keys    []string
	effects map[string]models.EntityState
	onCall  func(call int)
}

func newScriptedGateway(steps ...step) *scriptedGateway {
	return &scriptedGateway{steps: steps, effects: make(map[string]models.EntityState)}
}

func (g *scriptedGateway) Push(_ context.Context, _ models.EntityKind, _ string, state models.EntityState, key string) (models.Ack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	g.keys = append(g.keys, key)
	if g.onCall != nil {
		g.onCall(g.calls)
	}

	s := ok()
	if g.calls <= len(g.steps) {
		s = g.steps[g.calls-1]
	}
	if s.applied {
		if _, done := g.effects[key]; !done {
			g.effects[key] = state
		}
	}
	if s.err != nil {
		return models.Ack{}, s.err
	}
	return models.Ack{RemoteVersion: key}, nil
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *scriptedGateway) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.keys...)
}

func (g *scriptedGateway) Effects() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.effects)
}

// recordingStore counts writes on top of the in-memory store.
type recordingStore struct {
	*store.InMemoryStore
	mu      sync.Mutex
	applies []models.EntityState
}

func newRecordingStore() *recordingStore {
	return &recordingStore{InMemoryStore: store.NewInMemory()}
}

func (s *recordingStore) Apply(ctx context.Context, state models.EntityState) error {
	s.mu.Lock()
	s.applies = append(s.applies, state)
	s.mu.Unlock()
	return s.InMemoryStore.Apply(ctx, state)
}

func (s *recordingStore) Applies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applies)
}

// collectingSink records notifications.
type collectingSink struct {
	mu   sync.Mutex
	seen []models.Notification
}

func (c *collectingSink) Notify(_ context.Context, n models.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, n)
	return nil
}

func (c *collectingSink) All() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Notification(nil), c.seen...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
