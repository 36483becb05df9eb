package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordOnIsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncProposal("banner", "accepted")
	m.ObserveOutcome("banner", "committed", 25*time.Millisecond)
	m.IncSyncAttempt("banner", "transient")
	m.IncSyncAttempt("banner", "transient")
	m.IncCompensationFailure("banner")
	m.AddTokensSwept(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Proposals.WithLabelValues("banner", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("banner", "committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SyncAttempts.WithLabelValues("banner", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompensationFailures.WithLabelValues("banner")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TokensSwept))

	// A second set on a fresh registry must not collide.
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}
