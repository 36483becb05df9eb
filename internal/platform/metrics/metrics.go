package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the change protocol.
type Metrics struct {
	Proposals            *prometheus.CounterVec
	Outcomes             *prometheus.CounterVec
	SyncAttempts         *prometheus.CounterVec
	CompensationFailures *prometheus.CounterVec
	ConfirmDuration      *prometheus.HistogramVec
	TokensSwept          prometheus.Counter
	NotificationsDropped prometheus.Counter
	OutboxPublished      prometheus.Counter
}

// New creates and registers all collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Proposals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "changegate_proposals_total",
			Help: "Change proposals by entity kind and result",
		}, []string{"kind", "result"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "changegate_outcomes_total",
			Help: "Terminal outcomes of confirm and cancel calls",
		}, []string{"kind", "outcome"}),
		SyncAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "changegate_sync_attempts_total",
			Help: "Remote push attempts by result",
		}, []string{"kind", "result"}),
		CompensationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "changegate_compensation_failures_total",
			Help: "Compensations that failed, leaving local and remote state diverged",
		}, []string{"kind"}),
		ConfirmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "changegate_confirm_duration_seconds",
			Help:    "Latency of confirm from redeem to outcome",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind", "outcome"}),
		TokensSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "changegate_tokens_swept_total",
			Help: "Expired confirmation tokens evicted by the sweeper",
		}),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "changegate_notifications_dropped_total",
			Help: "Notifications dropped because the async buffer was full",
		}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "changegate_outbox_published_total",
			Help: "Outbox entries published to Kafka",
		}),
	}
}

func (m *Metrics) IncProposal(kind, result string) {
	m.Proposals.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveOutcome(kind, outcome string, elapsed time.Duration) {
	m.Outcomes.WithLabelValues(kind, outcome).Inc()
	m.ConfirmDuration.WithLabelValues(kind, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) IncSyncAttempt(kind, result string) {
	m.SyncAttempts.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncCompensationFailure(kind string) {
	m.CompensationFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddTokensSwept(n int) {
	m.TokensSwept.Add(float64(n))
}

func (m *Metrics) IncNotificationDropped() {
	m.NotificationsDropped.Inc()
}

func (m *Metrics) AddOutboxPublished(n int) {
	m.OutboxPublished.Add(float64(n))
}
