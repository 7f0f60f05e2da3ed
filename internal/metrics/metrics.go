package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects reconciliation counters. All methods are nil-safe so
// callers that run without a registry (tests, the migrate command) can pass
// a nil *Metrics and skip the instrumentation entirely.
type Metrics struct {
	sweepsTotal      *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	matchesTotal     *prometheus.CounterVec
	confirmations    *prometheus.CounterVec
	pendingIntents   prometheus.Gauge
	detailLookups    prometheus.Counter
	ambiguousMatches prometheus.Counter
	webhooksTotal    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sweepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_sweeps_total",
			Help: "Sweep runs by result.",
		}, []string{"result"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_sweep_duration_seconds",
			Help:    "Wall time of one sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		matchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_matches_total",
			Help: "Matches by confidence level.",
		}, []string{"confidence"}),
		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_confirmations_total",
			Help: "Confirmation attempts by outcome.",
		}, []string{"outcome"}),
		pendingIntents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reconcile_pending_intents",
			Help: "Pending intents seen by the last sweep.",
		}),
		detailLookups: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_detail_lookups_total",
			Help: "Per-operation detail lookups performed.",
		}),
		ambiguousMatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_ambiguous_total",
			Help: "Intents left pending because multiple operations matched.",
		}),
		webhooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_notifications_total",
			Help: "Webhook notifications by HTTP status returned.",
		}, []string{"status"}),
	}
}

func (m *Metrics) SweepCompleted(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) MatchFound(confidence string) {
	if m == nil {
		return
	}
	m.matchesTotal.WithLabelValues(confidence).Inc()
}

func (m *Metrics) ConfirmationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPendingIntents(n int) {
	if m == nil {
		return
	}
	m.pendingIntents.Set(float64(n))
}

func (m *Metrics) DetailLookups(n int) {
	if m == nil {
		return
	}
	m.detailLookups.Add(float64(n))
}

func (m *Metrics) AmbiguousMatch() {
	if m == nil {
		return
	}
	m.ambiguousMatches.Inc()
}

func (m *Metrics) WebhookHandled(status string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(status).Inc()
}
