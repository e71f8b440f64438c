package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics are the business counters exported on /metrics.
type EngineMetrics struct {
	StatusTransitions  *prometheus.CounterVec
	LedgerEvents       *prometheus.CounterVec
	LedgerAmount       *prometheus.CounterVec
	Reconciliations    *prometheus.CounterVec
	MutationConflicts  prometheus.Counter
	WebhookOutcomes    *prometheus.CounterVec
	OnlineTxSwept      prometheus.Counter
	PatchesPublished   *prometheus.CounterVec
	PatchesDropped     *prometheus.CounterVec
	StreamSubscribers  *prometheus.GaugeVec
	MutationDurationMs *prometheus.HistogramVec
}

// NewEngineMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which is what tests want.
func NewEngineMetrics(namespace string, reg prometheus.Registerer) *EngineMetrics {
	if namespace == "" {
		namespace = "order_engine"
	}
	m := &EngineMetrics{
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_transitions_total",
			Help: "Order status transitions by target status and rollback flag",
		}, []string{"status", "rollback"}),
		LedgerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_events_total",
			Help: "Ledger operations by kind (payment, refund, void) and method",
		}, []string{"kind", "method"}),
		LedgerAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_amount_minor_total",
			Help: "Sum of appended ledger amounts in minor units",
		}, []string{"kind", "currency"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "item_reconciliations_total",
			Help: "Item edits by outcome (APPLIED, MODIFIED, LIMITATION)",
		}, []string{"outcome"}),
		MutationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "mutation_conflicts_total",
			Help: "Optimistic version conflicts that triggered a retry",
		}),
		WebhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_webhooks_total",
			Help: "Provider webhooks by outcome",
		}, []string{"provider", "outcome"}),
		OnlineTxSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "online_transactions_swept_total",
			Help: "Online transactions cancelled by the timeout sweeper",
		}),
		PatchesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "patches_published_total",
			Help: "Patch envelopes delivered to subscribers by topic kind",
		}, []string{"topic"}),
		PatchesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "patches_dropped_total",
			Help: "Patch envelopes dropped because a subscriber buffer was full",
		}, []string{"topic"}),
		StreamSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stream_subscribers",
			Help: "Currently connected stream subscribers by topic kind",
		}, []string{"topic"}),
		MutationDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "mutation_duration_ms",
			Help:    "Read-modify-persist cycle latency",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"command"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.StatusTransitions, m.LedgerEvents, m.LedgerAmount, m.Reconciliations,
			m.MutationConflicts, m.WebhookOutcomes, m.OnlineTxSwept,
			m.PatchesPublished, m.PatchesDropped, m.StreamSubscribers, m.MutationDurationMs,
		)
	}
	return m
}
