package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ChargeTotal counts saved-card charge attempts by outcome.
	ChargeTotal *prometheus.CounterVec
	// IntentTotal counts payment intent and checkout session creations by kind and outcome.
	IntentTotal *prometheus.CounterVec
	// VerifyTotal counts verification calls by reported gateway status.
	VerifyTotal *prometheus.CounterVec
	// ReconcileSweepTotal counts reconciliation sweep runs by outcome.
	ReconcileSweepTotal *prometheus.CounterVec
	// ReconciliationGaps counts charges that succeeded at the gateway but
	// failed to persist, left for the sweep to repair.
	ReconciliationGaps prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ChargeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_charge_total",
			Help:      "Count of saved-card charge attempts by outcome.",
		}, []string{"result"})
		IntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of payment intent and checkout session creations.",
		}, []string{"kind", "result"})
		VerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment verifications by gateway status.",
		}, []string{"status"})
		ReconcileSweepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_sweep_total",
			Help:      "Count of reconciliation sweep runs by outcome.",
		}, []string{"result"})
		ReconciliationGaps = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconciliation_gaps_total",
			Help:      "Charges confirmed by the gateway whose store write failed.",
		})
		reg.MustRegister(ChargeTotal, IntentTotal, VerifyTotal, ReconcileSweepTotal, ReconciliationGaps)
	})
}
