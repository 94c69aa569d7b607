// Package metrics exposes the treasury's Prometheus collectors. Every method
// is safe on a nil *Metrics so callers never guard their instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/midnightos/treasury/models"
)

const namespace = "treasury"

// Metrics holds the collectors.
type Metrics struct {
	proposalsCreated    prometheus.Counter
	votesCast           *prometheus.CounterVec
	tallies             *prometheus.CounterVec
	payouts             *prometheus.CounterVec
	providerCalls       *prometheus.HistogramVec
	pendingTransactions prometheus.Gauge
	sweeps              *prometheus.CounterVec
}

// New registers the collectors with registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		proposalsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_created_total",
			Help:      "Proposals created",
		}),
		votesCast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Ballots recorded, by choice",
		}, []string{"choice"}),
		tallies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tallies_total",
			Help:      "Closed votes, by outcome",
		}, []string{"outcome"}),
		payouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_total",
			Help:      "Payout attempts, by outcome",
		}, []string{"outcome"}),
		providerCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_call_seconds",
			Help:      "Ledger provider call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "result"}),
		pendingTransactions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transactions",
			Help:      "Transactions in INITIATED or SENT at the last reconciliation",
		}),
		sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Sweep runs, by job and result",
		}, []string{"job", "result"}),
	}
}

func (m *Metrics) ProposalCreated() {
	if m == nil {
		return
	}
	m.proposalsCreated.Inc()
}

func (m *Metrics) VoteCast(choice models.VoteChoice) {
	if m == nil {
		return
	}
	m.votesCast.WithLabelValues(string(choice)).Inc()
}

func (m *Metrics) Tallied(outcome models.ProposalStatus) {
	if m == nil {
		return
	}
	m.tallies.WithLabelValues(string(outcome)).Inc()
}

// Payout counts a payout attempt; outcome is "executed", "provider_error",
// "conflict" or "error".
func (m *Metrics) Payout(outcome string) {
	if m == nil {
		return
	}
	m.payouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PendingTransactions(n int) {
	if m == nil {
		return
	}
	m.pendingTransactions.Set(float64(n))
}

func (m *Metrics) Sweep(job string, err error) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(job, result(err)).Inc()
}

// ObserveProviderCall matches ledger.Observer.
func (m *Metrics) ObserveProviderCall(op string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(op, result(err)).Observe(took.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
