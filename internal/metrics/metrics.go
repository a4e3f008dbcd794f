package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Metrics holds the collectors exported by the order engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
	ledgerOps   *prometheus.CounterVec
	txRetries   *prometheus.CounterVec
	notifyDrops prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_transitions_total",
			Help:      "Order status transition attempts by edge and result.",
		}, []string{"from", "to", "result"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_ledger_ops_total",
			Help:      "Inventory ledger adjustments by operation and result.",
		}, []string{"op", "result"}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_tx_retries_total",
			Help:      "Order operations retried after a transaction conflict.",
		}, []string{"op"}),
		notifyDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_notifications_dropped_total",
			Help:      "Status notifications dropped because the queue was full or delivery failed.",
		}),
	}
	reg.MustRegister(m.transitions, m.ledgerOps, m.txRetries, m.notifyDrops)
	return m
}

func (m *Metrics) Transition(from, to, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, result).Inc()
}

func (m *Metrics) LedgerOp(op, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) TxRetry(op string) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.notifyDrops.Inc()
}
