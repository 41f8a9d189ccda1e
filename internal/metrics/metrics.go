package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "commerce"

// Metrics groups the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	checkouts         *prometheus.CounterVec
	checkoutDuration  *prometheus.HistogramVec
	ledgerOps         *prometheus.CounterVec
	fulfillment       *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	invoices          *prometheus.CounterVec
	operatorAlerts    *prometheus.CounterVec
	txConflictRetries prometheus.Counter
}

// MustNew registers the collectors with reg, reusing collectors that are
// already registered under the same name. Any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "total",
			Help: "Checkout attempts by customer segment and outcome.",
		}, []string{"segment", "outcome"}),
		checkoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "duration_seconds",
			Help:    "Time spent creating a checkout.",
			Buckets: prometheus.DefBuckets,
		}, []string{"segment"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "operations_total",
			Help: "Balance ledger operations by transaction type and outcome.",
		}, []string{"type", "outcome"}),
		fulfillment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fulfillment", Name: "attempts_total",
			Help: "Fulfillment attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fulfillment", Name: "transitions_total",
			Help: "Order status transitions.",
		}, []string{"from", "to"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notification", Name: "deliveries_total",
			Help: "Notification send outcomes.",
		}, []string{"template", "outcome"}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "invoice", Name: "issued_total",
			Help: "Invoices issued by type.",
		}, []string{"type"}),
		operatorAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operator_alerts_total",
			Help: "Terminal failures that need an operator.",
		}, []string{"kind"}),
		txConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "db", Name: "tx_conflict_retries_total",
			Help: "Transactions rerun after a lock conflict.",
		}),
	}

	m.checkouts = register(reg, m.checkouts)
	m.checkoutDuration = register(reg, m.checkoutDuration)
	m.ledgerOps = register(reg, m.ledgerOps)
	m.fulfillment = register(reg, m.fulfillment)
	m.transitions = register(reg, m.transitions)
	m.notifications = register(reg, m.notifications)
	m.invoices = register(reg, m.invoices)
	m.operatorAlerts = register(reg, m.operatorAlerts)
	m.txConflictRetries = register(reg, m.txConflictRetries)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) Checkout(segment, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(segment, outcome).Inc()
	m.checkoutDuration.WithLabelValues(segment).Observe(d.Seconds())
}

func (m *Metrics) LedgerOp(typ, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) FulfillmentAttempt(outcome string) {
	if m == nil {
		return
	}
	m.fulfillment.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Notification(template, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(template, outcome).Inc()
}

func (m *Metrics) InvoiceIssued(typ string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(typ).Inc()
}

func (m *Metrics) OperatorAlert(kind string) {
	if m == nil {
		return
	}
	m.operatorAlerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) TxConflictRetry() {
	if m == nil {
		return
	}
	m.txConflictRetries.Inc()
}
