package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMustNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNew(reg)
	second := MustNew(reg)

	first.OperatorAlert("notification_exhausted")
	second.OperatorAlert("notification_exhausted")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.operatorAlerts.WithLabelValues("notification_exhausted")))
}

func TestMetrics_RecordsCheckout(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())
	m.Checkout("b2b", "completed", 120*time.Millisecond)
	m.Checkout("b2b", "completed", 80*time.Millisecond)
	m.Checkout("b2c", "failed", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkouts.WithLabelValues("b2b", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkouts.WithLabelValues("b2c", "failed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Checkout("b2b", "completed", time.Second)
		m.LedgerOp("purchase", "ok")
		m.FulfillmentAttempt("completed")
		m.Transition("pending", "processing")
		m.Notification("order_completed", "sent")
		m.InvoiceIssued("purchase")
		m.OperatorAlert("x")
		m.TxConflictRetry()
	})
}
