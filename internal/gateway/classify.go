package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

// ClassifyTransport wraps an error returned by an HTTP client. Timeouts,
// cancelled deadlines and network failures are transient.
func ClassifyTransport(op string, err error) error {
	transient := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) {
		transient = true
	}
	if errors.Is(err, context.Canceled) {
		transient = false
	}
	return &domain.GatewayError{Op: op, Transient: transient, Err: err}
}

// ClassifyStatus turns a non-2xx response into a GatewayError. 429 and 5xx
// are transient; every other status is permanent.
func ClassifyStatus(op string, status int, body string) error {
	transient := status == http.StatusTooManyRequests || status >= 500
	return &domain.GatewayError{
		Op:         op,
		Transient:  transient,
		StatusCode: status,
		Err:        fmt.Errorf("unexpected status %d: %s", status, body),
	}
}
