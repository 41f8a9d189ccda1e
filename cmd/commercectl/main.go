// Command commercectl is the operator tool for balances, invoices and order
// repair: top-ups, adjustments, statements, cancellations, refunds, replay and
// the awaiting-payment sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
