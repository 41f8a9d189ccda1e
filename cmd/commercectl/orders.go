package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/commerce-ledger/internal/app"
	"github.com/josh-kwaku/commerce-ledger/internal/fulfillment"
)

// resolveOrder accepts the numeric order id or the public order uuid.
func resolveOrder(ctx context.Context, a *app.App, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return 0, fmt.Errorf("order must be a numeric id or uuid, got %q", ref)
	}
	o, err := a.Repos.Orders.GetByUUID(ctx, id)
	if err != nil {
		return 0, err
	}
	return o.ID, nil
}

func newReplayCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <order-id|order-uuid>",
		Short: "Rebuild an order's status from its event log without repeating side effects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := resolveOrder(ctx, e.app, args[0])
			if err != nil {
				return err
			}

			res, err := e.app.Replayer.Replay(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "order %s: %s (payment %s), %d events folded\n",
				res.Order.UUID, res.Order.Status, res.Order.PaymentStatus, res.Events)
			if res.Changed {
				fmt.Fprintln(out, "stored status was out of date and has been rewritten")
			}
			for _, eff := range res.Suppressed {
				if eff.Template != "" {
					fmt.Fprintf(out, "  suppressed %s (%s)\n", eff.Kind, eff.Template)
					continue
				}
				fmt.Fprintf(out, "  suppressed %s\n", eff.Kind)
			}
			return nil
		},
	}
}

func newSweepCmd(e *env) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile orders stuck awaiting payment against their gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := e.app.Checkout.Sweep(cmd.Context(), olderThan, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d orders\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "only orders awaiting payment for at least this long")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum orders to reconcile")
	return cmd
}

func newCancelCmd(e *env) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <order-id|order-uuid>",
		Short: "Cancel an order that has not completed, refunding anything already paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := resolveOrder(ctx, e.app, args[0])
			if err != nil {
				return err
			}
			o, err := e.app.Machine.Cancel(ctx, id, reason, fulfillment.ActorOperator)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s: %s (payment %s)\n", o.UUID, o.Status, o.PaymentStatus)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "cancelled by operator", "recorded on the order event")
	return cmd
}

func newRefundCmd(e *env) *cobra.Command {
	var (
		amount string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "refund <order-id|order-uuid>",
		Short: "Refund part or all of an order's payment without changing its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			value := decimal.Zero
			if amount != "" {
				var err error
				if value, err = decimal.NewFromString(amount); err != nil || !value.IsPositive() {
					return fmt.Errorf("--amount must be a positive decimal, got %q", amount)
				}
			}
			id, err := resolveOrder(ctx, e.app, args[0])
			if err != nil {
				return err
			}
			p, err := e.app.Machine.Refund(ctx, id, value, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payment %s: %s, refunded %s of %s\n",
				p.ID, p.Status, p.RefundedAmount.StringFixed(2), p.Amount.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount to refund; everything refundable when empty")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "recorded on the order event")
	return cmd
}
