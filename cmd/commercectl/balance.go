package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newTopUpCmd(e *env) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "top-up <customer> <amount>",
		Short: "Credit a customer's balance and issue a top-up invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			amount, err := decimal.NewFromString(args[1])
			if err != nil || !amount.IsPositive() {
				return fmt.Errorf("amount must be a positive decimal, got %q", args[1])
			}
			customerID, err := resolveCustomer(ctx, e.app, args[0])
			if err != nil {
				return err
			}

			txn, inv, err := e.app.Ledger.TopUp(ctx, customerID, amount, description)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "credited %s, balance now %s\n", amount.StringFixed(2), txn.BalanceAfter.StringFixed(2))
			if inv != nil {
				fmt.Fprintf(out, "invoice %s\n", inv.InvoiceNumber)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "manual top-up", "ledger entry description")
	return cmd
}

func newAdjustCmd(e *env) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "adjust <customer> <delta>",
		Short: "Apply a signed manual correction to a customer's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			delta, err := decimal.NewFromString(args[1])
			if err != nil || delta.IsZero() {
				return fmt.Errorf("delta must be a non-zero decimal, got %q", args[1])
			}
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			customerID, err := resolveCustomer(ctx, e.app, args[0])
			if err != nil {
				return err
			}

			txn, err := e.app.Ledger.AdjustBalance(ctx, customerID, delta, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "adjusted by %s, balance now %s\n", delta.StringFixed(2), txn.BalanceAfter.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the balance is being corrected")
	return cmd
}

func newStatementCmd(e *env) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "statement <customer>",
		Short: "Issue a statement invoice for a customer's recent ledger activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			customerID, err := resolveCustomer(ctx, e.app, args[0])
			if err != nil {
				return err
			}

			inv, err := e.app.Ledger.Statement(ctx, customerID, time.Now().UTC().Add(-since))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "statement %s: %d entries, net %s\n",
				inv.InvoiceNumber, len(inv.LineItems), inv.Total.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 30*24*time.Hour, "how far back the statement reaches")
	return cmd
}
