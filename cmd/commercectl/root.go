package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/commerce-ledger/internal/app"
	"github.com/josh-kwaku/commerce-ledger/internal/config"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type env struct {
	app    *app.App
	closer func() error
}

func newRootCmd() *cobra.Command {
	var e env
	root := &cobra.Command{
		Use:          "commercectl",
		Short:        "Operator commands for the commerce ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, closer, err := open()
			if err != nil {
				return err
			}
			e.app, e.closer = a, closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if e.closer != nil {
				return e.closer()
			}
			return nil
		},
	}

	root.AddCommand(
		newTopUpCmd(&e),
		newAdjustCmd(&e),
		newStatementCmd(&e),
		newReplayCmd(&e),
		newCancelCmd(&e),
		newRefundCmd(&e),
		newSweepCmd(&e),
	)
	return root
}

func open() (*app.App, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Init("commercectl", cfg.LogLevel, cfg.AppEnv)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	a, err := app.New(app.Options{Config: cfg, Pool: db, Logger: logger})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return a, db.Close, nil
}

// resolveCustomer accepts either a customer id or the email of the
// customer's login.
func resolveCustomer(ctx context.Context, a *app.App, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		if _, err := a.Repos.Customers.GetByID(ctx, id); err != nil {
			return uuid.Nil, fmt.Errorf("customer %s: %w", ref, err)
		}
		return id, nil
	}

	u, err := a.Repos.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(ref)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("no customer with email %q", ref)
		}
		return uuid.Nil, err
	}
	c, err := a.Repos.Customers.GetByUserID(ctx, u.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("customer for %s: %w", ref, err)
	}
	slog.Debug("customer resolved", "email", u.Email, "customer_id", c.ID)
	return c.ID, nil
}
