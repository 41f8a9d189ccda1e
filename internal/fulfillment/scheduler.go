package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type retryClaimer interface {
	ClaimDueRetries(ctx context.Context, now, until time.Time, limit int) ([]int64, error)
}

type claimedAttempter interface {
	AttemptClaimed(ctx context.Context, orderID int64) (*domain.Order, error)
}

// Scheduler retries orders waiting in pending_retry once they are due, and
// resumes processing orders whose attempt stopped before recording an
// outcome.
type Scheduler struct {
	orders      retryClaimer
	attempter   claimedAttempter
	logger      *slog.Logger
	interval    time.Duration
	lease       time.Duration
	batchSize   int
	concurrency int
	now         func() time.Time
}

func NewScheduler(orders retryClaimer, attempter claimedAttempter, logger *slog.Logger, interval, lease time.Duration) *Scheduler {
	return &Scheduler{
		orders:      orders,
		attempter:   attempter,
		logger:      logger,
		interval:    interval,
		lease:       lease,
		batchSize:   25,
		concurrency: 4,
		now:         dbNow,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("retry scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("retry pass failed", "error", err)
			}
		}
	}
}

// Tick claims every due order and attempts each one. It returns the number
// of orders claimed. pending_retry orders that used up their retries are
// never claimed.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.orders.ClaimDueRetries(ctx, now, now.Add(s.lease), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("Tick: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			o, err := s.attempter.AttemptClaimed(gctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrOrderNotRetryable) {
					s.logger.Info("claimed order no longer retryable", "order_id", id, "error", err)
					return nil
				}
				s.logger.Error("scheduled attempt failed", "order_id", id, "error", err)
				return nil
			}
			s.logger.Info("scheduled attempt finished", "order_id", id, "status", o.Status)
			return nil
		})
	}
	_ = g.Wait()
	return len(ids), nil
}
