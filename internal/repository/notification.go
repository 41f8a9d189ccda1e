package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const notificationColumns = `id, dedupe_key, template, recipient, payload, status,
	attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at`

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Enqueue inserts n unless its dedupe key is already queued and returns the id
// of the stored row. The second return is false for a duplicate.
func (r *NotificationRepository) Enqueue(ctx context.Context, q Querier, n *domain.Notification) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := q.QueryRowContext(ctx,
		`INSERT INTO notifications (
			id, dedupe_key, template, recipient, payload, status,
			attempts, max_attempts, next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING id`,
		n.ID, n.DedupeKey, n.Template, n.Recipient, jsonText(n.Payload), domain.NotificationQueued,
		n.MaxAttempts, n.NextAttemptAt, n.CreatedAt,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("Enqueue: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`SELECT id FROM notifications WHERE dedupe_key = $1`, n.DedupeKey,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("Enqueue: existing: %w", err)
	}
	return id, false, nil
}

// ClaimDue leases up to limit queued notifications whose next attempt is due by
// pushing next_attempt_at forward, so a concurrent dispatcher skips them.
func (r *NotificationRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE notifications SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = $3 AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns,
		now, now.Add(lease), domain.NotificationQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimDue: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimDue: scan: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimDue: rows: %w", err)
	}
	return out, nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id,
	)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return n, nil
}

// RecordAttempt stores the outcome of one send: the new status, the attempt
// count, when to try again and the last error.
func (r *NotificationRepository) RecordAttempt(ctx context.Context, id uuid.UUID, status domain.NotificationStatus, attempts int, nextAttemptAt time.Time, lastError *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = $1, attempts = $2, next_attempt_at = $3,
			last_error = $4, updated_at = now()
		WHERE id = $5`,
		status, attempts, nextAttemptAt, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RecordAttempt: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("RecordAttempt: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *NotificationRepository) CountByDedupeKey(ctx context.Context, key string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE dedupe_key = $1`, key,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountByDedupeKey: %w", err)
	}
	return n, nil
}

func scanNotification(s scanner) (*domain.Notification, error) {
	var n domain.Notification
	err := s.Scan(
		&n.ID, &n.DedupeKey, &n.Template, &n.Recipient, &n.Payload, &n.Status,
		&n.Attempts, &n.MaxAttempts, &n.NextAttemptAt, &n.LastError, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
