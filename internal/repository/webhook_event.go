package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const webhookEventColumns = `id, provider, idempotency_key, event_type, gateway_id, payload,
	status, attempts, last_attempt, created_at`

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (
			id, provider, idempotency_key, event_type, gateway_id, payload,
			status, attempts, last_attempt, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.Provider, event.IdempotencyKey, event.EventType, event.GatewayID,
		jsonText(event.Payload), event.Status, event.Attempts, event.LastAttempt, event.CreatedAt,
	)
	if err != nil {
		if IsDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending returns up to limit pending events and counts the attempt on
// each. Rows already claimed by a concurrent processor are skipped.
func (r *WebhookEventRepository) ClaimPending(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE webhook_events SET attempts = attempts + 1, last_attempt = now()
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE status = $1 AND (last_attempt IS NULL OR last_attempt < now() - interval '30 seconds')
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+webhookEventColumns,
		domain.WebhookEventStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return events, nil
}

func (r *WebhookEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1 WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func scanWebhookEvent(s scanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := s.Scan(
		&e.ID, &e.Provider, &e.IdempotencyKey, &e.EventType, &e.GatewayID, &e.Payload,
		&e.Status, &e.Attempts, &e.LastAttempt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
