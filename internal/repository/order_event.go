package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

const orderEventColumns = `id, order_id, seq, event_type, from_status, to_status, actor, payload, created_at`

type OrderEventRepository struct {
	db *sql.DB
}

func NewOrderEventRepository(db *sql.DB) *OrderEventRepository {
	return &OrderEventRepository{db: db}
}

// Append writes e with the next sequence number for its order and sets e.Seq.
// The caller must hold the order row lock.
func (r *OrderEventRepository) Append(ctx context.Context, tx *sql.Tx, e *domain.OrderEvent) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_events (id, order_id, seq, event_type, from_status, to_status, actor, payload, created_at)
		SELECT $1::uuid, $2::bigint, COALESCE(MAX(seq), 0) + 1, $3::text, $4::text, $5::text, $6::text, $7::jsonb, $8::timestamptz
		FROM order_events WHERE order_id = $2
		RETURNING seq`,
		e.ID, e.OrderID, e.EventType, e.FromStatus, e.ToStatus, e.Actor, jsonText(e.Payload), e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

func (r *OrderEventRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.OrderEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderEventColumns+` FROM order_events
		WHERE order_id = $1 ORDER BY seq`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByOrder: %w", err)
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var e domain.OrderEvent
		var from sql.NullString
		if err := rows.Scan(
			&e.ID, &e.OrderID, &e.Seq, &e.EventType, &from, &e.ToStatus,
			&e.Actor, &e.Payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ListByOrder: scan: %w", err)
		}
		if from.Valid {
			s := domain.OrderStatus(from.String)
			e.FromStatus = &s
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOrder: rows: %w", err)
	}
	return events, nil
}
