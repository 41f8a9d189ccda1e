// Package notification queues customer messages inside business
// transactions and delivers them later with retries.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type Message struct {
	// DedupeKey makes enqueueing idempotent, e.g. "order:42:order_completed".
	DedupeKey string
	Template  string
	Recipient string
	Data      map[string]any
}

type enqueuer interface {
	Enqueue(ctx context.Context, q repository.Querier, n *domain.Notification) (uuid.UUID, bool, error)
}

type Queue struct {
	store       enqueuer
	maxAttempts int
	now         func() time.Time
}

func NewQueue(store enqueuer, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Queue{store: store, maxAttempts: maxAttempts, now: time.Now}
}

// Enqueue stores msg in q's transaction. Enqueueing the same dedupe key twice
// returns the first message's id.
func (q *Queue) Enqueue(ctx context.Context, tx repository.Querier, msg Message) (uuid.UUID, error) {
	if msg.DedupeKey == "" || msg.Template == "" {
		return uuid.Nil, fmt.Errorf("Enqueue: %w: dedupe key and template are required", domain.ErrValidation)
	}
	payload, err := json.Marshal(msg.Data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("Enqueue: marshal: %w", err)
	}

	now := q.now().UTC()
	id, inserted, err := q.store.Enqueue(ctx, tx, &domain.Notification{
		ID:            uuid.New(),
		DedupeKey:     msg.DedupeKey,
		Template:      msg.Template,
		Recipient:     msg.Recipient,
		Payload:       payload,
		Status:        domain.NotificationQueued,
		MaxAttempts:   q.maxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("Enqueue: %w", err)
	}
	if !inserted {
		logging.FromContext(ctx).Debug("notification already queued", "dedupe_key", msg.DedupeKey, "notification_id", id)
	}
	return id, nil
}

// DedupeKey builds the key used for order lifecycle messages.
func DedupeKey(orderID int64, template string) string {
	return fmt.Sprintf("order:%d:%s", orderID, template)
}
