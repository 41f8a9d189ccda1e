package notification

import (
	"context"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

// LogSender writes messages to the structured log instead of an email
// transport.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, n domain.Notification) error {
	logging.FromContext(ctx).Info("notification delivered to log",
		"notification_id", n.ID,
		"template", n.Template,
		"recipient", n.Recipient,
		"payload", string(n.Payload),
	)
	return nil
}
