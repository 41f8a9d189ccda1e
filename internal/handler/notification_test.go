package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type mockReporter struct {
	id     uuid.UUID
	status domain.NotificationStatus
	reason string
	err    error
}

func (m *mockReporter) ReportOutcome(_ context.Context, id uuid.UUID, status domain.NotificationStatus, reason string) error {
	m.id, m.status, m.reason = id, status, reason
	return m.err
}

func TestNotificationReceipt(t *testing.T) {
	id := uuid.New()
	delivered := `{"status":"delivered"}`

	tests := []struct {
		name       string
		id         string
		body       string
		signature  string
		err        error
		wantStatus int
		wantCalled bool
	}{
		{name: "delivered", id: id.String(), body: delivered, signature: signPayload(delivered, testWebhookSecret), wantStatus: http.StatusOK, wantCalled: true},
		{name: "bad signature", id: id.String(), body: delivered, signature: "deadbeef", wantStatus: http.StatusUnauthorized},
		{name: "unknown status", id: id.String(), body: `{"status":"sent"}`, signature: signPayload(`{"status":"sent"}`, testWebhookSecret), wantStatus: http.StatusBadRequest},
		{name: "bad id", id: "nope", body: delivered, signature: signPayload(delivered, testWebhookSecret), wantStatus: http.StatusNotFound},
		{
			name: "unknown notification", id: id.String(), body: delivered, signature: signPayload(delivered, testWebhookSecret),
			err: fmt.Errorf("ReportOutcome: %w", domain.ErrNotFound), wantStatus: http.StatusNotFound, wantCalled: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rep := &mockReporter{err: tc.err}
			h := NewNotificationHandler(rep, testWebhookSecret)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+tc.id+"/receipt", strings.NewReader(tc.body))
			req.SetPathValue("id", tc.id)
			req.Header.Set("X-Webhook-Signature", tc.signature)
			rr := httptest.NewRecorder()
			h.Receipt(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantCalled {
				assert.Equal(t, id, rep.id)
				assert.Equal(t, domain.NotificationDelivered, rep.status)
			} else {
				assert.Equal(t, uuid.Nil, rep.id)
			}
		})
	}
}
