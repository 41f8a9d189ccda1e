// Package provisioning calls the upstream connectivity provider that
// activates a purchased package.
package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/gateway"
	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type Request struct {
	OrderUUID  uuid.UUID
	PackageID  uuid.UUID
	CustomerID uuid.UUID
	Email      string
}

type Result struct {
	Reference      string
	ActivationCode string
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type provisionPayload struct {
	OrderID    string `json:"order_id"`
	PackageID  string `json:"package_id"`
	CustomerID string `json:"customer_id"`
	Email      string `json:"email,omitempty"`
}

type provisionResponse struct {
	Reference      string `json:"reference"`
	ActivationCode string `json:"activation_code"`
}

// Provision activates the package for an order. The order uuid doubles as the
// idempotency key, so repeated attempts for the same order are safe upstream.
// Errors are *domain.GatewayError classified transient or permanent.
func (c *Client) Provision(ctx context.Context, req Request) (*Result, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(provisionPayload{
		OrderID:    req.OrderUUID.String(),
		PackageID:  req.PackageID.String(),
		CustomerID: req.CustomerID.String(),
		Email:      req.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("Provision: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Provision: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.OrderUUID.String())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	log.Info("provisioning request sent", "order_uuid", req.OrderUUID, "package_id", req.PackageID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, gateway.ClassifyTransport("Provision", err)
	}
	defer resp.Body.Close()

	log.Info("provisioning response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, gateway.ClassifyStatus("Provision", resp.StatusCode, string(respBody))
	}

	var out provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.GatewayError{Op: "Provision", Transient: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Reference == "" {
		return nil, &domain.GatewayError{Op: "Provision", Err: fmt.Errorf("response missing reference")}
	}
	return &Result{Reference: out.Reference, ActivationCode: out.ActivationCode}, nil
}
