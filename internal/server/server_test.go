package server_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/commerce-ledger/internal/app"
	"github.com/josh-kwaku/commerce-ledger/internal/domain"
	"github.com/josh-kwaku/commerce-ledger/internal/provisioning"
	"github.com/josh-kwaku/commerce-ledger/internal/server"
	"github.com/josh-kwaku/commerce-ledger/internal/testutil"
)

type instantProvisioner struct{}

func (instantProvisioner) Provision(_ context.Context, req provisioning.Request) (*provisioning.Result, error) {
	return &provisioning.Result{Reference: "ref-" + req.OrderUUID.String(), ActivationCode: "ACT-HTTP"}, nil
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c *client) do(method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out = map[string]any{"raw": string(raw)}
	}
	return resp, out
}

func setup(t *testing.T) (*app.App, *client) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	reg := prometheus.NewRegistry()
	a, err := app.New(app.Options{Config: testutil.TestConfig(), Pool: db, Registerer: reg, Provisioner: instantProvisioner{}})
	require.NoError(t, err)

	srv := httptest.NewServer(server.New(a, server.Options{Version: "test", Gatherer: reg}))
	t.Cleanup(srv.Close)
	return a, &client{t: t, base: srv.URL}
}

func data(body map[string]any) map[string]any {
	d, _ := body["data"].(map[string]any)
	return d
}

func TestIntegration_BusinessCheckoutOverHTTP(t *testing.T) {
	a, c := setup(t)
	db := a.Pool

	cust := testutil.SeedCustomer(t, db, "buyer@acme.test", domain.CustomerTypeB2B)
	testutil.SeedBalance(t, db, cust.ID, "100.00", "0.00")
	pkg := testutil.SeedPackage(t, db, testutil.PackageSeed{RetailPrice: "30.00"})

	resp, body := c.do(http.MethodPost, "/api/v1/auth/login",
		fmt.Sprintf(`{"email":"buyer@acme.test","password":%q}`, testutil.TestPassword), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	c.token = data(body)["token"].(string)

	checkoutBody := fmt.Sprintf(`{"package_id":%q}`, pkg.ID)
	key := map[string]string{"Idempotency-Key": "http-order-1"}

	resp, body = c.do(http.MethodPost, "/api/v1/checkout", checkoutBody, key)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, "completed", data(body)["status"])
	location := resp.Header.Get("Location")
	require.NotEmpty(t, location)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = c.do(http.MethodPost, "/api/v1/checkout", checkoutBody, key)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Idempotent-Replayed"))

	resp, body = c.do(http.MethodPost, "/api/v1/checkout", `{"package_id":"`+pkg.ID.String()+`","coupon_code":"X"}`, key)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", body["error"].(map[string]any)["code"])

	orderPath := location
	require.Eventually(t, func() bool {
		_, body := c.do(http.MethodGet, orderPath, "", nil)
		return data(body)["status"] == "completed"
	}, 5*time.Second, 25*time.Millisecond)

	resp, body = c.do(http.MethodGet, orderPath+"/invoice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["raw"], "INV-")

	resp, body = c.do(http.MethodGet, "/api/v1/balance", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "70.00", data(body)["balance"])

	resp, body = c.do(http.MethodGet, "/api/v1/balance/transactions?limit=10", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, data(body)["total"])

	assert.Equal(t, 1, testutil.CountRows(t, db, "orders", "customer_id = $1", cust.ID))
}

func TestIntegration_RequiresToken(t *testing.T) {
	_, c := setup(t)

	resp, body := c.do(http.MethodGet, "/api/v1/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "MISSING_TOKEN", body["error"].(map[string]any)["code"])

	c.token = "garbage"
	resp, _ = c.do(http.MethodGet, "/api/v1/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_WebhookInbox(t *testing.T) {
	a, c := setup(t)

	body := `{"event_id":"evt_1","type":"checkout.session.completed","gateway_id":"cs_missing","status":"paid"}`
	mac := hmac.New(sha256.New, []byte(a.Config.Gateway.WebhookSecret))
	mac.Write([]byte(body))
	sig := map[string]string{"X-Webhook-Signature": hex.EncodeToString(mac.Sum(nil))}

	resp, out := c.do(http.MethodPost, "/api/v1/webhooks/card", body, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, "received", data(out)["status"])

	resp, out = c.do(http.MethodPost, "/api/v1/webhooks/card", body, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "already_received", data(out)["status"])
	assert.Equal(t, 1, testutil.CountRows(t, a.Pool, "webhook_events", "idempotency_key = $1", "evt_1"))
}

func TestIntegration_OperationalEndpoints(t *testing.T) {
	_, c := setup(t)

	resp, _ := c.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["checks"].(map[string]any)["database"])

	resp, _ = c.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
