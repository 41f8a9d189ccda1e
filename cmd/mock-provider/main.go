// Command mock-provider stands in for the external systems the API talks
// to during local runs: the card and bank gateways, the provisioning
// service and the exchange-rate feed.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/josh-kwaku/commerce-ledger/internal/logging"
)

type session struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Amount    string            `json:"amount"`
	Reference string            `json:"-"`
	Metadata  map[string]string `json:"metadata"`
}

// gateway keeps sessions in memory. A session starts in the gateway's
// pending status and settles on the first status read.
type gateway struct {
	prefix  string
	pending string
	settled string

	mu       sync.Mutex
	sessions map[string]*session
	refunds  map[string]string
}

func newGateway(prefix, pending, settled string) *gateway {
	return &gateway{
		prefix:   prefix,
		pending:  pending,
		settled:  settled,
		sessions: make(map[string]*session),
		refunds:  make(map[string]string),
	}
}

type checkoutBody struct {
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Email     string `json:"email"`
}

func (g *gateway) routes(mux *http.ServeMux, base string) {
	mux.HandleFunc("POST "+base+"/checkouts", g.createCheckout)
	mux.HandleFunc("GET "+base+"/payments/{id}", g.getPayment)
	mux.HandleFunc("POST "+base+"/refunds", g.refund)
}

func (g *gateway) createCheckout(w http.ResponseWriter, r *http.Request) {
	var body checkoutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid checkout body"})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Same idempotency key, same session.
	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		if s, ok := g.sessions[key]; ok {
			writeJSON(w, http.StatusOK, g.checkoutView(s))
			return
		}
	}

	s := &session{
		ID:        g.prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Status:    g.pending,
		Amount:    body.Amount,
		Reference: body.Reference,
		Metadata:  map[string]string{"reference": body.Reference},
	}
	g.sessions[s.ID] = s
	if key != "" {
		g.sessions[key] = s
	}
	slog.Info("checkout session created", "gateway", g.prefix, "session_id", s.ID, "reference", body.Reference, "amount", body.Amount)
	writeJSON(w, http.StatusCreated, g.checkoutView(s))
}

func (g *gateway) checkoutView(s *session) map[string]string {
	return map[string]string{
		"id":     s.ID,
		"url":    fmt.Sprintf("http://localhost:8081/pay/%s", s.ID),
		"status": s.Status,
	}
}

func (g *gateway) getPayment(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such payment"})
		return
	}
	s.Status = g.settled

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             s.ID,
		"status":         s.Status,
		"amount":         s.Amount,
		"transaction_id": "txn_" + s.ID,
		"metadata":       s.Metadata,
	})
}

type refundBody struct {
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
}

func (g *gateway) refund(w http.ResponseWriter, r *http.Request) {
	var body refundBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid refund body"})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.sessions[body.PaymentID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such payment"})
		return
	}
	key := r.Header.Get("Idempotency-Key")
	id, ok := g.refunds[key]
	if !ok || key == "" {
		id = "re_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		g.refunds[key] = id
	}
	slog.Info("refund issued", "gateway", g.prefix, "payment_id", body.PaymentID, "amount", body.Amount, "refund_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "succeeded"})
}

type provisionBody struct {
	OrderID   string `json:"order_id"`
	PackageID string `json:"package_id"`
}

// provisioner fails every order's first attempt so the retry path is
// exercised locally.
type provisioner struct {
	mu   sync.Mutex
	seen map[string]int
}

func (p *provisioner) provision(w http.ResponseWriter, r *http.Request) {
	var body provisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid provision body"})
		return
	}

	p.mu.Lock()
	p.seen[body.OrderID]++
	attempt := p.seen[body.OrderID]
	p.mu.Unlock()

	if attempt == 1 {
		slog.Info("provisioning unavailable", "order_id", body.OrderID)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "upstream busy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"reference":       "prov-" + body.OrderID,
		"activation_code": strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]),
	})
}

func rates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"rates": map[string]string{
			"USD": "1.087",
			"GBP": "0.857",
			"CHF": "0.962",
			"JPY": "162.41",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func main() {
	logging.Init("mock-provider", "info", os.Getenv("APP_ENV"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	newGateway("cs_", "open", "paid").routes(mux, "/card")
	newGateway("bt_", "PENDING", "SETTLED").routes(mux, "/bank")

	prov := &provisioner{seen: make(map[string]int)}
	mux.HandleFunc("POST /provision/orders", prov.provision)
	mux.HandleFunc("GET /rates", rates)

	slog.Info("mock provider started", "addr", ":8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
