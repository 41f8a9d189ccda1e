package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type rateClock interface {
	FetchedAt() time.Time
}

type HealthHandler struct {
	db       pinger
	rates    rateClock
	maxStale time.Duration
	version  string
}

func NewHealthHandler(db pinger, rates rateClock, maxStale time.Duration, version string) *HealthHandler {
	return &HealthHandler{db: db, rates: rates, maxStale: maxStale, version: version}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness fails only on the database. Stale display rates are reported
// but do not take the instance out of rotation.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "fx_rates": "ok"}
	httpStatus := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		slog.Warn("readiness check failed: database unreachable", "error", err)
		checks["database"] = "down"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.rates != nil {
		if fetched := h.rates.FetchedAt(); fetched.IsZero() || time.Since(fetched) > h.maxStale {
			checks["fx_rates"] = "stale"
		}
	}

	overallStatus := "ok"
	if httpStatus != http.StatusOK {
		overallStatus = "down"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
