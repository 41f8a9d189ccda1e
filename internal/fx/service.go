// Package fx serves read-only display conversions out of the settlement
// currency. Rates are pulled from a Source and cached in memory; the ledger
// never sees them.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

// Source returns units of each currency per one unit of the settlement
// currency.
type Source interface {
	Fetch(ctx context.Context) (map[string]decimal.Decimal, error)
}

type Quote struct {
	From      string
	To        string
	Rate      decimal.Decimal
	FetchedAt time.Time
}

type Conversion struct {
	Amount   decimal.Decimal
	Currency string
	Rate     decimal.Decimal
}

type RateService struct {
	base   string
	source Source
	logger *slog.Logger

	mu        sync.RWMutex
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

func NewRateService(base string, source Source, logger *slog.Logger) *RateService {
	return &RateService{
		base:   strings.ToUpper(base),
		source: source,
		logger: logger,
		rates:  map[string]decimal.Decimal{},
	}
}

// Refresh replaces the cached rates. On error the previous rates stay in
// place.
func (s *RateService) Refresh(ctx context.Context) error {
	rates, err := s.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("Refresh: %w", err)
	}
	clean := make(map[string]decimal.Decimal, len(rates))
	for cur, r := range rates {
		if r.IsPositive() {
			clean[strings.ToUpper(cur)] = r
		}
	}

	s.mu.Lock()
	s.rates = clean
	s.fetchedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

func (s *RateService) Start(ctx context.Context, interval time.Duration) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("initial fx refresh failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("fx refresh failed", "error", err)
			}
		}
	}
}

// FetchedAt is when the rates were last refreshed; zero before the first
// successful refresh.
func (s *RateService) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

func (s *RateService) GetRate(_ context.Context, to string) (*Quote, error) {
	to = strings.ToUpper(to)
	if to == s.base {
		return &Quote{From: s.base, To: to, Rate: decimal.NewFromInt(1), FetchedAt: time.Now().UTC()}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rates[to]
	if !ok {
		return nil, fmt.Errorf("GetRate: %w: no rate for %s/%s", domain.ErrValidation, s.base, to)
	}
	return &Quote{From: s.base, To: to, Rate: r, FetchedAt: s.fetchedAt}, nil
}

// Convert turns a settlement amount into a display amount in currency to,
// rounded to two decimals.
func (s *RateService) Convert(ctx context.Context, amount decimal.Decimal, to string) (*Conversion, error) {
	q, err := s.GetRate(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("Convert: %w", err)
	}
	return &Conversion{
		Amount:   domain.RoundMoney(amount.Mul(q.Rate)),
		Currency: q.To,
		Rate:     q.Rate,
	}, nil
}

// StaticSource serves a fixed table.
type StaticSource map[string]decimal.Decimal

func (s StaticSource) Fetch(context.Context) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// DefaultRates are used when no rate feed is configured.
var DefaultRates = StaticSource{
	"USD": decimal.RequireFromString("1.087"),
	"GBP": decimal.RequireFromString("0.858"),
	"CHF": decimal.RequireFromString("0.962"),
}

// HTTPSource pulls {"rates": {"USD": "1.08", ...}} from a URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type ratesResponse struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (h *HTTPSource) Fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("Fetch: build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Fetch: unexpected status %d", resp.StatusCode)
	}
	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("Fetch: decode: %w", err)
	}
	return body.Rates, nil
}
