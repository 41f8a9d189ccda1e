package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/commerce-ledger/internal/auth"
	"github.com/josh-kwaku/commerce-ledger/internal/repository"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*repository.IdempotencyCacheEntry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*repository.IdempotencyCacheEntry)}
}

func (m *memoryCache) Get(_ context.Context, key, scope string) (*repository.IdempotencyCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[scope+"/"+key], nil
}

func (m *memoryCache) Set(_ context.Context, e *repository.IdempotencyCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Scope+"/"+e.Key] = e
	return nil
}

func countingHandler(status int, calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":true}`))
	})
}

func post(h http.Handler, key, body string, customer uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if customer != uuid.Nil {
		req = req.WithContext(auth.ContextWithPrincipal(req.Context(), &auth.Principal{CustomerID: customer}))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIdempotency_ReplaysSameRequest(t *testing.T) {
	var calls int
	h := Idempotency(newMemoryCache())(countingHandler(http.StatusCreated, &calls))
	customer := uuid.New()

	first := post(h, "k1", `{"package_id":"a"}`, customer)
	second := post(h, "k1", `{"package_id":"a"}`, customer)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestIdempotency_DifferentBodyConflicts(t *testing.T) {
	var calls int
	h := Idempotency(newMemoryCache())(countingHandler(http.StatusCreated, &calls))
	customer := uuid.New()

	post(h, "k1", `{"package_id":"a"}`, customer)
	rr := post(h, "k1", `{"package_id":"b"}`, customer)

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "IDEMPOTENCY_CONFLICT")
}

func TestIdempotency_KeysAreScopedPerCustomer(t *testing.T) {
	var calls int
	h := Idempotency(newMemoryCache())(countingHandler(http.StatusCreated, &calls))

	post(h, "shared", `{}`, uuid.New())
	rr := post(h, "shared", `{}`, uuid.New())

	assert.Equal(t, 2, calls)
	assert.Empty(t, rr.Header().Get("X-Idempotent-Replayed"))
}

func TestIdempotency_ServerErrorsAreNotCached(t *testing.T) {
	var calls int
	cache := newMemoryCache()
	h := Idempotency(cache)(countingHandler(http.StatusInternalServerError, &calls))

	post(h, "k1", `{}`, uuid.Nil)
	post(h, "k1", `{}`, uuid.Nil)

	assert.Equal(t, 2, calls)
	require.Empty(t, cache.entries)
}

func TestIdempotency_MissingKey(t *testing.T) {
	var calls int
	h := Idempotency(newMemoryCache())(countingHandler(http.StatusCreated, &calls))

	rr := post(h, "", `{}`, uuid.New())

	assert.Equal(t, 0, calls)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "MISSING_IDEMPOTENCY_KEY")
}
