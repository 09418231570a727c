package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type counterStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *counterStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *counterStore) RateLimitKey(parts ...string) string {
	return strings.Join(parts, ":")
}

func TestRateLimitBlocksAfterIPLimit(t *testing.T) {
	store := &counterStore{}
	policy := NewRateLimitPolicy("webhook", time.Minute, 2, 0)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", nil)
		req.RemoteAddr = "10.0.0.7:5555"
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}

	if codes[0] != http.StatusAccepted || codes[1] != http.StatusAccepted {
		t.Fatalf("expected first two requests accepted, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", codes[2])
	}
}

func TestRateLimitCountsPerSource(t *testing.T) {
	store := &counterStore{}
	policy := NewRateLimitPolicy("webhook", time.Minute, 0, 1)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(source string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", nil)
		req = req.WithContext(WithPaymentSource(req.Context(), source))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := send("bca"); code != http.StatusOK {
		t.Fatalf("expected 200 got %d", code)
	}
	if code := send("mandiri"); code != http.StatusOK {
		t.Fatalf("expected other source unaffected, got %d", code)
	}
	if code := send("bca"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	called := false
	handler := RateLimit(NewRateLimitPolicy("off", 0, 1, 1), &counterStore{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected handler to run")
	}
}
