package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	t.Cleanup(rl.Stop)
	return rl
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/image-proxy", nil)
	return req.WithContext(ContextWithClientIP(req.Context(), ip))
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig(60)
	if cfg.Rate != 1 || cfg.Burst != 60 {
		t.Errorf("config = %+v, want 1 req/sec burst 60", cfg)
	}
	if cfg := DefaultRateLimiterConfig(0); cfg.Burst != 120 {
		t.Errorf("zero perMinute burst = %d, want 120", cfg.Burst)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{Rate: 0.5, Burst: 2, CleanupInterval: time.Minute})
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.1"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.1"))
	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "2" {
		t.Errorf("Retry-After = %q, want 2", resp.Header.Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}

	// 別のクライアントは独立に制限される
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.2"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("other client status = %d, want 200", w.Result().StatusCode)
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount() = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimitMiddleware_WithoutClientIP(t *testing.T) {
	rl := newTestLimiter(t, DefaultRateLimiterConfig(120))
	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/image-proxy", nil))
	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Result().StatusCode)
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	rl := newTestLimiter(t, RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour})
	now := time.Now()
	rl.allow("stale", now.Add(-3*time.Hour))
	rl.allow("fresh", now)

	rl.cleanup(now)

	if rl.LimiterCount() != 1 {
		t.Errorf("LimiterCount() = %d, want 1", rl.LimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(10), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	rl.Stop()
	rl.Stop()
}
