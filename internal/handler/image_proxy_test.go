package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashaatefac/Recipe-Sharing/internal/metrics"
	"github.com/hashaatefac/Recipe-Sharing/internal/middleware"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/security"
)

// --- モック定義 ---

// mockValidator は httptest サーバー(127.0.0.1)を許可するためのバリデーター。
type mockValidator struct {
	validateFunc func(rawURL string) (*url.URL, error)
}

func (m *mockValidator) ValidateImageURL(rawURL string) (*url.URL, error) {
	if m.validateFunc != nil {
		return m.validateFunc(rawURL)
	}
	return url.Parse(rawURL)
}

type mockMetrics struct {
	mu       sync.Mutex
	outcomes []string
	statuses []int
	bytes    int64
}

func (m *mockMetrics) RecordProxyResult(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockMetrics) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCode)
}

func (m *mockMetrics) RecordUpstreamLatency(time.Duration) {}

func (m *mockMetrics) RecordBytesServed(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += n
}

func (m *mockMetrics) ObserveOperation(string, string, string, time.Duration) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newProxy(v URLValidator, maxSize int64, mc *mockMetrics) *ImageProxyHandler {
	return NewImageProxyHandler(&http.Client{Timeout: 5 * time.Second}, v, maxSize, mc, discardLogger())
}

func proxyRequest(h http.Handler, target string) *http.Response {
	req := httptest.NewRequest(http.MethodGet, "/api/image-proxy?url="+url.QueryEscape(target), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Result()
}

func decodeError(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- テスト ---

func TestImageProxy_PassesBytesThrough(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake-image-bytes")
	var gotUA, gotAccept string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	defer upstream.Close()

	mc := &mockMetrics{}
	resp := proxyRequest(newProxy(&mockValidator{}, 1<<20, mc), upstream.URL+"/pasta.png")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, png) {
		t.Errorf("body = %q, want the upstream bytes unchanged", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q, want public, max-age=3600", cc)
	}
	if gotUA != "Mozilla/5.0 (compatible; RecipeApp/1.0)" || gotAccept != "image/*" {
		t.Errorf("upstream headers UA=%q Accept=%q", gotUA, gotAccept)
	}
	if mc.bytes != int64(len(png)) || len(mc.outcomes) != 1 || mc.outcomes[0] != metrics.OutcomeServed {
		t.Errorf("metrics = %+v, want one served result", mc)
	}
}

func TestImageProxy_DefaultsContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Content-Type の自動判定を抑止する
		w.Header()["Content-Type"] = nil
		w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer upstream.Close()

	resp := proxyRequest(newProxy(&mockValidator{}, 1<<20, &mockMetrics{}), upstream.URL)
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}
}

func TestImageProxy_MissingURL(t *testing.T) {
	mc := &mockMetrics{}
	h := newProxy(&mockValidator{}, 1<<20, mc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/image-proxy", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Code != model.ErrCodeImageURLRequired || body.Message != "Image URL is required" {
		t.Errorf("body = %+v, want IMAGE_URL_REQUIRED", body)
	}
	if mc.outcomes[0] != metrics.OutcomeMissingURL {
		t.Errorf("outcome = %q, want missing_url", mc.outcomes[0])
	}
}

func TestImageProxy_RejectedURL(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer upstream.Close()

	v := &mockValidator{validateFunc: func(string) (*url.URL, error) { return nil, errors.New("blocked") }}
	mc := &mockMetrics{}
	resp := proxyRequest(newProxy(v, 1<<20, mc), upstream.URL)

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != model.ErrCodeImageFetchFailed {
		t.Errorf("code = %q, want IMAGE_FETCH_FAILED", body.Code)
	}
	if called {
		t.Error("rejected URL must not reach upstream")
	}
	if len(mc.outcomes) != 1 || mc.outcomes[0] != metrics.OutcomeRejected {
		t.Errorf("outcomes = %v, want [%s]", mc.outcomes, metrics.OutcomeRejected)
	}
}

func TestImageProxy_GuardRejectionsAreServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"相対URL", "not-a-url"},
		{"http以外のスキーム", "ftp://example.com/a.jpg"},
		{"ループバック", "http://127.0.0.1/a.jpg"},
		{"プライベートIP", "http://10.0.0.8/a.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := proxyRequest(newProxy(security.NewImageGuard(), 1<<20, &mockMetrics{}), tt.target)
			if resp.StatusCode != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", resp.StatusCode)
			}
			if body := decodeError(t, resp); body.Code != model.ErrCodeImageFetchFailed {
				t.Errorf("code = %q, want IMAGE_FETCH_FAILED", body.Code)
			}
		})
	}
}

func TestImageProxy_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		maxSize int64
		outcome string
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			maxSize: 1 << 20,
			outcome: metrics.OutcomeUpstreamError,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			maxSize: 1 << 20,
			outcome: metrics.OutcomeUpstreamError,
		},
		{
			name: "content-length over limit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				w.Write(bytes.Repeat([]byte("x"), 64))
			},
			maxSize: 16,
			outcome: metrics.OutcomeTooLarge,
		},
		{
			name: "chunked body over limit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				for i := 0; i < 4; i++ {
					w.Write(bytes.Repeat([]byte("x"), 16))
					w.(http.Flusher).Flush()
				}
			},
			maxSize: 32,
			outcome: metrics.OutcomeTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(tt.handler)
			defer upstream.Close()

			mc := &mockMetrics{}
			resp := proxyRequest(newProxy(&mockValidator{}, tt.maxSize, mc), upstream.URL)

			if resp.StatusCode != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", resp.StatusCode)
			}
			body := decodeError(t, resp)
			if body.Code != model.ErrCodeImageFetchFailed || body.Message != "Failed to fetch image" {
				t.Errorf("body = %+v, want IMAGE_FETCH_FAILED", body)
			}
			if mc.outcomes[0] != tt.outcome {
				t.Errorf("outcome = %q, want %q", mc.outcomes[0], tt.outcome)
			}
		})
	}
}

func TestImageProxy_UnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := upstream.URL
	upstream.Close()

	resp := proxyRequest(newProxy(&mockValidator{}, 1<<20, &mockMetrics{}), target)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want JSON error body", ct)
	}
}
