// Package gateway はバックエンドゲートウェイ（Supabase互換のAuth / PostgREST / Storage API）
// への薄いクライアントを提供する。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// defaultHTTPTimeout は個々のHTTPリクエストの上限時間。
	// 操作ごとの期限はオーケストレータがコンテキストで与える。
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseSize はゲートウェイ応答ボディの最大読み込みサイズ。
	maxResponseSize = 10 << 20

	clientInfo = "recipeshare-go/1.0"
)

// Config はゲートウェイクライアントの設定を保持する。
type Config struct {
	URL            string
	AnonKey        string
	HTTPClient     *http.Client
	SessionStorage SessionStorage
	Logger         *slog.Logger
}

// Gateway はAuth / REST / Storage の各クライアントをまとめたもの。
// REST と Storage は Auth が保持するセッションのアクセストークンで認可される。
type Gateway struct {
	Auth    *AuthClient
	REST    *RESTClient
	Storage *StorageClient
}

// New はゲートウェイクライアントを生成する。
func New(cfg Config) (*Gateway, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway URL: %q", cfg.URL)
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("gateway anon key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	storage := cfg.SessionStorage
	if storage == nil {
		storage = NewMemorySessionStorage()
	}

	t := &transport{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
		logger:     logger,
	}
	auth := newAuthClient(t, storage)
	return &Gateway{
		Auth:    auth,
		REST:    &RESTClient{t: t, tokens: auth},
		Storage: &StorageClient{t: t, tokens: auth},
	}, nil
}

// transport はゲートウェイへのHTTP送受信を担う共通部分。
type transport struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *slog.Logger
}

// request はゲートウェイへの1回のリクエストを表す。
type request struct {
	scope  Scope
	method string
	path   string
	query  url.Values
	header http.Header
	body   io.Reader
	// bearer が空の場合は匿名キーで認可する。
	bearer string
}

// response はゲートウェイからの成功応答を表す。
type response struct {
	status int
	header http.Header
	body   []byte
}

// jsonBody は値をJSONエンコードしたリクエストボディを返す。
func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(b), nil
}

// do はリクエストを送信し、2xx以外の応答を *Error に、送信失敗を *NetworkError に変換する。
func (t *transport) do(ctx context.Context, r request) (*response, error) {
	endpoint := t.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, r.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	bearer := r.bearer
	if bearer == "" {
		bearer = t.anonKey
	}
	req.Header.Set("apikey", t.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("X-Client-Info", clientInfo)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if r.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Debug("gateway request failed",
			slog.String("scope", string(r.scope)),
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return nil, &NetworkError{Op: r.method + " " + r.path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &NetworkError{Op: r.method + " " + r.path, Err: err}
	}

	t.logger.Debug("gateway request completed",
		slog.String("scope", string(r.scope)),
		slog.String("method", r.method),
		slog.String("path", r.path),
		slog.Int("http_status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(r.scope, resp.StatusCode, body)
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}
