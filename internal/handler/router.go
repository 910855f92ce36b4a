// Package handler は画像プロキシサーバーのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hashaatefac/Recipe-Sharing/internal/metrics"
	"github.com/hashaatefac/Recipe-Sharing/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	TrustForwarded bool
	RateLimiter    *middleware.RateLimiter
	HealthChecker  HealthChecker
	Gatherer       prometheus.Gatherer

	ImageProxy *ImageProxyHandler
}

// NewRouter はルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → ClientIP → Logging → SecurityHeaders → (/api) CORS → RateLimit
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewClientIPMiddleware(deps.TrustForwarded))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(middleware.ImageProxyCORSConfig()))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Method(http.MethodGet, "/image-proxy", deps.ImageProxy)
	})

	return r
}
