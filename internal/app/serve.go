package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hashaatefac/Recipe-Sharing/internal/config"
	"github.com/hashaatefac/Recipe-Sharing/internal/database"
	"github.com/hashaatefac/Recipe-Sharing/internal/handler"
	"github.com/hashaatefac/Recipe-Sharing/internal/metrics"
	"github.com/hashaatefac/Recipe-Sharing/internal/middleware"
	"github.com/hashaatefac/Recipe-Sharing/internal/security"
)

const shutdownTimeout = 30 * time.Second

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "画像プロキシサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// サーバーのログは標準出力に書く
			cfg, err := Init(c.out)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runServe(cmd.Context(), cfg, slog.Default())
		},
	}
}

// server は画像プロキシのHTTPハンドラーと後始末をまとめたもの。
type server struct {
	handler http.Handler
	closers []func()
}

func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer は設定から画像プロキシのルーターを組み立てる。
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	s := &server{}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	// 2. SSRF対策済みのHTTPクライアント
	guard := security.NewImageGuard()
	client := guard.NewSafeClient(cfg.ImageProxyTimeout)

	// 3. レートリミッター
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitImageProxy), logger)
	s.closers = append(s.closers, limiter.Stop)

	deps := &handler.RouterDeps{
		Logger:         logger,
		TrustForwarded: cfg.TrustProxyHeaders,
		RateLimiter:    limiter,
		Gatherer:       reg,
		ImageProxy:     handler.NewImageProxyHandler(client, guard, cfg.ImageProxyMaxSize, mc, logger),
	}

	// 4. DATABASE_URL が設定されていればヘルスチェックに含める
	if cfg.UseDirectDatabase() {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.closers = append(s.closers, func() { db.Close() })
		if err := database.Ping(ctx, db, 5*time.Second); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info("database connection established")
		deps.HealthChecker = db
	}

	s.handler = handler.NewRouter(deps)
	return s, nil
}

// runServe は画像プロキシサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ImageProxyTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("image proxy server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down image proxy server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("image proxy server stopped gracefully")
	return nil
}
