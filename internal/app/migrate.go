package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hashaatefac/Recipe-Sharing/internal/config"
	"github.com/hashaatefac/Recipe-Sharing/internal/database"
)

var errDatabaseURLRequired = errors.New("DATABASE_URL is required for migrate")

func (c *cli) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "ローカル開発用データベースのマイグレーションを管理する",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "未適用のマイグレーションをすべて適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.migrateConfig()
			if err != nil {
				return err
			}
			return runMigrate(cfg)
		},
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "直近のマイグレーションを取り消す（既定は1件）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer: %q", args[0])
				}
				steps = n
			}
			cfg, err := c.migrateConfig()
			if err != nil {
				return err
			}
			slog.Info("rolling back database migrations",
				slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
				slog.Int("steps", steps),
			)
			if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			slog.Info("database rollback completed successfully")
			return nil
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "適用済みのマイグレーションバージョンを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.migrateConfig()
			if err != nil {
				return err
			}
			v, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if dirty {
				fmt.Fprintf(c.out, "%d (dirty)\n", v)
				return nil
			}
			fmt.Fprintln(c.out, v)
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func (c *cli) migrateConfig() (*config.Config, error) {
	cfg, err := Init(c.errOut)
	if err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	if !cfg.UseDirectDatabase() {
		return nil, errDatabaseURLRequired
	}
	return cfg, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

func (c *cli) healthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "起動中の画像プロキシサーバーの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// 軽量サブコマンドのため、フル初期化をスキップする
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck("http://127.0.0.1:" + port)
		},
	}
}

// runHealthcheck は baseURL の /health にHTTPリクエストを送り、結果を返す。
// distroless環境でのDockerヘルスチェック用。
func runHealthcheck(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
