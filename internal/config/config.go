package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend Gateway
	SupabaseURL     string `env:"SUPABASE_URL,required,notEmpty"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY,required,notEmpty"`

	// Database（任意。設定時はテーブルへ直接接続し、migrate コマンドでも使用する）
	DatabaseURL string `env:"DATABASE_URL"`

	// Storage
	StorageBucket            string `env:"STORAGE_BUCKET" envDefault:"recipe-images"`
	StorageS3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	StorageS3Region          string `env:"STORAGE_S3_REGION" envDefault:"us-east-1"`
	StorageS3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	StorageS3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`

	// Session
	SessionFile string `env:"SESSION_FILE"`

	// Orchestrator
	ReadTimeout   time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout  time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	UploadTimeout time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"10s"`

	// Image proxy
	ServerPort          string        `env:"SERVER_PORT" envDefault:"8080"`
	ImageProxyTimeout   time.Duration `env:"IMAGE_PROXY_TIMEOUT" envDefault:"10s"`
	ImageProxyMaxSize   int64         `env:"IMAGE_PROXY_MAX_SIZE" envDefault:"10485760"`
	RateLimitImageProxy int           `env:"RATE_LIMIT_IMAGE_PROXY" envDefault:"120"`
	// TrustProxyHeaders はリバースプロキシ配下で X-Forwarded-For を信頼するかどうか。
	TrustProxyHeaders   bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Logging
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.SupabaseURL = strings.TrimRight(cfg.SupabaseURL, "/")
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.SupabaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SUPABASE_URL must be an absolute http(s) URL: %q", c.SupabaseURL)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.UploadTimeout <= 0 {
		return fmt.Errorf("READ_TIMEOUT, WRITE_TIMEOUT and UPLOAD_TIMEOUT must be positive")
	}
	if c.ImageProxyMaxSize <= 0 {
		return fmt.Errorf("IMAGE_PROXY_MAX_SIZE must be positive: %d", c.ImageProxyMaxSize)
	}
	return nil
}

// ProjectRef はゲートウェイURLのホスト名先頭ラベルを返す。
// S3互換ストレージのセッショントークン認証でアクセスキーIDとして使う。
func (c *Config) ProjectRef() string {
	u, err := url.Parse(c.SupabaseURL)
	if err != nil {
		return ""
	}
	ref, _, _ := strings.Cut(u.Hostname(), ".")
	return ref
}

// UseS3Storage はS3互換エンドポイント経由で画像をアップロードするかどうかを返す。
func (c *Config) UseS3Storage() bool {
	return c.StorageS3Endpoint != ""
}

// UseDirectDatabase はテーブルへPostgres接続で直接アクセスするかどうかを返す。
func (c *Config) UseDirectDatabase() bool {
	return c.DatabaseURL != ""
}
