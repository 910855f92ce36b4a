package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hashaatefac/Recipe-Sharing/internal/account"
	"github.com/hashaatefac/Recipe-Sharing/internal/comment"
	"github.com/hashaatefac/Recipe-Sharing/internal/config"
	"github.com/hashaatefac/Recipe-Sharing/internal/database"
	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/like"
	"github.com/hashaatefac/Recipe-Sharing/internal/metrics"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
	"github.com/hashaatefac/Recipe-Sharing/internal/profile"
	"github.com/hashaatefac/Recipe-Sharing/internal/recipe"
	"github.com/hashaatefac/Recipe-Sharing/internal/repository"
	"github.com/hashaatefac/Recipe-Sharing/internal/session"
	"github.com/hashaatefac/Recipe-Sharing/internal/storage"
)

// Container はクライアントコマンドが使う依存関係をまとめたもの。
// shell コマンドでは1つの Container を全コマンドで共有する。
type Container struct {
	Config   *config.Config
	Gateway  *gateway.Gateway
	DB       *sql.DB
	Store    *session.Store
	Orch     *orchestrator.Orchestrator
	Registry *prometheus.Registry

	Accounts *account.Service
	Recipes  *recipe.Service
	Comments *comment.Service
	Likes    *like.Service
	Profiles *profile.Service
}

type repositories struct {
	recipes  repository.RecipeRepository
	comments repository.CommentRepository
	likes    repository.LikeRepository
	profiles repository.ProfileRepository
}

// NewContainer は設定から依存関係を組み立て、セッションストアを初期化する。
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	// 1. ゲートウェイ（セッションはファイルに保存してコマンド間で引き継ぐ）
	sessionPath := cfg.SessionFile
	if sessionPath == "" {
		p, err := gateway.DefaultSessionPath()
		if err != nil {
			return nil, err
		}
		sessionPath = p
	}
	gw, err := gateway.New(gateway.Config{
		URL:            cfg.SupabaseURL,
		AnonKey:        cfg.SupabaseAnonKey,
		SessionStorage: gateway.NewFileSessionStorage(sessionPath),
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	c := &Container{Config: cfg, Gateway: gw}

	// 2. テーブルアクセスとストレージ
	repos, err := c.newRepositories(ctx)
	if err != nil {
		return nil, err
	}
	images, err := newImageStore(cfg, gw)
	if err != nil {
		c.Close()
		return nil, err
	}

	// 3. セッションストアとオーケストレーター
	c.Store = session.NewStore(gw.Auth, repos.profiles, logger)
	c.Registry = prometheus.NewRegistry()
	c.Orch = orchestrator.New(c.Store, orchestrator.Options{
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		UploadTimeout: cfg.UploadTimeout,
		Retry:         orchestrator.DefaultRetryPolicy(),
		Observer:      metrics.NewCollector(c.Registry),
		Logger:        logger,
	})

	// 4. ドメインサービス
	c.Accounts = account.NewService(gw.Auth, c.Orch, c.Store)
	c.Recipes = recipe.NewService(recipe.Deps{
		Recipes:  repos.recipes,
		Profiles: repos.profiles,
		Comments: repos.comments,
		Likes:    repos.likes,
		Images:   images,
		Orch:     c.Orch,
		Store:    c.Store,
	})
	c.Comments = comment.NewService(repos.comments, repos.profiles, c.Orch, c.Store)
	c.Likes = like.NewService(repos.likes, c.Orch, c.Store)
	c.Profiles = profile.NewService(repos.profiles, c.Orch, c.Store)

	// 5. 既存セッションの復元。失敗しても未ログインとして続行する
	if err := c.Store.Initialize(ctx); err != nil {
		logger.Warn("session restore failed, continuing signed out", slog.String("error", err.Error()))
	}

	return c, nil
}

// newRepositories は DATABASE_URL が設定されていればPostgresへ直接、
// そうでなければゲートウェイのRESTテーブルAPI経由のリポジトリを返す。
func (c *Container) newRepositories(ctx context.Context) (*repositories, error) {
	if !c.Config.UseDirectDatabase() {
		rest := c.Gateway.REST
		return &repositories{
			recipes:  repository.NewRESTRecipeRepo(rest),
			comments: repository.NewRESTCommentRepo(rest),
			likes:    repository.NewRESTLikeRepo(rest),
			profiles: repository.NewRESTProfileRepo(rest),
		}, nil
	}

	db, err := database.Open(c.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, err
	}
	c.DB = db
	slog.Info("database connection established")

	tokens := c.Gateway.Auth
	return &repositories{
		recipes:  repository.NewPostgresRecipeRepo(db, tokens),
		comments: repository.NewPostgresCommentRepo(db, tokens),
		likes:    repository.NewPostgresLikeRepo(db, tokens),
		profiles: repository.NewPostgresProfileRepo(db, tokens),
	}, nil
}

// newImageStore は STORAGE_S3_ENDPOINT が設定されていればS3互換エンドポイント、
// そうでなければゲートウェイのストレージAPIへアップロードするストアを返す。
func newImageStore(cfg *config.Config, gw *gateway.Gateway) (storage.ImageStore, error) {
	if !cfg.UseS3Storage() {
		return storage.NewGatewayStore(gw.Storage, cfg.StorageBucket), nil
	}

	s3cfg := storage.S3Config{
		Endpoint:        cfg.StorageS3Endpoint,
		Region:          cfg.StorageS3Region,
		Bucket:          cfg.StorageBucket,
		AccessKeyID:     cfg.StorageS3AccessKeyID,
		SecretAccessKey: cfg.StorageS3SecretAccessKey,
		PublicBaseURL:   cfg.SupabaseURL + "/storage/v1/object/public",
	}
	// アクセスキー未指定時はログイン中のアクセストークンで認可させる
	if s3cfg.AccessKeyID == "" {
		s3cfg.AccessKeyID = cfg.ProjectRef()
		s3cfg.SecretAccessKey = cfg.SupabaseAnonKey
		s3cfg.SessionTokens = gw.Auth
	}
	store, err := storage.NewS3Store(s3cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 image store: %w", err)
	}
	return store, nil
}

// Close はセッションストアの購読とデータベース接続を閉じる。
func (c *Container) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
