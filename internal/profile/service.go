// Package profile はログイン中ユーザーのプロフィールのドメインロジックを提供する。
package profile

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
	"github.com/hashaatefac/Recipe-Sharing/internal/repository"
)

// SessionStore はプロフィール編集に必要なセッションストアの機能。
type SessionStore interface {
	CurrentUser() *model.Identity
	RefreshProfile(ctx context.Context) error
}

// Input はプロフィール更新の入力。
type Input struct {
	Username string
	FullName string
	Bio      string
}

// Service はプロフィールのサービス層。
type Service struct {
	profiles repository.ProfileRepository
	orch     *orchestrator.Orchestrator
	store    SessionStore
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profiles repository.ProfileRepository, orch *orchestrator.Orchestrator, store SessionStore) *Service {
	return &Service{profiles: profiles, orch: orch, store: store}
}

// Get はログイン中ユーザーのプロフィールを返す。
// まだ存在しない場合はメールアドレスのローカル部をユーザー名として作成する。
func (s *Service) Get(ctx context.Context) (*model.Profile, error) {
	user, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}

	p, err := orchestrator.Do(ctx, s.orch,
		orchestrator.Op{Name: "profile.get", Kind: orchestrator.KindRead, Key: "profile.get:" + user.ID},
		func(ctx context.Context) (*model.Profile, error) {
			return s.profiles.FindByID(ctx, user.ID)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	if p != nil {
		return p, nil
	}

	created, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "profile.create", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (*model.Profile, error) {
			return s.profiles.Upsert(ctx, &model.Profile{ID: user.ID, Username: model.UsernameFromEmail(user.Email)})
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	slog.Info("profile created", slog.String("user_id", user.ID))
	s.refreshStore(ctx)
	return created, nil
}

// Update はログイン中ユーザーのプロフィールを保存し、セッションストアに反映する。
func (s *Service) Update(ctx context.Context, in Input) (*model.Profile, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Bio = strings.TrimSpace(in.Bio)
	if in.Username == "" {
		return nil, model.NewValidationError("username", "ユーザー名を入力してください。")
	}

	user, err := s.requireUser(ctx)
	if err != nil {
		return nil, err
	}

	saved, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "profile.update", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (*model.Profile, error) {
			return s.profiles.Upsert(ctx, &model.Profile{
				ID:       user.ID,
				Username: in.Username,
				FullName: in.FullName,
				Bio:      in.Bio,
			})
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	s.refreshStore(ctx)
	return saved, nil
}

// refreshStore はセッションストアのプロフィールを再取得する。失敗しても保存結果は有効。
func (s *Service) refreshStore(ctx context.Context) {
	if err := s.store.RefreshProfile(ctx); err != nil {
		slog.Warn("failed to refresh session profile", slog.String("error", err.Error()))
	}
}

func (s *Service) requireUser(ctx context.Context) (*model.Identity, error) {
	if err := s.orch.WaitSession(ctx); err != nil {
		return nil, model.ToAPIError(err)
	}
	user := s.store.CurrentUser()
	if user == nil {
		return nil, model.NewNotSignedInError()
	}
	return user, nil
}
