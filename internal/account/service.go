// Package account はサインアップ・サインイン・サインアウトのドメインロジックを提供する。
package account

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
)

// Auth はアカウント操作に必要なゲートウェイの認証機能。
type Auth interface {
	SignUp(ctx context.Context, email, password string) (*gateway.SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context) error
	GetUser(ctx context.Context) (*model.Identity, error)
}

// Session はセッションストアの読み取り機能。
type Session interface {
	CurrentUser() *model.Identity
	CurrentProfile() *model.Profile
}

// SignUpResult はサインアップの結果。
type SignUpResult struct {
	Identity *model.Identity
	// Pending はメールアドレスの確認待ちかどうか。
	Pending bool
	Message string
}

// WhoAmI はログイン中ユーザーの情報。
type WhoAmI struct {
	Identity *model.Identity
	Profile  *model.Profile
}

// Service はアカウント操作のサービス層。
type Service struct {
	auth  Auth
	orch  *orchestrator.Orchestrator
	store Session
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(auth Auth, orch *orchestrator.Orchestrator, store Session) *Service {
	return &Service{auth: auth, orch: orch, store: store}
}

// SignUp はアカウントを作成する。確認メールが必要な場合は Pending を返す。
func (s *Service) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return nil, err
	}

	res, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "account.signup", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (*gateway.SignUpResult, error) {
			return s.auth.SignUp(ctx, email, password)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}

	ident := res.User
	out := &SignUpResult{Identity: &ident, Pending: res.ConfirmationPending()}
	if out.Pending {
		out.Message = "確認メールを送信しました。メール内のリンクから登録を完了してから、サインインしてください。"
	} else {
		out.Message = "アカウントを作成しました。"
	}
	return out, nil
}

// SignIn はメールアドレスとパスワードでサインインする。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return nil, err
	}

	sess, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "account.signin", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (*model.Session, error) {
			return s.auth.SignInWithPassword(ctx, email, password)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	ident := sess.User
	return &ident, nil
}

// SignOut はサインアウトする。ゲートウェイへの通知に失敗してもローカルのセッションは破棄される。
func (s *Service) SignOut(ctx context.Context) error {
	_, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "account.signout", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.auth.SignOut(ctx)
		})
	if err != nil {
		return model.ToAPIError(err)
	}
	return nil
}

// WhoAmI はゲートウェイでトークンを検証したうえで、ログイン中ユーザーとプロフィールを返す。
func (s *Service) WhoAmI(ctx context.Context) (*WhoAmI, error) {
	ident, err := orchestrator.Do(ctx, s.orch,
		orchestrator.Op{Name: "account.whoami", Kind: orchestrator.KindRead, RequireSession: true},
		func(ctx context.Context) (*model.Identity, error) {
			if s.store.CurrentUser() == nil {
				return nil, model.NewNotSignedInError()
			}
			return s.auth.GetUser(ctx)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	if ident == nil {
		return nil, model.NewNotSignedInError()
	}
	return &WhoAmI{Identity: ident, Profile: s.store.CurrentProfile()}, nil
}

func validateCredentials(email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", model.NewValidationError("email", "メールアドレスを入力してください。")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", model.NewValidationError("email", fmt.Sprintf("メールアドレスの形式が正しくありません: %s", email))
	}
	if password == "" {
		return "", model.NewValidationError("password", "パスワードを入力してください。")
	}
	return email, nil
}
