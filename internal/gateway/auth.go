package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// refreshLeeway は有効期限の何秒前からトークンを更新対象とみなすか。
const refreshLeeway = 60 * time.Second

// AuthEvent は認証状態の変化の種類を表す。
type AuthEvent string

// 認証状態イベント
const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// AuthChange は購読者に通知される認証状態の変化。
// サインアウト時の Session は nil。
type AuthChange struct {
	Event   AuthEvent
	Session *model.Session
}

// AuthListener は認証状態の変化を受け取るコールバック。
// クライアント内部のロックを保持していない状態で、変化を起こした呼び出しの
// ゴルーチン上で同期的に呼ばれる。
type AuthListener func(ctx context.Context, change AuthChange)

// TokenSource はREST / Storage リクエストに付与するアクセストークンを提供する。
// 未ログインの場合は空文字を返し、匿名キーで認可される。
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// SignUpResult はサインアップの結果を表す。
// メール確認が必要な設定では Session は nil になる。
type SignUpResult struct {
	User    model.Identity
	Session *model.Session
}

// ConfirmationPending はメールアドレスの確認待ちかどうかを返す。
func (r *SignUpResult) ConfirmationPending() bool {
	return r.Session == nil
}

// AuthClient はゲートウェイのAuth APIクライアント。
// 現在のセッションを保持し、変化を購読者に通知する。
type AuthClient struct {
	t       *transport
	storage SessionStorage
	now     func() time.Time
	refresh singleflight.Group

	mu      sync.Mutex
	session *model.Session
	loaded  bool

	listenersMu sync.Mutex
	listeners   map[int]AuthListener
	nextID      int
}

// compile-time interface check
var _ TokenSource = (*AuthClient)(nil)

func newAuthClient(t *transport, storage SessionStorage) *AuthClient {
	return &AuthClient{
		t:         t,
		storage:   storage,
		now:       time.Now,
		listeners: make(map[int]AuthListener),
	}
}

// tokenResponse は /auth/v1/token と /auth/v1/signup の応答。
// メール確認が必要なサインアップでは、トークンを含まないユーザーオブジェクトが返る。
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         *userPayload `json:"user"`

	ID    string `json:"id"`
	Email string `json:"email"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp はメールアドレスとパスワードでアカウントを作成する。
// ゲートウェイがセッションを返した場合はサインイン済みとして通知する。
func (a *AuthClient) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	body, err := jsonBody(credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	resp, err := a.t.do(ctx, request{scope: ScopeAuth, method: http.MethodPost, path: "/auth/v1/signup", body: body})
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode sign up response: %w", err)
	}

	result := &SignUpResult{User: model.Identity{ID: tr.ID, Email: tr.Email}}
	if tr.User != nil {
		result.User = model.Identity{ID: tr.User.ID, Email: tr.User.Email}
	}
	if tr.AccessToken != "" {
		s := a.toSession(&tr)
		result.Session = s
		a.setSession(ctx, s, EventSignedIn)
	}
	return result, nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	body, err := jsonBody(credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	s, err := a.grant(ctx, "password", body)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	a.setSession(ctx, s, EventSignedIn)
	return copySession(s), nil
}

// SignOut はゲートウェイ側のセッションを失効させ、ローカルのセッションを破棄する。
// ゲートウェイへの失効要求が失敗してもローカルのセッションは必ず破棄する。
func (a *AuthClient) SignOut(ctx context.Context) error {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()

	var remoteErr error
	if s != nil && s.AccessToken != "" {
		_, remoteErr = a.t.do(ctx, request{
			scope:  ScopeAuth,
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			bearer: s.AccessToken,
		})
		var gwErr *Error
		if errors.As(remoteErr, &gwErr) && gwErr.Status < 500 {
			// 既に失効したトークンは成功とみなす
			remoteErr = nil
		}
	}

	a.setSession(ctx, nil, EventSignedOut)

	if remoteErr != nil {
		a.t.logger.Warn("failed to revoke session on gateway", slog.String("error", remoteErr.Error()))
	}
	return nil
}

// GetSession は現在のセッションを返す。未ログインの場合は nil, nil。
// 初回呼び出しで永続化先からセッションを読み込み、有効期限が近い場合は更新する。
func (a *AuthClient) GetSession(ctx context.Context) (*model.Session, error) {
	s := a.loadSession(ctx)
	if s == nil {
		return nil, nil
	}
	if !s.Expired(a.now(), refreshLeeway) {
		return s, nil
	}
	refreshed, err := a.RefreshSession(ctx)
	if errors.Is(err, ErrSessionExpired) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// RefreshSession はリフレッシュトークンでセッションを更新する。
// 同時に呼ばれた場合もゲートウェイへの更新要求は1回にまとめられる。
// リフレッシュトークンが拒否された場合はセッションを破棄して ErrSessionExpired を返す。
func (a *AuthClient) RefreshSession(ctx context.Context) (*model.Session, error) {
	v, err, _ := a.refresh.Do("refresh", func() (interface{}, error) {
		current := a.loadSession(ctx)
		if current == nil || current.RefreshToken == "" {
			return nil, ErrSessionExpired
		}
		body, err := jsonBody(map[string]string{"refresh_token": current.RefreshToken})
		if err != nil {
			return nil, err
		}
		s, err := a.grant(ctx, "refresh_token", body)
		if err != nil {
			var gwErr *Error
			if errors.As(err, &gwErr) && gwErr.Status >= 400 && gwErr.Status < 500 && gwErr.Status != http.StatusTooManyRequests {
				a.setSession(ctx, nil, EventSignedOut)
				return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
			}
			return nil, fmt.Errorf("refresh session: %w", err)
		}
		a.setSession(ctx, s, EventTokenRefreshed)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return copySession(v.(*model.Session)), nil
}

// GetUser はアクセストークンをゲートウェイで検証し、ユーザー情報を返す。
func (a *AuthClient) GetUser(ctx context.Context) (*model.Identity, error) {
	s, err := a.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	resp, err := a.t.do(ctx, request{scope: ScopeAuth, method: http.MethodGet, path: "/auth/v1/user", bearer: s.AccessToken})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	var u userPayload
	if err := json.Unmarshal(resp.body, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	return &model.Identity{ID: u.ID, Email: u.Email}, nil
}

// AccessToken は現在のアクセストークンを返す。未ログインの場合は空文字。
func (a *AuthClient) AccessToken(ctx context.Context) (string, error) {
	s, err := a.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return s.AccessToken, nil
}

// OnAuthStateChange は認証状態の変化を購読する。戻り値の関数で購読を解除する。
func (a *AuthClient) OnAuthStateChange(l AuthListener) (unsubscribe func()) {
	a.listenersMu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = l
	a.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.listenersMu.Lock()
			delete(a.listeners, id)
			a.listenersMu.Unlock()
		})
	}
}

// AutoRefresh はコンテキストが終了するまで、interval ごとにセッションの有効期限を確認し、
// 期限が近ければ更新する。長時間動作する shell コマンドから使う。
func (a *AuthClient) AutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			s := a.session
			a.mu.Unlock()
			if s == nil || !s.Expired(a.now(), refreshLeeway) {
				continue
			}
			if _, err := a.RefreshSession(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.t.logger.Warn("failed to refresh session", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *AuthClient) grant(ctx context.Context, grantType string, body io.Reader) (*model.Session, error) {
	resp, err := a.t.do(ctx, request{
		scope:  ScopeAuth,
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {grantType}},
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access token")
	}
	return a.toSession(&tr), nil
}

func (a *AuthClient) toSession(tr *tokenResponse) *model.Session {
	s := &model.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.ExpiresAt = a.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = tokenExpiry(tr.AccessToken)
	}
	if tr.User != nil {
		s.User = model.Identity{ID: tr.User.ID, Email: tr.User.Email}
	}
	if s.User.ID == "" {
		if claims, err := ParseClaims(tr.AccessToken); err == nil {
			s.User = model.Identity{ID: claims.Subject, Email: claims.Email}
		}
	}
	return s
}

// loadSession は保持中のセッションのコピーを返す。初回は永続化先から読み込む。
func (a *AuthClient) loadSession(ctx context.Context) *model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		s, err := a.storage.Load(ctx)
		if err != nil {
			a.t.logger.Warn("failed to load stored session", slog.String("error", err.Error()))
		}
		a.session = s
		a.loaded = true
	}
	return copySession(a.session)
}

// setSession はセッションを置き換えて永続化し、購読者に通知する。
// 通知はロックを解放してから行う。
func (a *AuthClient) setSession(ctx context.Context, s *model.Session, event AuthEvent) {
	a.mu.Lock()
	a.session = copySession(s)
	a.loaded = true
	a.mu.Unlock()

	var err error
	if s == nil {
		err = a.storage.Clear(ctx)
	} else {
		err = a.storage.Save(ctx, s)
	}
	if err != nil {
		a.t.logger.Warn("failed to persist session",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}

	a.emit(ctx, AuthChange{Event: event, Session: copySession(s)})
}

func (a *AuthClient) emit(ctx context.Context, change AuthChange) {
	a.listenersMu.Lock()
	ids := slices.Sorted(maps.Keys(a.listeners))
	listeners := make([]AuthListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, a.listeners[id])
	}
	a.listenersMu.Unlock()

	for _, l := range listeners {
		l(ctx, change)
	}
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
