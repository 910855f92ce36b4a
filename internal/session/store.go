// Package session はログイン中のユーザー（Identity）とプロフィールを保持する
// セッションストアを提供する。アプリケーション全体で1つのインスタンスを共有し、
// 各ページ相当のサービスはコンストラクタで受け取って参照する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// ErrClosed は初回のセッション解決より前にストアが閉じられたことを表す。
var ErrClosed = errors.New("session store is closed")

// AuthGateway はセッションストアが依存するゲートウェイの認証機能。
type AuthGateway interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(l gateway.AuthListener) (unsubscribe func())
}

// ProfileFinder はプロフィールを取得する。見つからない場合は nil, nil を返す。
type ProfileFinder interface {
	FindByID(ctx context.Context, id string) (*model.Profile, error)
}

// Snapshot はある時点のセッション状態。公開後は変更されない。
type Snapshot struct {
	Identity *model.Identity
	Profile  *model.Profile
	// Resolved は初回のセッション解決が完了したかどうか。
	Resolved bool
	// Version は公開のたびに単調増加する。
	Version uint64
}

// SignedIn はログイン中かどうかを返す。
func (s Snapshot) SignedIn() bool {
	return s.Identity != nil
}

// Store はIdentityとProfileの唯一の保持者。
// 状態遷移は書き込みロックで直列化し、読み取りは不変のスナップショットを
// アトミックに参照するためロックを取らない。
type Store struct {
	auth     AuthGateway
	profiles ProfileFinder
	logger   *slog.Logger

	snap atomic.Pointer[Snapshot]

	mu          sync.Mutex
	gen         uint64
	version     uint64
	closed      bool
	unsubscribe func()
	resolved    chan struct{}
	isResolved  bool
	// closedEarly は解決前に Close された場合に true になる。
	closedEarly bool

	initOnce sync.Once
	initErr  error

	subsMu       sync.Mutex
	subs         map[int]func(Snapshot)
	nextSub      int
	lastNotified uint64
}

// NewStore はセッションストアを生成する。Initialize を呼ぶまで未解決の状態になる。
func NewStore(auth AuthGateway, profiles ProfileFinder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		auth:     auth,
		profiles: profiles,
		logger:   logger,
		resolved: make(chan struct{}),
		subs:     make(map[int]func(Snapshot)),
	}
	s.snap.Store(&Snapshot{})
	return s
}

// Initialize はゲートウェイに既存のセッションを問い合わせ、Identityとプロフィールを
// 設定して解決済みにする。あわせて認証状態の変化を購読する。
// 冪等であり、2回目以降の呼び出しは初回の結果を返す。
// セッションの取得に失敗した場合も未ログインとして解決済みにし、エラーを返す。
func (s *Store) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			s.initErr = ErrClosed
			return
		}
		s.unsubscribe = s.auth.OnAuthStateChange(s.OnAuthStateChange)
		// 問い合わせ中に認証イベントが処理された場合は、そちらを優先する
		s.gen++
		start := s.gen
		s.mu.Unlock()

		sess, err := s.auth.GetSession(ctx)
		if err != nil {
			s.logger.Warn("failed to resolve initial session", slog.String("error", err.Error()))
			s.initErr = fmt.Errorf("セッションの取得に失敗しました: %w", err)
			sess = nil
		}

		s.transition(ctx, identityOf(sess), false, start)
	})
	return s.initErr
}

// OnAuthStateChange は認証状態の変化を受け取り、スナップショットを更新する。
// ゲートウェイの購読コールバックとして登録される。
func (s *Store) OnAuthStateChange(ctx context.Context, change gateway.AuthChange) {
	ident := identityOf(change.Session)

	switch change.Event {
	case gateway.EventSignedOut:
		s.transition(ctx, nil, false, 0)
	case gateway.EventSignedIn:
		s.transition(ctx, ident, false, 0)
	case gateway.EventTokenRefreshed, gateway.EventUserUpdated, gateway.EventInitialSession:
		s.transition(ctx, ident, true, 0)
	default:
		s.logger.Debug("ignored auth event", slog.String("event", string(change.Event)))
	}
}

// Snapshot は現在のスナップショットを返す。
func (s *Store) Snapshot() Snapshot {
	return *s.snap.Load()
}

// CurrentUser はログイン中のIdentityを返す。未ログインの場合はnil。
func (s *Store) CurrentUser() *model.Identity {
	return s.snap.Load().Identity
}

// CurrentProfile はログイン中ユーザーのプロフィールを返す。
// 未ログインの場合、プロフィールを取得できなかった場合はnil。
func (s *Store) CurrentProfile() *model.Profile {
	return s.snap.Load().Profile
}

// Resolved は初回のセッション解決が完了すると閉じられるチャネルを返す。
func (s *Store) Resolved() <-chan struct{} {
	return s.resolved
}

// WaitResolved は初回のセッション解決を待つ。コンテキストが先に終了した場合はそのエラーを返す。
// 解決前にストアが閉じられた場合は ErrClosed を返す。
func (s *Store) WaitResolved(ctx context.Context) error {
	select {
	case <-s.resolved:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closedEarly {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshProfile はログイン中ユーザーのプロフィールを再取得して公開する。
// プロフィール編集の結果を他のページへ反映する唯一の経路。
// 取得に失敗した場合は現在のプロフィールを維持してエラーを返す。
func (s *Store) RefreshProfile(ctx context.Context) error {
	s.mu.Lock()
	cur := s.snap.Load()
	if s.closed || cur.Identity == nil {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	ident := cur.Identity
	s.mu.Unlock()

	profile, err := s.profiles.FindByID(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("プロフィールの再取得に失敗しました: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return nil
	}
	snap := s.publishLocked(ident, profile)
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// Subscribe はスナップショットの更新を購読する。戻り値の関数で購読を解除する。
// コールバックは公開順に1つずつ呼ばれる。コールバック内で Subscribe を呼んではならない。
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// Close はゲートウェイの購読を解除する。以降の認証イベントは反映されない。
// 解決を待っている呼び出しは ErrClosed で戻る。
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if !s.isResolved {
		s.isResolved = true
		s.closedEarly = true
		close(s.resolved)
	}
}

// transition はIdentityを切り替え、必要ならプロフィールを取得してから
// Identityとプロフィールを1つのスナップショットとして公開する。
// keepProfile が true で同じユーザーのプロフィールを保持している場合は再取得しない。
// ifGen が0以外の場合、その世代の後に別の遷移が始まっていれば何もしない。
func (s *Store) transition(ctx context.Context, ident *model.Identity, keepProfile bool, ifGen uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ifGen != 0 && s.gen != ifGen {
		// 新しい遷移が解決済みの状態を公開する
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	cur := s.snap.Load()

	if ident == nil {
		snap := s.publishLocked(nil, nil)
		s.mu.Unlock()
		s.notify(snap)
		return
	}
	sameUser := cur.Identity != nil && cur.Identity.ID == ident.ID
	if keepProfile && sameUser && cur.Profile != nil {
		snap := s.publishLocked(ident, cur.Profile)
		s.mu.Unlock()
		s.notify(snap)
		return
	}
	s.mu.Unlock()

	profile, err := s.profiles.FindByID(ctx, ident.ID)
	if err != nil {
		s.logger.Warn("failed to fetch profile",
			slog.String("user_id", ident.ID),
			slog.String("error", err.Error()),
		)
		profile = nil
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		s.logger.Debug("discarded stale profile fetch", slog.String("user_id", ident.ID))
		return
	}
	snap := s.publishLocked(ident, profile)
	s.mu.Unlock()
	s.notify(snap)
}

// publishLocked は新しいスナップショットを公開する。s.mu を保持して呼ぶこと。
func (s *Store) publishLocked(ident *model.Identity, profile *model.Profile) *Snapshot {
	s.version++
	snap := &Snapshot{
		Identity: cloneIdentity(ident),
		Profile:  cloneProfile(profile),
		Resolved: true,
		Version:  s.version,
	}
	s.snap.Store(snap)
	if !s.isResolved {
		s.isResolved = true
		close(s.resolved)
	}
	return snap
}

func (s *Store) notify(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if snap.Version <= s.lastNotified {
		return
	}
	s.lastNotified = snap.Version
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		s.subs[id](*snap)
	}
}

func identityOf(sess *model.Session) *model.Identity {
	if sess == nil || sess.User.ID == "" {
		return nil
	}
	ident := sess.User
	return &ident
}

func cloneIdentity(i *model.Identity) *model.Identity {
	if i == nil {
		return nil
	}
	cp := *i
	return &cp
}

func cloneProfile(p *model.Profile) *model.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
