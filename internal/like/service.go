// Package like はレシピへのいいねのドメインロジックを提供する。
package like

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
	"github.com/hashaatefac/Recipe-Sharing/internal/repository"
)

// Session はセッションストアの読み取り機能。
type Session interface {
	CurrentUser() *model.Identity
}

// Service はいいねのサービス層。
// 同じレシピとユーザーの組に対するトグルは直列化し、結果は常にゲートウェイから再取得する。
type Service struct {
	likes repository.LikeRepository
	orch  *orchestrator.Orchestrator
	store Session

	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(likes repository.LikeRepository, orch *orchestrator.Orchestrator, store Session) *Service {
	return &Service{
		likes: likes,
		orch:  orch,
		store: store,
		locks: make(map[string]*pairLock),
	}
}

// State はレシピのいいね数と、ログイン中ユーザーがいいね済みかどうかを返す。
// 未ログインの場合 Liked は常に false。
func (s *Service) State(ctx context.Context, recipeID string) (model.LikeState, error) {
	if _, err := uuid.Parse(recipeID); err != nil {
		return model.LikeState{}, model.NewRecipeNotFoundError(recipeID)
	}
	if err := s.orch.WaitSession(ctx); err != nil {
		return model.LikeState{}, model.ToAPIError(err)
	}
	st, err := s.fetch(ctx, recipeID, s.store.CurrentUser())
	if err != nil {
		return model.LikeState{}, model.ToAPIError(err)
	}
	return st, nil
}

// Toggle はログイン中ユーザーのいいねを切り替え、再取得した確定状態を返す。
// hint が指定された場合、書き込み前に楽観的な予想状態で呼ばれる。表示用のヒントであり確定値ではない。
func (s *Service) Toggle(ctx context.Context, recipeID string, hint func(model.LikeState)) (model.LikeState, error) {
	if _, err := uuid.Parse(recipeID); err != nil {
		return model.LikeState{}, model.NewRecipeNotFoundError(recipeID)
	}
	if err := s.orch.WaitSession(ctx); err != nil {
		return model.LikeState{}, model.ToAPIError(err)
	}
	user := s.store.CurrentUser()
	if user == nil {
		return model.LikeState{}, model.NewNotSignedInError()
	}

	unlock := s.lock(recipeID + "|" + user.ID)
	defer unlock()

	current, err := s.fetch(ctx, recipeID, user)
	if err != nil {
		return model.LikeState{}, model.ToAPIError(err)
	}
	if hint != nil {
		hint(current.Toggled())
	}

	_, err = orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "like.toggle", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (struct{}, error) {
			if current.Liked {
				return struct{}{}, s.likes.Delete(ctx, recipeID, user.ID)
			}
			return struct{}{}, s.likes.Insert(ctx, recipeID, user.ID)
		})
	if err != nil {
		// 期限切れの場合も結果は不明なため、呼び出し側は State で再取得する
		return model.LikeState{}, model.ToAPIError(err)
	}

	next, err := s.fetch(ctx, recipeID, user)
	if err != nil {
		return model.LikeState{}, model.ToAPIError(err)
	}
	slog.Debug("like toggled",
		slog.String("recipe_id", recipeID),
		slog.Bool("liked", next.Liked),
		slog.Int("count", next.Count),
	)
	return next, nil
}

func (s *Service) fetch(ctx context.Context, recipeID string, user *model.Identity) (model.LikeState, error) {
	st := model.LikeState{RecipeID: recipeID}

	count, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "likes.count", Kind: orchestrator.KindRead},
		func(ctx context.Context) (int, error) { return s.likes.Count(ctx, recipeID) })
	if err != nil {
		return st, err
	}
	st.Count = count

	if user == nil {
		return st, nil
	}
	liked, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "likes.exists", Kind: orchestrator.KindRead},
		func(ctx context.Context) (bool, error) { return s.likes.Exists(ctx, recipeID, user.ID) })
	if err != nil {
		return st, err
	}
	st.Liked = liked
	return st, nil
}

// lock はレシピとユーザーの組ごとのロックを取得する。戻り値の関数で解放する。
func (s *Service) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &pairLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
