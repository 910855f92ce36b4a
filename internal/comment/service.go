// Package comment はレシピへのコメントのドメインロジックを提供する。
package comment

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
	"github.com/hashaatefac/Recipe-Sharing/internal/repository"
)

// maxContentLength はコメント本文の最大文字数。
const maxContentLength = 2000

// Session はセッションストアの読み取り機能。
type Session interface {
	CurrentUser() *model.Identity
}

// Service はコメントのサービス層。
type Service struct {
	comments repository.CommentRepository
	profiles repository.ProfileRepository
	orch     *orchestrator.Orchestrator
	store    Session
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	comments repository.CommentRepository,
	profiles repository.ProfileRepository,
	orch *orchestrator.Orchestrator,
	store Session,
) *Service {
	return &Service{comments: comments, profiles: profiles, orch: orch, store: store}
}

// List はレシピのコメントを投稿者名付きで作成日時の昇順に返す。
func (s *Service) List(ctx context.Context, recipeID string) ([]*model.CommentWithAuthor, error) {
	if _, err := uuid.Parse(recipeID); err != nil {
		return nil, model.NewRecipeNotFoundError(recipeID)
	}

	comments, err := orchestrator.Do(ctx, s.orch,
		orchestrator.Op{Name: "comments.list", Kind: orchestrator.KindRead, Key: "comments.list:" + recipeID},
		func(ctx context.Context) ([]*model.Comment, error) {
			return s.comments.ListByRecipe(ctx, recipeID)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}

	ids := make([]string, 0, len(comments))
	for _, c := range comments {
		ids = append(ids, c.UserID)
	}
	profiles, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "profiles.lookup", Kind: orchestrator.KindRead},
		func(ctx context.Context) (map[string]*model.Profile, error) {
			return s.profiles.FindByIDs(ctx, ids)
		})
	if err != nil {
		profiles = map[string]*model.Profile{}
	}

	out := make([]*model.CommentWithAuthor, 0, len(comments))
	for _, c := range comments {
		out = append(out, &model.CommentWithAuthor{Comment: *c, AuthorUsername: profiles[c.UserID].DisplayName()})
	}
	return out, nil
}

// Post はログイン中ユーザーとしてコメントを投稿し、更新後のコメント一覧を返す。
// 空白のみの本文はゲートウェイに送らずに拒否する。
func (s *Service) Post(ctx context.Context, recipeID, content string) ([]*model.CommentWithAuthor, error) {
	if _, err := uuid.Parse(recipeID); err != nil {
		return nil, model.NewRecipeNotFoundError(recipeID)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, model.NewValidationError("content", "コメントを入力してください。")
	}
	if len([]rune(content)) > maxContentLength {
		return nil, model.NewValidationError("content", "コメントは2000文字以内で入力してください。")
	}

	if err := s.orch.WaitSession(ctx); err != nil {
		return nil, model.ToAPIError(err)
	}
	user := s.store.CurrentUser()
	if user == nil {
		return nil, model.NewNotSignedInError()
	}

	_, err := orchestrator.Do(ctx, s.orch, orchestrator.Op{Name: "comment.post", Kind: orchestrator.KindWrite},
		func(ctx context.Context) (*model.Comment, error) {
			return s.comments.Create(ctx, recipeID, user.ID, content)
		})
	if err != nil {
		return nil, model.ToAPIError(err)
	}
	return s.List(ctx, recipeID)
}
