package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// RESTCommentRepo はゲートウェイのREST APIを使用したコメントリポジトリ。
type RESTCommentRepo struct {
	rest *gateway.RESTClient
}

// compile-time interface check
var _ CommentRepository = (*RESTCommentRepo)(nil)

// NewRESTCommentRepo はRESTCommentRepoを生成する。
func NewRESTCommentRepo(rest *gateway.RESTClient) *RESTCommentRepo {
	return &RESTCommentRepo{rest: rest}
}

// ListByRecipe はレシピのコメントを作成日時の昇順で取得する。
func (r *RESTCommentRepo) ListByRecipe(ctx context.Context, recipeID string) ([]*model.Comment, error) {
	var comments []*model.Comment
	err := r.rest.From(TableComments).Select("*").Eq("recipe_id", recipeID).Order("created_at", true).Find(ctx, &comments)
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return comments, nil
}

// Create はコメントを作成し、作成後のコメントを返す。
func (r *RESTCommentRepo) Create(ctx context.Context, recipeID, userID, content string) (*model.Comment, error) {
	row := map[string]string{"recipe_id": recipeID, "user_id": userID, "content": content}

	var created []*model.Comment
	if err := r.rest.From(TableComments).Insert(ctx, row, &created); err != nil {
		return nil, fmt.Errorf("コメントの投稿に失敗しました: %w", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("コメントの作成結果が返されませんでした")
	}
	return created[0], nil
}

// RESTLikeRepo はゲートウェイのREST APIを使用したいいねリポジトリ。
type RESTLikeRepo struct {
	rest *gateway.RESTClient
}

// compile-time interface check
var _ LikeRepository = (*RESTLikeRepo)(nil)

// NewRESTLikeRepo はRESTLikeRepoを生成する。
func NewRESTLikeRepo(rest *gateway.RESTClient) *RESTLikeRepo {
	return &RESTLikeRepo{rest: rest}
}

// Count はレシピのいいね数を返す。
func (r *RESTLikeRepo) Count(ctx context.Context, recipeID string) (int, error) {
	n, err := r.rest.From(TableRecipeLikes).Eq("recipe_id", recipeID).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("いいね数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Exists はユーザーがレシピにいいねしているかどうかを返す。
func (r *RESTLikeRepo) Exists(ctx context.Context, recipeID, userID string) (bool, error) {
	var like model.Like
	found, err := r.rest.From(TableRecipeLikes).Select("recipe_id,user_id").
		Eq("recipe_id", recipeID).Eq("user_id", userID).First(ctx, &like)
	if err != nil {
		return false, fmt.Errorf("いいね状態の取得に失敗しました: %w", err)
	}
	return found, nil
}

// Insert はいいねを追加する。既に存在する場合は何もしない。
func (r *RESTLikeRepo) Insert(ctx context.Context, recipeID, userID string) error {
	err := r.rest.From(TableRecipeLikes).InsertIgnoreDuplicates(ctx,
		model.Like{RecipeID: recipeID, UserID: userID}, "recipe_id,user_id")
	if err != nil {
		return fmt.Errorf("いいねの追加に失敗しました: %w", err)
	}
	return nil
}

// Delete はいいねを削除する。存在しない場合は何もしない。
func (r *RESTLikeRepo) Delete(ctx context.Context, recipeID, userID string) error {
	err := r.rest.From(TableRecipeLikes).Eq("recipe_id", recipeID).Eq("user_id", userID).Delete(ctx, nil)
	if err != nil {
		return fmt.Errorf("いいねの取り消しに失敗しました: %w", err)
	}
	return nil
}

// RESTProfileRepo はゲートウェイのREST APIを使用したプロフィールリポジトリ。
type RESTProfileRepo struct {
	rest *gateway.RESTClient
}

// compile-time interface check
var _ ProfileRepository = (*RESTProfileRepo)(nil)

// NewRESTProfileRepo はRESTProfileRepoを生成する。
func NewRESTProfileRepo(rest *gateway.RESTClient) *RESTProfileRepo {
	return &RESTProfileRepo{rest: rest}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *RESTProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	found, err := r.rest.From(TableProfiles).Select("*").Eq("id", id).First(ctx, &p)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// FindByIDs は複数IDのプロフィールをまとめて取得する。
func (r *RESTProfileRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*model.Profile, error) {
	out := make(map[string]*model.Profile)
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}

	var profiles []*model.Profile
	if err := r.rest.From(TableProfiles).Select("*").In("id", ids).Find(ctx, &profiles); err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	for _, p := range profiles {
		out[p.ID] = p
	}
	return out, nil
}

// Upsert はプロフィールを作成または更新し、保存後のプロフィールを返す。
func (r *RESTProfileRepo) Upsert(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	row := *p
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}

	var saved []*model.Profile
	if err := r.rest.From(TableProfiles).Upsert(ctx, row, "id", &saved); err != nil {
		return nil, fmt.Errorf("プロフィールの保存に失敗しました: %w", err)
	}
	if len(saved) == 0 {
		return nil, fmt.Errorf("プロフィールの保存結果が返されませんでした")
	}
	return saved[0], nil
}

// uniqueIDs は空文字を除いた重複のないIDを昇順で返す。
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
