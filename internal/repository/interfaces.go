// Package repository はゲートウェイのテーブルへのアクセスをインターフェースとして定義する。
// 既定の実装はPostgREST互換のREST API経由、DATABASE_URL 設定時はPostgresへの直接接続を使う。
package repository

import (
	"context"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// テーブル名
const (
	TableProfiles    = "profiles"
	TableRecipes     = "recipes"
	TableComments    = "comments"
	TableRecipeLikes = "recipe_likes"
)

// RecipeRepository はレシピの永続化インターフェース。
type RecipeRepository interface {
	// List はフィルタに一致するレシピを作成日時の降順で取得する。
	List(ctx context.Context, filter model.RecipeFilter) ([]*model.Recipe, error)

	// FindByID は指定IDのレシピを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Recipe, error)

	// FindOwned は ownerID が所有する指定IDのレシピを取得する。
	// 存在しない場合、他人のレシピの場合はnilを返す。
	FindOwned(ctx context.Context, id, ownerID string) (*model.Recipe, error)

	// ListByOwner は ownerID のレシピを作成日時の降順で取得する。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Recipe, error)

	// Create はレシピを作成し、作成後のレシピを返す。
	Create(ctx context.Context, ownerID string, in model.RecipeInput) (*model.Recipe, error)

	// Update は ownerID が所有するレシピの内容を置き換える。
	// 該当するレシピがない場合はnilを返す。
	Update(ctx context.Context, id, ownerID string, in model.RecipeInput) (*model.Recipe, error)

	// Delete は ownerID が所有するレシピを削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, id, ownerID string) (bool, error)
}

// CommentRepository はコメントの永続化インターフェース。
type CommentRepository interface {
	// ListByRecipe はレシピのコメントを作成日時の昇順で取得する。
	ListByRecipe(ctx context.Context, recipeID string) ([]*model.Comment, error)

	// Create はコメントを作成し、作成後のコメントを返す。
	Create(ctx context.Context, recipeID, userID, content string) (*model.Comment, error)
}

// LikeRepository はいいねの永続化インターフェース。
// Insert と Delete は冪等であり、何度呼んでも同じ状態に収束する。
type LikeRepository interface {
	// Count はレシピのいいね数を返す。
	Count(ctx context.Context, recipeID string) (int, error)

	// Exists はユーザーがレシピにいいねしているかどうかを返す。
	Exists(ctx context.Context, recipeID, userID string) (bool, error)

	// Insert はいいねを追加する。既に存在する場合は何もしない。
	Insert(ctx context.Context, recipeID, userID string) error

	// Delete はいいねを削除する。存在しない場合は何もしない。
	Delete(ctx context.Context, recipeID, userID string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByIDs は複数IDのプロフィールをまとめて取得する。
	// 見つからないIDはマップに含まれない。
	FindByIDs(ctx context.Context, ids []string) (map[string]*model.Profile, error)

	// Upsert はプロフィールを作成または更新し、保存後のプロフィールを返す。
	Upsert(ctx context.Context, p *model.Profile) (*model.Profile, error)
}
