package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// searchColumns は検索語の部分一致対象となる列。
var searchColumns = []string{"title", "ingredients", "instructions"}

// recipeRow はレシピ作成・更新時に送信する列。
type recipeRow struct {
	UserID       string           `json:"user_id,omitempty"`
	Title        string           `json:"title"`
	Ingredients  string           `json:"ingredients"`
	Instructions string           `json:"instructions"`
	CookingTime  *int             `json:"cooking_time"`
	Difficulty   model.Difficulty `json:"difficulty"`
	Category     string           `json:"category"`
	ImageURL     *string          `json:"image_url"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
}

func newRecipeRow(in model.RecipeInput) recipeRow {
	return recipeRow{
		Title:        in.Title,
		Ingredients:  in.Ingredients,
		Instructions: in.Instructions,
		CookingTime:  in.CookingTime,
		Difficulty:   in.Difficulty,
		Category:     in.Category,
		ImageURL:     in.ImageURL,
	}
}

// RESTRecipeRepo はゲートウェイのREST APIを使用したレシピリポジトリ。
type RESTRecipeRepo struct {
	rest *gateway.RESTClient
}

// compile-time interface check
var _ RecipeRepository = (*RESTRecipeRepo)(nil)

// NewRESTRecipeRepo はRESTRecipeRepoを生成する。
func NewRESTRecipeRepo(rest *gateway.RESTClient) *RESTRecipeRepo {
	return &RESTRecipeRepo{rest: rest}
}

// List はフィルタに一致するレシピを作成日時の降順で取得する。
func (r *RESTRecipeRepo) List(ctx context.Context, filter model.RecipeFilter) ([]*model.Recipe, error) {
	f := filter.Normalize()
	q := r.rest.From(TableRecipes).Select("*")
	if f.Category != "" {
		q.Eq("category", f.Category)
	}
	if f.Difficulty != "" {
		q.Eq("difficulty", f.Difficulty)
	}
	q.SearchAny(searchColumns, f.Search).Order("created_at", false)

	var recipes []*model.Recipe
	if err := q.Find(ctx, &recipes); err != nil {
		return nil, fmt.Errorf("レシピ一覧の取得に失敗しました: %w", err)
	}

	// 検索語の * はゲートウェイで1文字の任意一致になるため、部分一致で絞り込み直す
	matched := recipes[:0]
	for _, recipe := range recipes {
		if f.Matches(recipe) {
			matched = append(matched, recipe)
		}
	}
	return matched, nil
}

// FindByID は指定IDのレシピを取得する。見つからない場合はnilを返す。
func (r *RESTRecipeRepo) FindByID(ctx context.Context, id string) (*model.Recipe, error) {
	var recipe model.Recipe
	found, err := r.rest.From(TableRecipes).Select("*").Eq("id", id).First(ctx, &recipe)
	if err != nil {
		return nil, fmt.Errorf("レシピの取得に失敗しました: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &recipe, nil
}

// FindOwned は ownerID が所有する指定IDのレシピを取得する。
func (r *RESTRecipeRepo) FindOwned(ctx context.Context, id, ownerID string) (*model.Recipe, error) {
	var recipe model.Recipe
	found, err := r.rest.From(TableRecipes).Select("*").Eq("id", id).Eq("user_id", ownerID).First(ctx, &recipe)
	if err != nil {
		return nil, fmt.Errorf("レシピの取得に失敗しました: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &recipe, nil
}

// ListByOwner は ownerID のレシピを作成日時の降順で取得する。
func (r *RESTRecipeRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Recipe, error) {
	var recipes []*model.Recipe
	err := r.rest.From(TableRecipes).Select("*").Eq("user_id", ownerID).Order("created_at", false).Find(ctx, &recipes)
	if err != nil {
		return nil, fmt.Errorf("自分のレシピ一覧の取得に失敗しました: %w", err)
	}
	return recipes, nil
}

// Create はレシピを作成し、作成後のレシピを返す。
func (r *RESTRecipeRepo) Create(ctx context.Context, ownerID string, in model.RecipeInput) (*model.Recipe, error) {
	row := newRecipeRow(in)
	row.UserID = ownerID

	var created []*model.Recipe
	if err := r.rest.From(TableRecipes).Insert(ctx, row, &created); err != nil {
		return nil, fmt.Errorf("レシピの作成に失敗しました: %w", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("レシピの作成結果が返されませんでした")
	}
	return created[0], nil
}

// Update は ownerID が所有するレシピの内容を置き換える。該当しない場合はnilを返す。
func (r *RESTRecipeRepo) Update(ctx context.Context, id, ownerID string, in model.RecipeInput) (*model.Recipe, error) {
	row := newRecipeRow(in)
	now := time.Now().UTC()
	row.UpdatedAt = &now

	var updated []*model.Recipe
	err := r.rest.From(TableRecipes).Eq("id", id).Eq("user_id", ownerID).Update(ctx, row, &updated)
	if err != nil {
		return nil, fmt.Errorf("レシピの更新に失敗しました: %w", err)
	}
	if len(updated) == 0 {
		return nil, nil
	}
	return updated[0], nil
}

// Delete は ownerID が所有するレシピを削除する。削除した場合はtrueを返す。
func (r *RESTRecipeRepo) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	var deleted []struct {
		ID string `json:"id"`
	}
	err := r.rest.From(TableRecipes).Select("id").Eq("id", id).Eq("user_id", ownerID).Delete(ctx, &deleted)
	if err != nil {
		return false, fmt.Errorf("レシピの削除に失敗しました: %w", err)
	}
	return len(deleted) > 0, nil
}
