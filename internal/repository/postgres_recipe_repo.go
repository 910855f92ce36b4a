package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hashaatefac/Recipe-Sharing/internal/database"
	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// pgBase はPostgres直結リポジトリの共通部分。
// すべてのクエリを現在のアクセストークンのクレームを設定したトランザクション内で実行し、
// REST API経由と同じ行レベルセキュリティを適用する。
type pgBase struct {
	db     *sql.DB
	tokens gateway.TokenSource
}

func (b pgBase) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	token, err := b.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve access token: %w", err)
	}
	var claims []byte
	if token != "" {
		claims, err = gateway.ClaimsJSON(token)
		if err != nil {
			return err
		}
	}
	return database.WithClaims(ctx, b.db, claims, fn)
}

const recipeColumns = `id, user_id, title, ingredients, instructions, cooking_time, difficulty, category, image_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(s rowScanner) (*model.Recipe, error) {
	r := &model.Recipe{}
	var cookingTime sql.NullInt64
	var difficulty, category, imageURL sql.NullString

	err := s.Scan(
		&r.ID, &r.UserID, &r.Title, &r.Ingredients, &r.Instructions,
		&cookingTime, &difficulty, &category, &imageURL,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if cookingTime.Valid {
		v := int(cookingTime.Int64)
		r.CookingTime = &v
	}
	r.Difficulty = model.Difficulty(difficulty.String)
	r.Category = category.String
	if imageURL.Valid {
		r.ImageURL = &imageURL.String
	}
	return r, nil
}

func collectRecipes(rows *sql.Rows) ([]*model.Recipe, error) {
	defer rows.Close()
	var recipes []*model.Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

// PostgresRecipeRepo はPostgreSQLを使用したレシピリポジトリ。
type PostgresRecipeRepo struct {
	pgBase
}

// compile-time interface check
var _ RecipeRepository = (*PostgresRecipeRepo)(nil)

// NewPostgresRecipeRepo はPostgresRecipeRepoを生成する。
func NewPostgresRecipeRepo(db *sql.DB, tokens gateway.TokenSource) *PostgresRecipeRepo {
	return &PostgresRecipeRepo{pgBase{db: db, tokens: tokens}}
}

// List はフィルタに一致するレシピを作成日時の降順で取得する。
func (r *PostgresRecipeRepo) List(ctx context.Context, filter model.RecipeFilter) ([]*model.Recipe, error) {
	f := filter.Normalize()
	pattern := ""
	if f.Search != "" {
		pattern = "%" + escapeLike(f.Search) + "%"
	}

	var recipes []*model.Recipe
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+recipeColumns+`
			 FROM recipes
			 WHERE ($1 = '' OR category = $1)
			   AND ($2 = '' OR difficulty = $2)
			   AND ($3 = '' OR title ILIKE $3 OR ingredients ILIKE $3 OR instructions ILIKE $3)
			 ORDER BY created_at DESC`,
			f.Category, f.Difficulty, pattern,
		)
		if err != nil {
			return err
		}
		recipes, err = collectRecipes(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("レシピ一覧の取得に失敗しました: %w", err)
	}
	return recipes, nil
}

// FindByID は指定IDのレシピを取得する。見つからない場合はnilを返す。
func (r *PostgresRecipeRepo) FindByID(ctx context.Context, id string) (*model.Recipe, error) {
	var recipe *model.Recipe
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		recipe, err = scanRecipe(tx.QueryRowContext(ctx,
			`SELECT `+recipeColumns+` FROM recipes WHERE id = $1`, id))
		return err
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レシピの取得に失敗しました: %w", err)
	}
	return recipe, nil
}

// FindOwned は ownerID が所有する指定IDのレシピを取得する。
func (r *PostgresRecipeRepo) FindOwned(ctx context.Context, id, ownerID string) (*model.Recipe, error) {
	var recipe *model.Recipe
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		recipe, err = scanRecipe(tx.QueryRowContext(ctx,
			`SELECT `+recipeColumns+` FROM recipes WHERE id = $1 AND user_id = $2`, id, ownerID))
		return err
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レシピの取得に失敗しました: %w", err)
	}
	return recipe, nil
}

// ListByOwner は ownerID のレシピを作成日時の降順で取得する。
func (r *PostgresRecipeRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Recipe, error) {
	var recipes []*model.Recipe
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+recipeColumns+` FROM recipes WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
		if err != nil {
			return err
		}
		recipes, err = collectRecipes(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("自分のレシピ一覧の取得に失敗しました: %w", err)
	}
	return recipes, nil
}

// Create はレシピを作成し、作成後のレシピを返す。
func (r *PostgresRecipeRepo) Create(ctx context.Context, ownerID string, in model.RecipeInput) (*model.Recipe, error) {
	var recipe *model.Recipe
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		recipe, err = scanRecipe(tx.QueryRowContext(ctx,
			`INSERT INTO recipes (user_id, title, ingredients, instructions, cooking_time, difficulty, category, image_url)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+recipeColumns,
			ownerID, in.Title, in.Ingredients, in.Instructions,
			nullableInt(in.CookingTime), string(in.Difficulty), in.Category, nullableString(in.ImageURL),
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("レシピの作成に失敗しました: %w", err)
	}
	return recipe, nil
}

// Update は ownerID が所有するレシピの内容を置き換える。該当しない場合はnilを返す。
func (r *PostgresRecipeRepo) Update(ctx context.Context, id, ownerID string, in model.RecipeInput) (*model.Recipe, error) {
	var recipe *model.Recipe
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		recipe, err = scanRecipe(tx.QueryRowContext(ctx,
			`UPDATE recipes
			 SET title = $3, ingredients = $4, instructions = $5, cooking_time = $6,
			     difficulty = $7, category = $8, image_url = $9, updated_at = now()
			 WHERE id = $1 AND user_id = $2
			 RETURNING `+recipeColumns,
			id, ownerID, in.Title, in.Ingredients, in.Instructions,
			nullableInt(in.CookingTime), string(in.Difficulty), in.Category, nullableString(in.ImageURL),
		))
		return err
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("レシピの更新に失敗しました: %w", err)
	}
	return recipe, nil
}

// Delete は ownerID が所有するレシピを削除する。削除した場合はtrueを返す。
func (r *PostgresRecipeRepo) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	var affected int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM recipes WHERE id = $1 AND user_id = $2`, id, ownerID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("レシピの削除に失敗しました: %w", err)
	}
	return affected > 0, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// escapeLike は ILIKE パターンのメタ文字をリテラルとして扱うようエスケープする。
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
