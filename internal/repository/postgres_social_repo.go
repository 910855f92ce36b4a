package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	pgBase
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB, tokens gateway.TokenSource) *PostgresCommentRepo {
	return &PostgresCommentRepo{pgBase{db: db, tokens: tokens}}
}

// ListByRecipe はレシピのコメントを作成日時の昇順で取得する。
func (r *PostgresCommentRepo) ListByRecipe(ctx context.Context, recipeID string) ([]*model.Comment, error) {
	var comments []*model.Comment
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, recipe_id, user_id, content, created_at
			 FROM comments WHERE recipe_id = $1 ORDER BY created_at ASC`, recipeID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c := &model.Comment{}
			if err := rows.Scan(&c.ID, &c.RecipeID, &c.UserID, &c.Content, &c.CreatedAt); err != nil {
				return err
			}
			comments = append(comments, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("コメントの取得に失敗しました: %w", err)
	}
	return comments, nil
}

// Create はコメントを作成し、作成後のコメントを返す。
func (r *PostgresCommentRepo) Create(ctx context.Context, recipeID, userID, content string) (*model.Comment, error) {
	c := &model.Comment{}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO comments (recipe_id, user_id, content) VALUES ($1, $2, $3)
			 RETURNING id, recipe_id, user_id, content, created_at`,
			recipeID, userID, content,
		).Scan(&c.ID, &c.RecipeID, &c.UserID, &c.Content, &c.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("コメントの投稿に失敗しました: %w", err)
	}
	return c, nil
}

// PostgresLikeRepo はPostgreSQLを使用したいいねリポジトリ。
type PostgresLikeRepo struct {
	pgBase
}

// compile-time interface check
var _ LikeRepository = (*PostgresLikeRepo)(nil)

// NewPostgresLikeRepo はPostgresLikeRepoを生成する。
func NewPostgresLikeRepo(db *sql.DB, tokens gateway.TokenSource) *PostgresLikeRepo {
	return &PostgresLikeRepo{pgBase{db: db, tokens: tokens}}
}

// Count はレシピのいいね数を返す。
func (r *PostgresLikeRepo) Count(ctx context.Context, recipeID string) (int, error) {
	var n int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT count(*) FROM recipe_likes WHERE recipe_id = $1`, recipeID).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("いいね数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Exists はユーザーがレシピにいいねしているかどうかを返す。
func (r *PostgresLikeRepo) Exists(ctx context.Context, recipeID, userID string) (bool, error) {
	var exists bool
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM recipe_likes WHERE recipe_id = $1 AND user_id = $2)`,
			recipeID, userID,
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("いいね状態の取得に失敗しました: %w", err)
	}
	return exists, nil
}

// Insert はいいねを追加する。既に存在する場合は何もしない。
func (r *PostgresLikeRepo) Insert(ctx context.Context, recipeID, userID string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recipe_likes (recipe_id, user_id) VALUES ($1, $2)
			 ON CONFLICT (recipe_id, user_id) DO NOTHING`,
			recipeID, userID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("いいねの追加に失敗しました: %w", err)
	}
	return nil
}

// Delete はいいねを削除する。存在しない場合は何もしない。
func (r *PostgresLikeRepo) Delete(ctx context.Context, recipeID, userID string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM recipe_likes WHERE recipe_id = $1 AND user_id = $2`, recipeID, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("いいねの取り消しに失敗しました: %w", err)
	}
	return nil
}

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	pgBase
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB, tokens gateway.TokenSource) *PostgresProfileRepo {
	return &PostgresProfileRepo{pgBase{db: db, tokens: tokens}}
}

func scanProfile(s rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var username, fullName, bio sql.NullString
	if err := s.Scan(&p.ID, &username, &fullName, &bio, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Username = username.String
	p.FullName = fullName.String
	p.Bio = bio.String
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var p *model.Profile
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRowContext(ctx,
			`SELECT id, username, full_name, bio, updated_at FROM profiles WHERE id = $1`, id))
		return err
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByIDs は複数IDのプロフィールをまとめて取得する。
func (r *PostgresProfileRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*model.Profile, error) {
	out := make(map[string]*model.Profile)
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, username, full_name, bio, updated_at FROM profiles WHERE id = ANY($1::uuid[])`,
			pq.Array(ids))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProfile(rows)
			if err != nil {
				return err
			}
			out[p.ID] = p
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return out, nil
}

// Upsert はプロフィールを作成または更新し、保存後のプロフィールを返す。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, in *model.Profile) (*model.Profile, error) {
	var p *model.Profile
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRowContext(ctx,
			`INSERT INTO profiles (id, username, full_name, bio, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (id) DO UPDATE
			 SET username = EXCLUDED.username, full_name = EXCLUDED.full_name,
			     bio = EXCLUDED.bio, updated_at = EXCLUDED.updated_at
			 RETURNING id, username, full_name, bio, updated_at`,
			in.ID, in.Username, in.FullName, in.Bio,
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("プロフィールの保存に失敗しました: %w", err)
	}
	return p, nil
}
