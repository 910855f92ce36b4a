package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

type mockTokenSource struct {
	accessTokenFunc func(ctx context.Context) (string, error)
}

func (m *mockTokenSource) AccessToken(ctx context.Context) (string, error) {
	return m.accessTokenFunc(ctx)
}

// fakeRow は rowScanner を満たし、固定の値を書き込む。
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *sql.NullInt64:
			if v, ok := r.values[i].(int64); ok {
				*p = sql.NullInt64{Int64: v, Valid: true}
			}
		case *sql.NullString:
			if v, ok := r.values[i].(string); ok {
				*p = sql.NullString{String: v, Valid: true}
			}
		}
	}
	return nil
}

func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ RecipeRepository = (*PostgresRecipeRepo)(nil)
	var _ CommentRepository = (*PostgresCommentRepo)(nil)
	var _ LikeRepository = (*PostgresLikeRepo)(nil)
	var _ ProfileRepository = (*PostgresProfileRepo)(nil)
}

func TestScanRecipe_NullableColumns(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("値がある場合", func(t *testing.T) {
		r, err := scanRecipe(fakeRow{values: []any{
			"r1", "u1", "Tart", "flour", "bake",
			int64(45), "Hard", "Dessert", "https://example.com/t.jpg",
			created, created,
		}})
		if err != nil {
			t.Fatalf("scanRecipe: %v", err)
		}
		ct, img := 45, "https://example.com/t.jpg"
		want := &model.Recipe{
			ID: "r1", UserID: "u1", Title: "Tart", Ingredients: "flour", Instructions: "bake",
			CookingTime: &ct, Difficulty: model.DifficultyHard, Category: "Dessert", ImageURL: &img,
			CreatedAt: created, UpdatedAt: created,
		}
		if diff := cmp.Diff(want, r); diff != "" {
			t.Errorf("scanRecipe() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("NULLの場合", func(t *testing.T) {
		r, err := scanRecipe(fakeRow{values: []any{
			"r1", "u1", "Tart", "flour", "bake",
			nil, nil, nil, nil,
			created, created,
		}})
		if err != nil {
			t.Fatalf("scanRecipe: %v", err)
		}
		if r.CookingTime != nil || r.ImageURL != nil {
			t.Errorf("nullable columns should stay nil: %+v", r)
		}
		if r.Difficulty != "" || r.Category != "" {
			t.Errorf("difficulty/category = %q/%q, want empty", r.Difficulty, r.Category)
		}
	})

	t.Run("行がない場合", func(t *testing.T) {
		if _, err := scanRecipe(fakeRow{err: sql.ErrNoRows}); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("err = %v, want sql.ErrNoRows", err)
		}
	})
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"curry", "curry"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`c:\path`, `c:\\path`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNullableHelpers(t *testing.T) {
	if v := nullableInt(nil); v.Valid {
		t.Error("nullableInt(nil) should be invalid")
	}
	n := 10
	if v := nullableInt(&n); !v.Valid || v.Int64 != 10 {
		t.Errorf("nullableInt(&10) = %+v", v)
	}
	if v := nullableString(nil); v.Valid {
		t.Error("nullableString(nil) should be invalid")
	}
	s := "x"
	if v := nullableString(&s); !v.Valid || v.String != "x" {
		t.Errorf("nullableString(&x) = %+v", v)
	}
}

func TestPostgresRecipeRepo_TokenErrorsStopBeforeQuery(t *testing.T) {
	sentinel := errors.New("refresh failed")

	tests := []struct {
		name   string
		tokens *mockTokenSource
	}{
		{
			name: "トークン取得に失敗",
			tokens: &mockTokenSource{accessTokenFunc: func(context.Context) (string, error) {
				return "", sentinel
			}},
		},
		{
			name: "トークンがJWTではない",
			tokens: &mockTokenSource{accessTokenFunc: func(context.Context) (string, error) {
				return "not-a-jwt", nil
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// db は nil のため、クエリまで進むと panic する
			repo := NewPostgresRecipeRepo(nil, tt.tokens)
			if _, err := repo.List(context.Background(), model.RecipeFilter{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
