package comment

import (
	"context"
	"errors"
	"testing"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
)

const recipeID = "4b1e0b5a-6c1e-4e8e-9a51-2f1c2a9d7e10"

// --- モック定義 ---

type mockCommentRepo struct {
	listByRecipeFunc func(ctx context.Context, recipeID string) ([]*model.Comment, error)
	createFunc       func(ctx context.Context, recipeID, userID, content string) (*model.Comment, error)
	createCalls      int
}

func (m *mockCommentRepo) ListByRecipe(ctx context.Context, recipeID string) ([]*model.Comment, error) {
	if m.listByRecipeFunc != nil {
		return m.listByRecipeFunc(ctx, recipeID)
	}
	return nil, nil
}

func (m *mockCommentRepo) Create(ctx context.Context, recipeID, userID, content string) (*model.Comment, error) {
	m.createCalls++
	if m.createFunc != nil {
		return m.createFunc(ctx, recipeID, userID, content)
	}
	return &model.Comment{ID: "c1", RecipeID: recipeID, UserID: userID, Content: content}, nil
}

type mockProfileRepo struct {
	profiles map[string]*model.Profile
}

func (m *mockProfileRepo) FindByID(_ context.Context, id string) (*model.Profile, error) {
	return m.profiles[id], nil
}

func (m *mockProfileRepo) FindByIDs(context.Context, []string) (map[string]*model.Profile, error) {
	return m.profiles, nil
}

func (m *mockProfileRepo) Upsert(_ context.Context, p *model.Profile) (*model.Profile, error) {
	return p, nil
}

type mockSession struct{ user *model.Identity }

func (m *mockSession) CurrentUser() *model.Identity { return m.user }

func newService(repo *mockCommentRepo, user *model.Identity) *Service {
	profiles := &mockProfileRepo{profiles: map[string]*model.Profile{"u1": {ID: "u1", Username: "chef"}}}
	orch := orchestrator.New(nil, orchestrator.Options{Retry: orchestrator.NoRetry()})
	return NewService(repo, profiles, orch, &mockSession{user: user})
}

func apiCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// --- テスト ---

func TestPost_RejectsBlankContentBeforeNetwork(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t "} {
		repo := &mockCommentRepo{}
		svc := newService(repo, &model.Identity{ID: "u1"})

		_, err := svc.Post(context.Background(), recipeID, content)
		if apiCode(err) != model.ErrCodeInvalidInput {
			t.Errorf("Post(%q) error = %v, want INVALID_INPUT", content, err)
		}
		if repo.createCalls != 0 {
			t.Errorf("Post(%q) reached the gateway", content)
		}
	}
}

func TestPost_RequiresSignIn(t *testing.T) {
	repo := &mockCommentRepo{}
	_, err := newService(repo, nil).Post(context.Background(), recipeID, "yum")
	if apiCode(err) != model.ErrCodeNotSignedIn {
		t.Errorf("Post() error = %v, want NOT_SIGNED_IN", err)
	}
}

func TestPost_RefetchesList(t *testing.T) {
	var stored []*model.Comment
	repo := &mockCommentRepo{}
	repo.createFunc = func(_ context.Context, rid, uid, content string) (*model.Comment, error) {
		if content != "yum" {
			t.Errorf("content = %q, want trimmed", content)
		}
		c := &model.Comment{ID: "c1", RecipeID: rid, UserID: uid, Content: content}
		stored = append(stored, c)
		return c, nil
	}
	repo.listByRecipeFunc = func(context.Context, string) ([]*model.Comment, error) {
		return stored, nil
	}
	svc := newService(repo, &model.Identity{ID: "u1"})

	list, err := svc.Post(context.Background(), recipeID, "  yum ")
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	if len(list) != 1 || list[0].AuthorUsername != "chef" {
		t.Errorf("Post() = %+v, want the re-fetched list with authors", list)
	}
}

func TestPost_PermissionDenied(t *testing.T) {
	repo := &mockCommentRepo{createFunc: func(context.Context, string, string, string) (*model.Comment, error) {
		return nil, &gateway.Error{Scope: gateway.ScopeREST, Status: 403, Code: "42501", Message: "new row violates row-level security policy"}
	}}
	svc := newService(repo, &model.Identity{ID: "u1"})

	_, err := svc.Post(context.Background(), recipeID, "yum")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodePermissionDenied {
		t.Fatalf("Post() error = %v, want PERMISSION_DENIED", err)
	}
}

func TestList_UnknownAuthor(t *testing.T) {
	repo := &mockCommentRepo{listByRecipeFunc: func(context.Context, string) ([]*model.Comment, error) {
		return []*model.Comment{{ID: "c1", UserID: "ghost", Content: "hi"}}, nil
	}}
	list, err := newService(repo, nil).List(context.Background(), recipeID)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if list[0].AuthorUsername != model.UnknownUsername {
		t.Errorf("author = %q, want Unknown", list[0].AuthorUsername)
	}
}

func TestList_InvalidRecipeID(t *testing.T) {
	_, err := newService(&mockCommentRepo{}, nil).List(context.Background(), "42")
	if apiCode(err) != model.ErrCodeRecipeNotFound {
		t.Errorf("List() error = %v, want RECIPE_NOT_FOUND", err)
	}
}
