package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
)

// --- モック定義 ---

type mockProfileRepo struct {
	findByIDFunc func(ctx context.Context, id string) (*model.Profile, error)
	upsertFunc   func(ctx context.Context, p *model.Profile) (*model.Profile, error)
	upserts      []*model.Profile
}

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockProfileRepo) FindByIDs(context.Context, []string) (map[string]*model.Profile, error) {
	return map[string]*model.Profile{}, nil
}

func (m *mockProfileRepo) Upsert(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	m.upserts = append(m.upserts, p)
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, p)
	}
	return p, nil
}

type mockStore struct {
	user      *model.Identity
	refreshes int
	refreshFn func(ctx context.Context) error
}

func (m *mockStore) CurrentUser() *model.Identity { return m.user }

func (m *mockStore) RefreshProfile(ctx context.Context) error {
	m.refreshes++
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return nil
}

func newService(repo *mockProfileRepo, store *mockStore) *Service {
	return NewService(repo, orchestrator.New(nil, orchestrator.Options{Retry: orchestrator.NoRetry()}), store)
}

// --- テスト ---

func TestGet_Existing(t *testing.T) {
	repo := &mockProfileRepo{findByIDFunc: func(_ context.Context, id string) (*model.Profile, error) {
		return &model.Profile{ID: id, Username: "chef"}, nil
	}}
	store := &mockStore{user: &model.Identity{ID: "u1", Email: "chef@example.com"}}

	p, err := newService(repo, store).Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p.Username != "chef" {
		t.Errorf("Username = %q, want chef", p.Username)
	}
	if len(repo.upserts) != 0 || store.refreshes != 0 {
		t.Error("existing profile must not be re-created")
	}
}

func TestGet_LazilyCreatesFromEmail(t *testing.T) {
	repo := &mockProfileRepo{}
	store := &mockStore{user: &model.Identity{ID: "u1", Email: "jane.doe@example.com"}}

	p, err := newService(repo, store).Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p.Username != "jane.doe" {
		t.Errorf("Username = %q, want jane.doe", p.Username)
	}
	if len(repo.upserts) != 1 || repo.upserts[0].ID != "u1" {
		t.Errorf("upserts = %+v, want one for u1", repo.upserts)
	}
	if store.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", store.refreshes)
	}
}

func TestGet_NotSignedIn(t *testing.T) {
	_, err := newService(&mockProfileRepo{}, &mockStore{}).Get(context.Background())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotSignedIn {
		t.Errorf("Get() error = %v, want NOT_SIGNED_IN", err)
	}
}

func TestUpdate_SavesAndRefreshesStore(t *testing.T) {
	repo := &mockProfileRepo{}
	store := &mockStore{user: &model.Identity{ID: "u1"}}

	p, err := newService(repo, store).Update(context.Background(), Input{Username: " chef ", FullName: "Jane", Bio: " hi "})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if p.Username != "chef" || p.Bio != "hi" {
		t.Errorf("Update() = %+v, want trimmed fields", p)
	}
	if store.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", store.refreshes)
	}
}

func TestUpdate_RefreshFailureIsNotFatal(t *testing.T) {
	store := &mockStore{
		user:      &model.Identity{ID: "u1"},
		refreshFn: func(context.Context) error { return errors.New("offline") },
	}
	if _, err := newService(&mockProfileRepo{}, store).Update(context.Background(), Input{Username: "chef"}); err != nil {
		t.Errorf("Update() error = %v, want nil", err)
	}
}

func TestUpdate_RequiresUsername(t *testing.T) {
	repo := &mockProfileRepo{}
	_, err := newService(repo, &mockStore{user: &model.Identity{ID: "u1"}}).Update(context.Background(), Input{Username: "  "})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidInput {
		t.Errorf("Update() error = %v, want INVALID_INPUT", err)
	}
	if len(repo.upserts) != 0 {
		t.Error("invalid input must not reach the gateway")
	}
}
