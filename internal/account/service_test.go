package account

import (
	"context"
	"errors"
	"testing"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
	"github.com/hashaatefac/Recipe-Sharing/internal/orchestrator"
)

// --- モック定義 ---

type mockAuth struct {
	signUpFunc   func(ctx context.Context, email, password string) (*gateway.SignUpResult, error)
	signInFunc   func(ctx context.Context, email, password string) (*model.Session, error)
	signOutFunc  func(ctx context.Context) error
	getUserFunc  func(ctx context.Context) (*model.Identity, error)
	networkCalls int
}

func (m *mockAuth) SignUp(ctx context.Context, email, password string) (*gateway.SignUpResult, error) {
	m.networkCalls++
	if m.signUpFunc != nil {
		return m.signUpFunc(ctx, email, password)
	}
	return &gateway.SignUpResult{}, nil
}

func (m *mockAuth) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	m.networkCalls++
	if m.signInFunc != nil {
		return m.signInFunc(ctx, email, password)
	}
	return &model.Session{}, nil
}

func (m *mockAuth) SignOut(ctx context.Context) error {
	m.networkCalls++
	if m.signOutFunc != nil {
		return m.signOutFunc(ctx)
	}
	return nil
}

func (m *mockAuth) GetUser(ctx context.Context) (*model.Identity, error) {
	m.networkCalls++
	if m.getUserFunc != nil {
		return m.getUserFunc(ctx)
	}
	return nil, nil
}

type mockSession struct {
	user    *model.Identity
	profile *model.Profile
}

func (m *mockSession) CurrentUser() *model.Identity   { return m.user }
func (m *mockSession) CurrentProfile() *model.Profile { return m.profile }

func newService(auth *mockAuth, sess *mockSession) *Service {
	return NewService(auth, orchestrator.New(nil, orchestrator.Options{Retry: orchestrator.NoRetry()}), sess)
}

// --- テスト ---

func TestSignUp_ValidatesBeforeNetwork(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		password  string
		wantField string
	}{
		{"empty email", "  ", "secret", "email"},
		{"malformed email", "not-an-email", "secret", "email"},
		{"empty password", "a@example.com", "", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &mockAuth{}
			svc := newService(auth, &mockSession{})

			_, err := svc.SignUp(context.Background(), tt.email, tt.password)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidInput {
				t.Fatalf("SignUp() error = %v, want INVALID_INPUT", err)
			}
			if auth.networkCalls != 0 {
				t.Errorf("network calls = %d, want 0", auth.networkCalls)
			}
		})
	}
}

func TestSignUp_ConfirmationPending(t *testing.T) {
	auth := &mockAuth{signUpFunc: func(_ context.Context, email, _ string) (*gateway.SignUpResult, error) {
		if email != "a@example.com" {
			t.Errorf("email = %q, want trimmed address", email)
		}
		return &gateway.SignUpResult{User: model.Identity{ID: "u1", Email: email}}, nil
	}}
	svc := newService(auth, &mockSession{})

	res, err := svc.SignUp(context.Background(), " a@example.com ", "secret")
	if err != nil {
		t.Fatalf("SignUp() error: %v", err)
	}
	if !res.Pending {
		t.Error("Pending = false, want true when no session is returned")
	}
	if res.Identity.ID != "u1" || res.Message == "" {
		t.Errorf("SignUp() = %+v", res)
	}
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	auth := &mockAuth{signInFunc: func(context.Context, string, string) (*model.Session, error) {
		return nil, &gateway.Error{Scope: gateway.ScopeAuth, Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}}
	svc := newService(auth, &mockSession{})

	_, err := svc.SignIn(context.Background(), "a@example.com", "wrong")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAuthFailed {
		t.Fatalf("SignIn() error = %v, want AUTH_FAILED", err)
	}
}

func TestSignIn_Success(t *testing.T) {
	auth := &mockAuth{signInFunc: func(context.Context, string, string) (*model.Session, error) {
		return &model.Session{AccessToken: "t", User: model.Identity{ID: "u1", Email: "a@example.com"}}, nil
	}}
	svc := newService(auth, &mockSession{})

	ident, err := svc.SignIn(context.Background(), "a@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn() error: %v", err)
	}
	if ident.ID != "u1" {
		t.Errorf("SignIn() = %+v, want u1", ident)
	}
}

func TestSignOut_ConvertsError(t *testing.T) {
	auth := &mockAuth{signOutFunc: func(context.Context) error {
		return &gateway.NetworkError{Op: "logout", Err: errors.New("dial tcp: refused")}
	}}
	svc := newService(auth, &mockSession{})

	err := svc.SignOut(context.Background())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Category != model.CategoryNetwork {
		t.Errorf("SignOut() error = %v, want network category", err)
	}
}

func TestWhoAmI_NotSignedIn(t *testing.T) {
	auth := &mockAuth{}
	svc := newService(auth, &mockSession{})

	_, err := svc.WhoAmI(context.Background())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotSignedIn {
		t.Fatalf("WhoAmI() error = %v, want NOT_SIGNED_IN", err)
	}
	if auth.networkCalls != 0 {
		t.Errorf("network calls = %d, want 0", auth.networkCalls)
	}
}

func TestWhoAmI_VerifiesWithGateway(t *testing.T) {
	auth := &mockAuth{getUserFunc: func(context.Context) (*model.Identity, error) {
		return &model.Identity{ID: "u1", Email: "a@example.com"}, nil
	}}
	sess := &mockSession{
		user:    &model.Identity{ID: "u1"},
		profile: &model.Profile{ID: "u1", Username: "chef"},
	}
	svc := newService(auth, sess)

	who, err := svc.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI() error: %v", err)
	}
	if who.Identity.Email != "a@example.com" || who.Profile.Username != "chef" {
		t.Errorf("WhoAmI() = %+v", who)
	}
}
