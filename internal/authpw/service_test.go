package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"noteit/api/internal/store"
)

// mockProfileStore is an in-memory ProfileStore for testing.
type mockProfileStore struct {
	profiles   map[string]store.Profile
	emailIndex map[string]string
	resets     map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockProfileStore() *mockProfileStore {
	return &mockProfileStore{
		profiles:   make(map[string]store.Profile),
		emailIndex: make(map[string]string),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockProfileStore) GetProfileByEmail(ctx context.Context, email string) (store.Profile, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.profiles[userID], nil
	}
	return store.Profile{}, errors.New("profile not found")
}

func (m *mockProfileStore) GetProfileByID(ctx context.Context, id string) (store.Profile, error) {
	if profile, ok := m.profiles[id]; ok {
		return profile, nil
	}
	return store.Profile{}, errors.New("profile not found")
}

func (m *mockProfileStore) CreateProfile(ctx context.Context, profile store.Profile) error {
	m.profiles[profile.ID] = profile
	m.emailIndex[profile.Email] = profile.ID
	return nil
}

func (m *mockProfileStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if profile, ok := m.profiles[userID]; ok {
		profile.VerificationToken = token
		profile.VerificationExpiresAt = &expiresAt
		m.profiles[userID] = profile
	}
	return nil
}

func (m *mockProfileStore) VerifyUserEmail(ctx context.Context, token string) error {
	for id, profile := range m.profiles {
		if profile.VerificationToken == token {
			profile.IsEmailVerified = true
			profile.VerificationToken = ""
			m.profiles[id] = profile
			return nil
		}
	}
	return errors.New("invalid token")
}

func (m *mockProfileStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if profile, ok := m.profiles[userID]; ok {
		profile.PasswordHash = passwordHash
		m.profiles[userID] = profile
		return nil
	}
	return errors.New("profile not found")
}

func (m *mockProfileStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockProfileStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockProfileStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockProfileStore()
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "test@example.com",
			Password: "password123",
			Name:     "Test User",
		})
		if err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		if resp.UserID == "" {
			t.Fatal("expected user ID")
		}
		if !resp.RequiresEmailVerify {
			t.Fatal("expected RequiresEmailVerify")
		}
		if resp.VerificationToken == "" {
			t.Fatal("expected verification token")
		}
		profile := mockStore.profiles[resp.UserID]
		if profile.PlanID != DefaultPlanID {
			t.Fatalf("expected plan %q, got %q", DefaultPlanID, profile.PlanID)
		}
		if profile.IsEmailVerified {
			t.Fatal("new profile must not be verified")
		}
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "test@example.com",
			Password: "password456",
			Name:     "Other User",
		})
		if !errors.Is(err, ErrEmailExists) {
			t.Fatalf("expected ErrEmailExists, got %v", err)
		}
	})

	t.Run("short password rejected", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:    "short@example.com",
			Password: "short",
			Name:     "Short",
		})
		if err == nil {
			t.Fatal("expected error for short password")
		}
	})
}

func TestSignInFlow(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockProfileStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:    "flow@example.com",
		Password: "password123",
		Name:     "Flow",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	t.Run("unverified sign in flagged", func(t *testing.T) {
		signIn, err := svc.SignIn(ctx, SignInRequest{Email: "flow@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if !signIn.RequiresVerify {
			t.Fatal("expected RequiresVerify before email verification")
		}
	})

	t.Run("sign in after verification", func(t *testing.T) {
		if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
			t.Fatalf("VerifyEmail() error = %v", err)
		}
		signIn, err := svc.SignIn(ctx, SignInRequest{Email: "flow@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if signIn.RequiresVerify {
			t.Fatal("did not expect RequiresVerify after verification")
		}
		if signIn.Profile.Email != "flow@example.com" {
			t.Fatalf("unexpected profile: %+v", signIn.Profile)
		}
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "flow@example.com", Password: "nope12345"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown email rejected", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{Email: "ghost@example.com", Password: "password123"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockProfileStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:    "reset@example.com",
		Password: "password123",
		Name:     "Reset",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "reset@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token")
	}

	t.Run("unknown email yields no token and no error", func(t *testing.T) {
		unknown, err := svc.RequestPasswordReset(ctx, "ghost@example.com")
		if err != nil || unknown != "" {
			t.Fatalf("expected silent empty token, got %q err=%v", unknown, err)
		}
	})

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "newpassword1"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "reset@example.com", Password: "newpassword1"})
	if err != nil {
		t.Fatalf("SignIn() after reset error = %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("verification state must survive a password reset")
	}

	t.Run("token single use", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "anotherpass1"})
		if err == nil {
			t.Fatal("expected used token to be rejected")
		}
	})
}

func TestEnsureExternalProfile(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockProfileStore()
	svc := NewService(mockStore)

	first, err := svc.EnsureExternalProfile(ctx, "Ext@Example.com", "Ext User")
	if err != nil {
		t.Fatalf("EnsureExternalProfile() error = %v", err)
	}
	if !first.IsExternal || !first.IsEmailVerified {
		t.Fatalf("external profile must be verified external, got %+v", first)
	}
	if first.Email != "ext@example.com" {
		t.Fatalf("expected lowercased email, got %q", first.Email)
	}

	second, err := svc.EnsureExternalProfile(ctx, "ext@example.com", "Ignored")
	if err != nil {
		t.Fatalf("EnsureExternalProfile() second call error = %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected the same profile on repeat external login")
	}
}
