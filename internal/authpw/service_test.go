package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lufeisan/tornadoforum/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users         map[string]store.User
	emailIndex    map[string]string // email -> userID
	verifications map[string]store.User
	resets        map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:         make(map[string]store.User),
		emailIndex:    make(map[string]string),
		verifications: make(map[string]store.User),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
		m.verifications[token] = user
	}
	return nil
}

func (m *mockUserStore) VerifyUserEmail(ctx context.Context, token string) error {
	if user, ok := m.verifications[token]; ok {
		user.IsEmailVerified = true
		m.users[user.ID] = user
		m.emailIndex[user.Email] = user.ID
		return nil
	}
	return errors.New("invalid token")
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *mockUserStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt, used: false}
	return nil
}

func (m *mockUserStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	if reset, ok := m.resets[token]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func (m *mockUserStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func TestSignUpCreatesUnverifiedUser(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:    "lufei@example.com",
		Password: "straw-hat-9",
		NickName: "lufei",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if resp.UserID == "" || resp.VerificationToken == "" {
		t.Fatalf("expected user ID and verification token, got %+v", resp)
	}
	if !resp.RequiresEmailVerify {
		t.Fatal("expected RequiresEmailVerify")
	}

	user := mock.users[resp.UserID]
	if user.IsEmailVerified {
		t.Fatal("new user must not be verified")
	}
	if user.PasswordHash == "straw-hat-9" {
		t.Fatal("password must be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("straw-hat-9")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password1", NickName: "a"}); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password2", NickName: "b"})
	if err == nil || err.Error() != "email already registered" {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@b.c", Password: "short", NickName: "a"})
	if err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestSignInRequiresVerifiedEmail(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password1", NickName: "a"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "password1"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("expected RequiresVerify before verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "password1"})
	if err != nil {
		t.Fatalf("SignIn() after verify error = %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("did not expect RequiresVerify after verification")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	resp, _ := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password1", NickName: "a"})
	_ = svc.VerifyEmail(ctx, resp.VerificationToken)

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "wrong-password"}); err == nil {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	resp, _ := svc.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password1", NickName: "a"})
	_ = svc.VerifyEmail(ctx, resp.VerificationToken)

	token, err := svc.RequestPasswordReset(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token for known email")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "password2"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "password2"}); err != nil {
		t.Fatalf("SignIn() with new password error = %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "password1"}); err == nil {
		t.Fatal("old password must no longer work")
	}
}

func TestPasswordResetUnknownEmailRevealsNothing(t *testing.T) {
	svc := NewService(newMockUserStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must not yield a token")
	}
}
