package auth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rewired-gh/hdbinsight/internal/mail"
	"github.com/rewired-gh/hdbinsight/internal/models"
	"github.com/rewired-gh/hdbinsight/internal/storage"
)

const goodPassword = "Str0ng!Pass"

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (c *captureMailer) Send(_ context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

type fixture struct {
	svc    *Service
	store  *storage.Storage
	mailer *captureMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mailer := &captureMailer{}
	svc := NewService(store, store, newTestTokens(t), mailer, Options{
		BcryptCost:  bcrypt.MinCost,
		ResetTTL:    time.Hour,
		FrontendURL: "http://localhost:3000/",
		MailFrom:    "no-reply@example.com",
	})
	return &fixture{svc: svc, store: store, mailer: mailer}
}

func (f *fixture) signup(t *testing.T, username, email string) {
	t.Helper()
	_, err := f.svc.Signup(context.Background(), SignupRequest{
		Username: username, Email: email, Password: goodPassword, ConfirmPassword: goodPassword,
	})
	if err != nil {
		t.Fatalf("Signup(%s): %v", username, err)
	}
}

func requireFieldError(t *testing.T, err error, field, msg string) {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	msgs, ok := verr.Fields[field]
	if !ok {
		t.Fatalf("no error for field %q in %v", field, verr.Fields)
	}
	if msg == "" {
		return
	}
	for _, m := range msgs {
		if m == msg {
			return
		}
	}
	t.Errorf("field %q messages %v do not include %q", field, msgs, msg)
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	var notified []string
	f.svc.OnSignup(func(username string) { notified = append(notified, username) })

	u, err := f.svc.Signup(context.Background(), SignupRequest{
		Username: "alice", Email: "alice@example.com", Password: goodPassword, ConfirmPassword: goodPassword,
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.ID == "" || !u.IsActive || u.PasswordHash == goodPassword {
		t.Errorf("unexpected user: %+v", u)
	}
	if len(notified) != 1 || notified[0] != "alice" {
		t.Errorf("signup hook calls = %v", notified)
	}

	stored, err := f.store.GetUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(goodPassword)) != nil {
		t.Error("stored hash does not verify")
	}
}

func TestSignup_Rejects(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "alice", "alice@example.com")

	tests := []struct {
		name  string
		req   SignupRequest
		field string
		msg   string
	}{
		{
			"mismatch",
			SignupRequest{Username: "bob", Email: "bob@example.com", Password: goodPassword, ConfirmPassword: goodPassword + "x"},
			"password", "Passwords do not match.",
		},
		{
			"weak",
			SignupRequest{Username: "bob", Email: "bob@example.com", Password: "password", ConfirmPassword: "password"},
			"password", "Password must contain at least one uppercase letter.",
		},
		{
			"contains username",
			SignupRequest{Username: "bob", Email: "bob@example.com", Password: "Xx1!bobby", ConfirmPassword: "Xx1!bobby"},
			"password", "Password should not contain the username.",
		},
		{
			"username taken",
			SignupRequest{Username: "alice", Email: "other@example.com", Password: goodPassword, ConfirmPassword: goodPassword},
			"username", "Username already exists.",
		},
		{
			"email taken",
			SignupRequest{Username: "bob", Email: "alice@example.com", Password: goodPassword, ConfirmPassword: goodPassword},
			"email", "Email already exists.",
		},
		{
			"bad email",
			SignupRequest{Username: "bob", Email: "not-an-email", Password: goodPassword, ConfirmPassword: goodPassword},
			"email", "Enter a valid email address.",
		},
		{
			"missing username",
			SignupRequest{Email: "bob@example.com", Password: goodPassword, ConfirmPassword: goodPassword},
			"username", "This field is required.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Signup(context.Background(), tt.req)
			requireFieldError(t, err, tt.field, tt.msg)
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "alice", "alice@example.com")

	pair, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: goodPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	u, err := f.svc.Authenticate(ctx, pair.Access)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("authenticated as %q", u.Username)
	}
	if _, err := f.svc.Authenticate(ctx, pair.Refresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh token must not authenticate, got %v", err)
	}

	access, err := f.svc.Refresh(RefreshRequest{Refresh: pair.Refresh})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, access); err != nil {
		t.Errorf("refreshed access token rejected: %v", err)
	}

	if _, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: "Wrong0!pass"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, LoginRequest{Username: "nobody", Password: goodPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	_, err = f.svc.Login(ctx, LoginRequest{Username: "alice"})
	requireFieldError(t, err, "password", "This field is required.")
}

func TestLogin_Inactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "alice", "alice@example.com")

	pair, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: goodPassword})
	if err != nil {
		t.Fatal(err)
	}

	u, _ := f.store.GetUserByUsername(ctx, "alice")
	u.IsActive = false
	if err := f.store.UpdateUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: goodPassword}); !errors.Is(err, ErrInactiveAccount) {
		t.Errorf("expected ErrInactiveAccount, got %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, pair.Access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for inactive user, got %v", err)
	}
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "alice", "alice@example.com")
	u, _ := f.store.GetUserByUsername(context.Background(), "alice")

	p := f.svc.Profile(u)
	if p.Username != "alice" || p.Email != "alice@example.com" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if !regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`).MatchString(p.DateJoined) {
		t.Errorf("date_joined = %q, want YYYY-MM-DD", p.DateJoined)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "alice", "alice@example.com")
	f.signup(t, "bob", "bob@example.com")
	alice, _ := f.store.GetUserByUsername(ctx, "alice")

	str := func(s string) *string { return &s }

	_, err := f.svc.UpdateProfile(ctx, alice, UpdateProfileRequest{Username: str("alicia"), Password: "Wrong0!pass"})
	requireFieldError(t, err, "password", "Incorrect password.")

	_, err = f.svc.UpdateProfile(ctx, alice, UpdateProfileRequest{Username: str("bob"), Password: goodPassword})
	requireFieldError(t, err, "username", "This username is already taken.")

	_, err = f.svc.UpdateProfile(ctx, alice, UpdateProfileRequest{Email: str("bob@example.com"), Password: goodPassword})
	requireFieldError(t, err, "email", "This email is already in use.")

	_, err = f.svc.UpdateProfile(ctx, alice, UpdateProfileRequest{Username: str(""), Password: goodPassword})
	requireFieldError(t, err, "username", "")

	// keeping one's own email is not a conflict
	updated, err := f.svc.UpdateProfile(ctx, alice, UpdateProfileRequest{
		Username: str("alicia"), Email: str("alice@example.com"), Password: goodPassword,
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Username != "alicia" || updated.Email != "alice@example.com" {
		t.Errorf("unexpected update: %+v", updated)
	}
	if _, err := f.store.GetUserByUsername(ctx, "alicia"); err != nil {
		t.Errorf("update not persisted: %v", err)
	}
}

var tokenInLink = regexp.MustCompile(`http://localhost:3000/reset-password/([0-9a-f]{32})\n`)

func requestReset(t *testing.T, f *fixture, email string) string {
	t.Helper()
	if err := f.svc.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: email}); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	msg := f.mailer.sent[len(f.mailer.sent)-1]
	m := tokenInLink.FindStringSubmatch(msg.Body)
	if m == nil {
		t.Fatalf("no reset link in body:\n%s", msg.Body)
	}
	return m[1]
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "alice", "alice@example.com")

	token := requestReset(t, f, "alice@example.com")
	msg := f.mailer.sent[0]
	if msg.Subject != mail.ResetSubject || msg.From != "no-reply@example.com" || msg.To[0] != "alice@example.com" {
		t.Errorf("unexpected message: %+v", msg)
	}

	const newPassword = "N3w!Secret"
	err := f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: newPassword, ConfirmNewPassword: newPassword})
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: newPassword}); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: goodPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still accepted: %v", err)
	}

	err = f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: newPassword, ConfirmNewPassword: newPassword})
	requireFieldError(t, err, "token", "Token has already been used.")
}

// gatedResets holds each token lookup until every expected lookup has been made.
type gatedResets struct {
	*storage.Storage
	arrived sync.WaitGroup
}

func (g *gatedResets) GetResetByToken(ctx context.Context, token string) (*models.PasswordReset, error) {
	r, err := g.Storage.GetResetByToken(ctx, token)
	g.arrived.Done()
	g.arrived.Wait()
	return r, err
}

func TestResetPassword_ConcurrentSameToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "alice", "alice@example.com")
	token := requestReset(t, f, "alice@example.com")

	gated := &gatedResets{Storage: f.store}
	gated.arrived.Add(2)
	f.svc.resets = gated

	passwords := []string{"N3w!SecretA", "N3w!SecretB"}
	errs := make([]error, len(passwords))
	var wg sync.WaitGroup
	for i, p := range passwords {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: p, ConfirmNewPassword: p})
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			if winner >= 0 {
				t.Fatal("both resets succeeded with one token")
			}
			winner = i
			continue
		}
		requireFieldError(t, err, "token", "Token has already been used.")
	}
	if winner < 0 {
		t.Fatalf("no reset succeeded: %v", errs)
	}

	if _, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: passwords[winner]}); err != nil {
		t.Errorf("login with winning password: %v", err)
	}
	if _, err := f.svc.Login(ctx, LoginRequest{Username: "alice", Password: passwords[1-winner]}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("losing password accepted: %v", err)
	}
}

func TestForgotPassword_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "alice", "alice@example.com")

	err := f.svc.ForgotPassword(ctx, ForgotPasswordRequest{Email: "ghost@example.com"})
	requireFieldError(t, err, "email", "Email not found.")

	err = f.svc.ForgotPassword(ctx, ForgotPasswordRequest{Email: "nope"})
	requireFieldError(t, err, "email", "Enter a valid email address.")

	f.mailer.err = errors.New("relay down")
	if err := f.svc.ForgotPassword(ctx, ForgotPasswordRequest{Email: "alice@example.com"}); err == nil {
		t.Error("expected mail failure to surface")
	}
}

func TestResetPassword_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "alice", "alice@example.com")
	token := requestReset(t, f, "alice@example.com")

	tests := []struct {
		name  string
		req   ResetPasswordRequest
		field string
		msg   string
	}{
		{"unknown token", ResetPasswordRequest{Token: "deadbeef", NewPassword: "N3w!Secret", ConfirmNewPassword: "N3w!Secret"}, "token", "Invalid token."},
		{"too short", ResetPasswordRequest{Token: token, NewPassword: "N3w!", ConfirmNewPassword: "N3w!"}, "new_password", "Ensure this field has at least 8 characters."},
		{"weak", ResetPasswordRequest{Token: token, NewPassword: "newsecret", ConfirmNewPassword: "newsecret"}, "new_password", "Password must contain at least one uppercase letter."},
		{"mismatch", ResetPasswordRequest{Token: token, NewPassword: "N3w!Secret", ConfirmNewPassword: "N3w!Secre7"}, "new_password", "Passwords do not match."},
		{"missing token", ResetPasswordRequest{NewPassword: "N3w!Secret", ConfirmNewPassword: "N3w!Secret"}, "token", "This field is required."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.ResetPassword(ctx, tt.req)
			requireFieldError(t, err, tt.field, tt.msg)
		})
	}

	// none of the failures consumed the token
	r, err := f.store.GetResetByToken(ctx, token)
	if err != nil || r.IsUsed {
		t.Errorf("token state = %+v, %v", r, err)
	}
}

func TestResetPassword_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "alice", "alice@example.com")
	token := requestReset(t, f, "alice@example.com")

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	err := f.svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "N3w!Secret", ConfirmNewPassword: "N3w!Secret"})
	requireFieldError(t, err, "token", "Token has expired.")
}
