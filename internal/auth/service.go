// Package auth implements account management: signup, login, token refresh,
// profile access and password reset.
package auth

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rewired-gh/hdbinsight/internal/logger"
	"github.com/rewired-gh/hdbinsight/internal/mail"
	"github.com/rewired-gh/hdbinsight/internal/models"
	"github.com/rewired-gh/hdbinsight/internal/storage"
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	UsernameTaken(ctx context.Context, username, excludeID string) (bool, error)
	EmailTaken(ctx context.Context, email, excludeID string) (bool, error)
}

// ResetStore persists password reset tokens.
type ResetStore interface {
	CreateReset(ctx context.Context, r *models.PasswordReset) error
	GetResetByToken(ctx context.Context, token string) (*models.PasswordReset, error)
	ConsumeReset(ctx context.Context, resetID int64, passwordHash string, now time.Time) error
}

// Options configures a Service.
type Options struct {
	BcryptCost  int
	ResetTTL    time.Duration
	FrontendURL string
	MailFrom    string
}

// Service implements the account operations.
type Service struct {
	users    UserStore
	resets   ResetStore
	tokens   *TokenManager
	mailer   mail.Sender
	opts     Options
	validate *validator.Validate
	now      func() time.Time

	onSignup func(username string)
}

// NewService creates an account service.
func NewService(users UserStore, resets ResetStore, tokens *TokenManager, mailer mail.Sender, opts Options) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")

	v := validator.New(validator.WithRequiredStructEnabled())
	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		users:    users,
		resets:   resets,
		tokens:   tokens,
		mailer:   mailer,
		opts:     opts,
		validate: v,
		now:      time.Now,
	}
}

// OnSignup registers a callback run after each successful signup.
func (s *Service) OnSignup(fn func(username string)) {
	s.onSignup = fn
}

// Tokens returns the token manager used by the service.
func (s *Service) Tokens() *TokenManager { return s.tokens }

type SignupRequest struct {
	Username        string `json:"username" validate:"required,max=150"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type UpdateProfileRequest struct {
	Username *string `json:"username" validate:"omitempty,min=1,max=150"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password string  `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token              string `json:"token" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required,min=8"`
	ConfirmNewPassword string `json:"confirm_new_password" validate:"required,min=8"`
}

// Profile is the public view of the current user.
type Profile struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	DateJoined string `json:"date_joined"`
}

func (s *Service) validateStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate request: %w", err)
	}
	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.add(fe.Field(), fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this field has at least %s characters.", fe.Param())
	default:
		return "This field is invalid."
	}
}

func (s *Service) hash(field, password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", fieldError(field, "Password must be at most 72 bytes.")
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

func checkPassword(u *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Signup registers a new active user.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*models.User, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.Password != req.ConfirmPassword {
		return nil, fieldError("password", "Passwords do not match.")
	}
	if err := ValidatePassword(req.Password, req.Email, req.Username); err != nil {
		return nil, fieldError("password", err.Error())
	}

	taken, err := s.users.UsernameTaken(ctx, req.Username, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fieldError("username", "Username already exists.")
	}
	taken, err = s.users.EmailTaken(ctx, req.Email, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fieldError("email", "Email already exists.")
	}

	hash, err := s.hash("password", req.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		IsActive:     true,
		DateJoined:   s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fieldError("non_field_errors", "A user with that username or email already exists.")
		}
		return nil, err
	}

	logger.Info("User signed up: %s", u.Username)
	if s.onSignup != nil {
		s.onSignup(u.Username)
	}
	return u, nil
}

// Login verifies credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, req LoginRequest) (TokenPair, error) {
	if err := s.validateStruct(req); err != nil {
		return TokenPair{}, err
	}
	u, err := s.users.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, storage.ErrNotFound) {
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, err
	}
	if !checkPassword(u, req.Password) {
		return TokenPair{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return TokenPair{}, ErrInactiveAccount
	}
	return s.tokens.Issue(u.ID, u.Username)
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(req RefreshRequest) (string, error) {
	if err := s.validateStruct(req); err != nil {
		return "", err
	}
	return s.tokens.Refresh(req.Refresh)
}

// Authenticate resolves an access token to an active user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: user no longer exists", ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrInactiveAccount)
	}
	return u, nil
}

// Profile returns the public profile of u.
func (s *Service) Profile(u *models.User) Profile {
	return Profile{
		Username:   u.Username,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		DateJoined: u.DateJoined.UTC().Format(time.DateOnly),
	}
}

// UpdateProfile changes the username and/or email of u after verifying its
// current password.
func (s *Service) UpdateProfile(ctx context.Context, u *models.User, req UpdateProfileRequest) (*models.User, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.Username != nil && *req.Username == "" {
		return nil, fieldError("username", "This field may not be blank.")
	}
	if req.Email != nil && *req.Email == "" {
		return nil, fieldError("email", "This field may not be blank.")
	}
	if !checkPassword(u, req.Password) {
		return nil, fieldError("password", "Incorrect password.")
	}

	updated := *u
	if req.Email != nil {
		taken, err := s.users.EmailTaken(ctx, *req.Email, u.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fieldError("email", "This email is already in use.")
		}
		updated.Email = *req.Email
	}
	if req.Username != nil {
		taken, err := s.users.UsernameTaken(ctx, *req.Username, u.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fieldError("username", "This username is already taken.")
		}
		updated.Username = *req.Username
	}

	if err := s.users.UpdateUser(ctx, &updated); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fieldError("non_field_errors", "A user with that username or email already exists.")
		}
		return nil, err
	}
	return &updated, nil
}

// ForgotPassword creates a single-use reset token for the account registered
// under req.Email and mails a reset link to it.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	if err := s.validateStruct(req); err != nil {
		return err
	}
	u, err := s.users.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		return fieldError("email", "Email not found.")
	}
	if err != nil {
		return err
	}

	now := s.now()
	reset := &models.PasswordReset{
		UserID:    u.ID,
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.ResetTTL),
	}
	if err := s.resets.CreateReset(ctx, reset); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/reset-password/%s", s.opts.FrontendURL, reset.Token)
	err = s.mailer.Send(ctx, mail.Message{
		Subject: mail.ResetSubject,
		Body:    mail.ResetBody(link, now),
		From:    s.opts.MailFrom,
		To:      []string{req.Email},
	})
	if err != nil {
		return fmt.Errorf("failed to send reset mail: %w", err)
	}
	logger.Info("Password reset requested for user %s", u.Username)
	return nil
}

// ResetPassword sets a new password using a reset token. The token is
// consumed together with the password change, so it succeeds at most once.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	verr := &ValidationError{}
	if err := s.validateStruct(req); err != nil {
		var fe *ValidationError
		if !errors.As(err, &fe) {
			return err
		}
		verr = fe
	}

	var reset *models.PasswordReset
	if req.Token != "" {
		r, err := s.resets.GetResetByToken(ctx, req.Token)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			verr.add("token", "Invalid token.")
		case err != nil:
			return err
		case r.IsExpired(s.now()):
			verr.add("token", "Token has expired.")
		case r.IsUsed:
			verr.add("token", "Token has already been used.")
		default:
			reset = r
		}
	}
	if _, bad := verr.Fields["new_password"]; !bad && req.NewPassword != "" {
		if err := ValidatePassword(req.NewPassword, "", ""); err != nil {
			verr.add("new_password", err.Error())
		}
	}
	if !verr.empty() {
		return verr
	}
	if req.NewPassword != req.ConfirmNewPassword {
		return fieldError("new_password", "Passwords do not match.")
	}

	hash, err := s.hash("new_password", req.NewPassword)
	if err != nil {
		return err
	}
	// The lookup above may race with another request holding the same token.
	if err := s.resets.ConsumeReset(ctx, reset.ID, hash, s.now()); err != nil {
		if errors.Is(err, storage.ErrResetConsumed) {
			return fieldError("token", "Token has already been used.")
		}
		return err
	}
	logger.Info("Password reset completed for user %s", reset.UserID)
	return nil
}
