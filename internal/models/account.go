package models

import (
	"errors"
	"time"
)

// User is a registered account. Username and Email are unique across users.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	IsActive     bool      `json:"is_active"`
	DateJoined   time.Time `json:"date_joined"`
}

// Validate checks user field constraints.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user ID must not be empty")
	}
	if u.Username == "" {
		return errors.New("username must not be empty")
	}
	if len(u.Username) > 150 {
		return errors.New("username must be at most 150 characters")
	}
	if u.Email == "" {
		return errors.New("email must not be empty")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash must not be empty")
	}
	if u.DateJoined.IsZero() {
		return errors.New("date joined must be set")
	}
	return nil
}

// PasswordReset is a single-use, time-limited password reset token.
type PasswordReset struct {
	ID        int64
	UserID    string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsUsed    bool
}

// IsExpired reports whether the token is past its expiration at now.
func (p *PasswordReset) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
