package auth

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

const minPasswordLen = 8

// passwordSpecials are the characters that satisfy the special-character rule.
const passwordSpecials = "@$!%*?&"

// ValidatePassword enforces the account password policy. email and username,
// when non-empty, must not appear inside the password.
func ValidatePassword(password, email, username string) error {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return errors.New("Password must be at least 8 characters.")
	}
	if !strings.ContainsFunc(password, isASCIIUpper) {
		return errors.New("Password must contain at least one uppercase letter.")
	}
	if !strings.ContainsFunc(password, isASCIILower) {
		return errors.New("Password must contain at least one lowercase letter.")
	}
	if !strings.ContainsFunc(password, unicode.IsDigit) {
		return errors.New("Password must contain at least one number.")
	}
	if !strings.ContainsAny(password, passwordSpecials) {
		return errors.New("Password must contain at least one special character (@, $, !, %, *, ?, &).")
	}
	if email != "" && strings.Contains(password, email) {
		return errors.New("Password should not contain the email address.")
	}
	if username != "" && strings.Contains(password, username) {
		return errors.New("Password should not contain the username.")
	}
	return nil
}

// Only ASCII letters satisfy the letter-case rules; any decimal digit counts as a number.
func isASCIIUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

func isASCIILower(r rune) bool { return r >= 'a' && r <= 'z' }
