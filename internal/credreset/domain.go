package credreset

import (
	"errors"
	"fmt"
	"time"
	"unicode"
)

// Token is an administrator-initiated, single-use password reset token.
type Token struct {
	ID              string
	Token           string
	PrincipalID     string
	PrincipalEmail  string
	InitiatedBy     string
	InitiatedByName string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	IsUsed          bool
	UsedAt          *time.Time
}

var (
	// ErrBadRequest indicates missing target id/email or token/password.
	ErrBadRequest = errors.New("credreset: missing required input")
	// ErrInvalidOrExpiredToken covers missing, consumed, and expired
	// tokens alike. The states are deliberately indistinguishable to the
	// caller so tokens cannot be enumerated.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
)

// WeakPasswordError reports the first password policy rule the candidate
// violates.
type WeakPasswordError struct {
	Rule string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("weak password: %s", e.Rule)
}

// ValidatePassword enforces the password policy: minimum length 8, at
// least one uppercase, one lowercase, one digit, and one symbol outside
// alphanumerics.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return &WeakPasswordError{Rule: "must be at least 8 characters"}
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	switch {
	case !upper:
		return &WeakPasswordError{Rule: "must contain an uppercase letter"}
	case !lower:
		return &WeakPasswordError{Rule: "must contain a lowercase letter"}
	case !digit:
		return &WeakPasswordError{Rule: "must contain a digit"}
	case !symbol:
		return &WeakPasswordError{Rule: "must contain a symbol"}
	}
	return nil
}
