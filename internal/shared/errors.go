package shared

import (
	"errors"
	"fmt"

	"github.com/opsdeck/opsdeck/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = httpx.ErrNotFound
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken indicates a sign-up against an existing account.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", httpx.ErrDuplicate)
	// ErrUnauthorized indicates a missing or invalid bearer credential.
	ErrUnauthorized = httpx.ErrUnauthorized
	// ErrForbidden indicates an authenticated caller with insufficient role.
	ErrForbidden = httpx.ErrForbidden
)
