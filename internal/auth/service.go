package auth

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdeck/opsdeck/internal/shared"
)

// SessionRevoker terminates sessions, locally and with global scope.
type SessionRevoker interface {
	Destroy(sess *shared.Session)
	DestroyAllForUser(ctx context.Context, userID string) error
}

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions SessionRevoker
	stream   *Stream
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions SessionRevoker, stream *Stream, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, stream: stream, logger: logger}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, shared.NormalizeEmail(email))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if s.stream != nil {
		s.stream.Publish(Event{Kind: EventSignedIn, PrincipalID: user.ID})
	}
	return user, nil
}

// SignUp registers a new account with its profile.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := User{
		ID:           uuid.NewString(),
		Email:        shared.NormalizeEmail(email),
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.repo.CreateUser(ctx, user, displayName); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOutGlobal clears the caller's session first, then revokes every
// other session the principal holds. Revocation failures are logged but
// never surfaced; sign-out must not leave the caller half authenticated.
func (s *Service) SignOutGlobal(ctx context.Context, sess *shared.Session) {
	principalID := ""
	if sess != nil {
		principalID = sess.User()
		s.sessions.Destroy(sess)
	}
	if s.stream != nil && principalID != "" {
		s.stream.Publish(Event{Kind: EventSignedOut, PrincipalID: principalID})
	}
	if principalID == "" {
		return
	}
	if err := s.sessions.DestroyAllForUser(ctx, principalID); err != nil {
		s.logger.Error("global session revocation", slog.Any("error", err), slog.String("principal", principalID))
	}
}

// RevokeAllSessions terminates every session for the principal without a
// local session in hand. Used by privileged flows.
func (s *Service) RevokeAllSessions(ctx context.Context, principalID string) error {
	if s.stream != nil {
		s.stream.Publish(Event{Kind: EventSignedOut, PrincipalID: principalID})
	}
	return s.sessions.DestroyAllForUser(ctx, principalID)
}
