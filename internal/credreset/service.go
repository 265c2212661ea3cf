package credreset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdeck/opsdeck/internal/access"
	"github.com/opsdeck/opsdeck/internal/observability"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// RoleSource re-derives a principal's role assignments from storage.
type RoleSource interface {
	ListAssignments(ctx context.Context, principalID string) ([]access.RoleAssignment, error)
}

// SessionRevoker terminates every session a principal holds.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, principalID string) error
}

// Notifier delivers best-effort security notices.
type Notifier interface {
	SecurityNotice(ctx context.Context, userID, title, message string)
}

// Service owns the password reset token lifecycle. It is the only
// component allowed to write a new password.
type Service struct {
	repo     Repository
	roles    RoleSource
	sessions SessionRevoker
	notifier Notifier
	audit    *shared.AuditLogger
	metrics  *observability.Metrics
	logger   *slog.Logger
	tokenTTL time.Duration
	now      func() time.Time
}

// NewService constructs the Service. The clock is injectable for tests;
// pass nil for time.Now.
func NewService(repo Repository, roles RoleSource, sessions SessionRevoker, notifier Notifier, audit *shared.AuditLogger, metrics *observability.Metrics, logger *slog.Logger, tokenTTL time.Duration, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		roles:    roles,
		sessions: sessions,
		notifier: notifier,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
		tokenTTL: tokenTTL,
		now:      now,
	}
}

// InitiateResult reports when the issued token expires.
type InitiateResult struct {
	ExpiresAt time.Time
}

// Initiate issues a reset token for the target principal on behalf of a
// super admin. The requesting principal's role is re-derived from storage;
// client-supplied role claims are never trusted. All previously unused
// tokens for the target are invalidated so at most one live token exists.
func (s *Service) Initiate(ctx context.Context, requestingPrincipalID, targetID, targetEmail string) (*InitiateResult, error) {
	if requestingPrincipalID == "" {
		return nil, shared.ErrUnauthorized
	}
	if targetID == "" || targetEmail == "" {
		return nil, fmt.Errorf("%w: target id and email required", ErrBadRequest)
	}

	assignments, err := s.roles.ListAssignments(ctx, requestingPrincipalID)
	if err != nil {
		return nil, fmt.Errorf("credreset: derive requester role: %w", err)
	}
	if access.EffectiveRole(assignments) != access.RoleSuperAdmin {
		return nil, shared.ErrForbidden
	}

	initiatedByName, err := s.repo.ProfileName(ctx, requestingPrincipalID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		s.logger.Warn("resolve initiator name", slog.Any("error", err))
	}

	now := s.now()
	token := Token{
		ID:              uuid.NewString(),
		Token:           uuid.NewString(),
		PrincipalID:     targetID,
		PrincipalEmail:  shared.NormalizeEmail(targetEmail),
		InitiatedBy:     requestingPrincipalID,
		InitiatedByName: initiatedByName,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.tokenTTL),
	}
	if err := s.repo.InvalidateAndCreate(ctx, token); err != nil {
		return nil, fmt.Errorf("credreset: persist token: %w", err)
	}
	s.metrics.SecurityEvent("reset_initiated")

	// Force the target to re-authenticate everywhere. Best effort: the
	// enforcer catches any session that survives.
	if err := s.sessions.RevokeAllSessions(ctx, targetID); err != nil {
		s.logger.Warn("revoke target sessions", slog.Any("error", err), slog.String("principal", targetID))
	}

	s.recordAudit(ctx, requestingPrincipalID, "PASSWORD_RESET_INITIATED", targetID, map[string]any{
		"target_email": token.PrincipalEmail,
		"initiated_by": initiatedByName,
	})
	if s.notifier != nil {
		s.notifier.SecurityNotice(ctx, targetID, "Password Reset Required",
			"Your password has been reset by an administrator. Please log in to set a new password.")
	}

	return &InitiateResult{ExpiresAt: token.ExpiresAt}, nil
}

// Complete rotates the password for the principal named by a valid token.
// No authentication is required beyond possession of the token; the target
// has just been force-logged-out and cannot present a credential. The
// password is written before the token is consumed: a consumption failure
// after rotation is logged loudly but still reported as success, since a
// retried consumption is idempotent and rotation is the security-critical
// effect.
func (s *Service) Complete(ctx context.Context, tokenValue, newPassword string) error {
	if tokenValue == "" || newPassword == "" {
		return fmt.Errorf("%w: token and new password required", ErrBadRequest)
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	token, err := s.repo.FindValid(ctx, tokenValue, s.now())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("credreset: token lookup: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("credreset: hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, token.PrincipalID, string(hash)); err != nil {
		return fmt.Errorf("credreset: write password: %w", err)
	}

	if err := s.repo.Consume(ctx, token.ID, s.now()); err != nil {
		s.logger.Error("token consumption failed after password rotation",
			slog.Any("error", err),
			slog.String("token_id", token.ID),
			slog.String("principal", token.PrincipalID))
	}

	s.metrics.SecurityEvent("reset_completed")
	s.recordAudit(ctx, token.PrincipalID, "PASSWORD_RESET_COMPLETED", token.PrincipalID, map[string]any{
		"initiated_by": token.InitiatedBy,
	})
	if s.notifier != nil {
		s.notifier.SecurityNotice(ctx, token.PrincipalID, "Password Updated Successfully",
			"Your password has been changed. You can now log in with your new password.")
	}
	return nil
}

// PendingReset describes an outstanding administrator-initiated reset.
type PendingReset struct {
	Pending bool
	Token   string
	Email   string
}

// CheckPending reports whether a live reset token exists for the email.
func (s *Service) CheckPending(ctx context.Context, email string) (PendingReset, error) {
	email = shared.NormalizeEmail(email)
	if email == "" {
		return PendingReset{}, fmt.Errorf("%w: email required", ErrBadRequest)
	}
	token, err := s.repo.PendingForEmail(ctx, email, s.now())
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return PendingReset{}, nil
		}
		return PendingReset{}, err
	}
	return PendingReset{Pending: true, Token: token.Token, Email: token.PrincipalEmail}, nil
}

// SweepExpired purges consumed tokens whose expiry passed more than the
// retention window ago.
func (s *Service) SweepExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteConsumedBefore(ctx, s.now().Add(-retention))
}

func (s *Service) recordAudit(ctx context.Context, actorID, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "password_reset_tokens",
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
}
