package credreset

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsdeck/opsdeck/internal/platform/db"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// Repository defines persistence operations for password reset tokens and
// the password write path.
type Repository interface {
	// InvalidateAndCreate marks every unused token for the target as used
	// and inserts the new token in one transaction, preserving the
	// at-most-one-live-token invariant.
	InvalidateAndCreate(ctx context.Context, token Token) error
	FindValid(ctx context.Context, tokenValue string, now time.Time) (*Token, error)
	Consume(ctx context.Context, id string, usedAt time.Time) error
	UpdatePassword(ctx context.Context, principalID, passwordHash string) error
	PendingForEmail(ctx context.Context, email string, now time.Time) (*Token, error)
	ProfileName(ctx context.Context, principalID string) (string, error)
	DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InvalidateAndCreate expires prior unused tokens and persists the new one.
func (r *PGRepository) InvalidateAndCreate(ctx context.Context, token Token) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE password_reset_tokens SET is_used = TRUE, used_at = $2 WHERE user_id = $1 AND is_used = FALSE`,
			token.PrincipalID, token.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO password_reset_tokens (id, token, user_id, user_email, initiated_by, initiated_by_name, created_at, expires_at, is_used) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`,
			token.ID, token.Token, token.PrincipalID, token.PrincipalEmail, token.InitiatedBy, token.InitiatedByName, token.CreatedAt, token.ExpiresAt)
		return err
	})
}

// FindValid looks up an unused, unexpired token by its exact value.
func (r *PGRepository) FindValid(ctx context.Context, tokenValue string, now time.Time) (*Token, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, token, user_id, user_email, initiated_by, COALESCE(initiated_by_name, ''), created_at, expires_at, is_used, used_at FROM password_reset_tokens WHERE token = $1 AND is_used = FALSE AND expires_at > $2`,
		tokenValue, now)
	return scanToken(row)
}

// Consume marks the token used exactly once.
func (r *PGRepository) Consume(ctx context.Context, id string, usedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE password_reset_tokens SET is_used = TRUE, used_at = $2 WHERE id = $1 AND is_used = FALSE`, id, usedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Already consumed; a retry after a partial failure lands here.
		return nil
	}
	return nil
}

// UpdatePassword writes the rotated password hash for the principal.
func (r *PGRepository) UpdatePassword(ctx context.Context, principalID, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, principalID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// PendingForEmail returns the newest live token addressed to the email.
func (r *PGRepository) PendingForEmail(ctx context.Context, email string, now time.Time) (*Token, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, token, user_id, user_email, initiated_by, COALESCE(initiated_by_name, ''), created_at, expires_at, is_used, used_at FROM password_reset_tokens WHERE user_email = $1 AND is_used = FALSE AND expires_at > $2 ORDER BY created_at DESC LIMIT 1`,
		email, now)
	return scanToken(row)
}

// ProfileName fetches the display name for audit attribution.
func (r *PGRepository) ProfileName(ctx context.Context, principalID string) (string, error) {
	row := r.pool.QueryRow(ctx, `SELECT COALESCE(NULLIF(full_name, ''), email) FROM profiles WHERE id = $1`, principalID)
	var name string
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	return name, nil
}

// DeleteConsumedBefore purges long-expired consumed tokens.
func (r *PGRepository) DeleteConsumedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE is_used = TRUE AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	if err := row.Scan(&t.ID, &t.Token, &t.PrincipalID, &t.PrincipalEmail, &t.InitiatedBy, &t.InitiatedByName, &t.CreatedAt, &t.ExpiresAt, &t.IsUsed, &t.UsedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

var _ Repository = (*PGRepository)(nil)
