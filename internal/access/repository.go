package access

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines the reads required to resolve a principal's entitlements.
type Repository interface {
	ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error)
	GetProfile(ctx context.Context, principalID string) (*Profile, error)
	ListGrants(ctx context.Context, principalID string) ([]DepartmentGrant, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListAssignments returns every role assignment held by the principal.
func (r *PGRepository) ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, role, COALESCE(department_id, '') FROM role_assignments WHERE user_id = $1`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		var roleName string
		if err := rows.Scan(&a.ID, &a.PrincipalID, &roleName, &a.DepartmentID); err != nil {
			return nil, err
		}
		role, err := ParseRole(roleName)
		if err != nil {
			return nil, err
		}
		a.Role = role
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// GetProfile fetches profile attributes for the principal. A missing
// profile row is not an error; the resolver treats it as empty.
func (r *PGRepository) GetProfile(ctx context.Context, principalID string) (*Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, email, COALESCE(full_name, ''), COALESCE(avatar_url, ''), COALESCE(department_id, ''), COALESCE(phone, '') FROM profiles WHERE id = $1`, principalID)
	var p Profile
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.DepartmentID, &p.Phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListGrants returns every department access grant held by the principal.
func (r *PGRepository) ListGrants(ctx context.Context, principalID string) ([]DepartmentGrant, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, department_id, COALESCE(granted_by, '') FROM department_access_grants WHERE user_id = $1`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []DepartmentGrant
	for rows.Next() {
		var g DepartmentGrant
		if err := rows.Scan(&g.PrincipalID, &g.DepartmentID, &g.GrantedBy); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

var _ Repository = (*PGRepository)(nil)
