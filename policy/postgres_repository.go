package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// PostgresSchema creates the tables used by PostgresRepository.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS roles (
	id                 UUID PRIMARY KEY,
	name               TEXT NOT NULL UNIQUE,
	category           TEXT NOT NULL,
	access_level       TEXT NOT NULL,
	emergency_override BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS role_permissions (
	id                   UUID PRIMARY KEY,
	role_id              UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
	position             INTEGER NOT NULL,
	name                 TEXT NOT NULL,
	resource             TEXT NOT NULL,
	actions              JSONB NOT NULL,
	access_condition     JSONB,
	time_restriction     JSONB,
	location_restriction JSONB,
	UNIQUE (role_id, position)
);

CREATE TABLE IF NOT EXISTS user_roles (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	role_id     UUID NOT NULL REFERENCES roles(id),
	assigned_by TEXT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (user_id, role_id)
);

CREATE INDEX IF NOT EXISTS user_roles_active_idx ON user_roles (user_id) WHERE active;
`

const (
	listActiveUserRolesQuery = `
SELECT id, user_id, role_id, assigned_by, assigned_at, expires_at, active
FROM user_roles
WHERE user_id = $1 AND active AND (expires_at IS NULL OR expires_at > $2)
ORDER BY assigned_at, role_id`

	getRoleQuery = `
SELECT id, name, category, access_level, emergency_override
FROM roles
WHERE id = $1`

	listRolePermissionsQuery = `
SELECT id, name, resource, actions, access_condition, time_restriction, location_restriction
FROM role_permissions
WHERE role_id = $1
ORDER BY position`

	upsertRoleQuery = `
INSERT INTO roles (id, name, category, access_level, emergency_override)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	category = EXCLUDED.category,
	access_level = EXCLUDED.access_level,
	emergency_override = EXCLUDED.emergency_override`

	deleteRolePermissionsQuery = `DELETE FROM role_permissions WHERE role_id = $1`

	insertRolePermissionQuery = `
INSERT INTO role_permissions
	(id, role_id, position, name, resource, actions, access_condition, time_restriction, location_restriction)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	assignRoleQuery = `
INSERT INTO user_roles (id, user_id, role_id, assigned_by, assigned_at, expires_at, active)
VALUES ($1, $2, $3, $4, $5, $6, TRUE)
ON CONFLICT (user_id, role_id) DO UPDATE SET
	assigned_by = EXCLUDED.assigned_by,
	assigned_at = EXCLUDED.assigned_at,
	expires_at = EXCLUDED.expires_at,
	active = TRUE
WHERE NOT user_roles.active OR (user_roles.expires_at IS NOT NULL AND user_roles.expires_at <= $5)
RETURNING id`

	revokeRoleQuery = `UPDATE user_roles SET active = FALSE WHERE user_id = $1 AND role_id = $2`
)

type userRoleRow struct {
	ID         string       `db:"id"`
	UserID     string       `db:"user_id"`
	RoleID     string       `db:"role_id"`
	AssignedBy string       `db:"assigned_by"`
	AssignedAt time.Time    `db:"assigned_at"`
	ExpiresAt  sql.NullTime `db:"expires_at"`
	Active     bool         `db:"active"`
}

type roleRow struct {
	ID                string `db:"id"`
	Name              string `db:"name"`
	Category          string `db:"category"`
	AccessLevel       string `db:"access_level"`
	EmergencyOverride bool   `db:"emergency_override"`
}

type permissionRow struct {
	ID                  string `db:"id"`
	Name                string `db:"name"`
	Resource            string `db:"resource"`
	Actions             []byte `db:"actions"`
	AccessCondition     []byte `db:"access_condition"`
	TimeRestriction     []byte `db:"time_restriction"`
	LocationRestriction []byte `db:"location_restriction"`
}

// PostgresRepository stores roles and assignments in Postgres through sqlx
// on the pgx stdlib driver. Gate definitions are JSONB columns.
type PostgresRepository struct {
	db       *sqlx.DB
	registry *Registry
}

// OpenPostgres connects with the pgx driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, "pgx", dsn)
}

// NewPostgresRepository wraps db. When registry is non-nil, SaveRole validates against it.
func NewPostgresRepository(db *sqlx.DB, registry *Registry) *PostgresRepository {
	return &PostgresRepository{db: db, registry: registry}
}

// EnsureSchema applies PostgresSchema.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, PostgresSchema)
	return err
}

func (r *PostgresRepository) ListActiveUserRoles(ctx context.Context, userID string, at time.Time) ([]UserRole, error) {
	var rows []userRoleRow
	if err := r.db.SelectContext(ctx, &rows, listActiveUserRolesQuery, userID, at); err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}

	out := make([]UserRole, 0, len(rows))
	for _, row := range rows {
		ur := UserRole{
			ID:         row.ID,
			UserID:     row.UserID,
			RoleID:     row.RoleID,
			AssignedBy: row.AssignedBy,
			AssignedAt: row.AssignedAt,
			Active:     row.Active,
		}
		if row.ExpiresAt.Valid {
			exp := row.ExpiresAt.Time
			ur.ExpiresAt = &exp
		}
		out = append(out, ur)
	}
	return out, nil
}

// GetRoleWithPermissions reads the role and its permissions in one
// read-only repeatable-read transaction so the set is a consistent snapshot.
func (r *PostgresRepository) GetRoleWithPermissions(ctx context.Context, roleID string) (*Role, error) {
	if _, err := uuid.Parse(roleID); err != nil {
		return nil, ErrRoleNotFound
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin role snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rr roleRow
	if err := tx.GetContext(ctx, &rr, getRoleQuery, roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}

	var prows []permissionRow
	if err := tx.SelectContext(ctx, &prows, listRolePermissionsQuery, roleID); err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit role snapshot: %w", err)
	}

	role := &Role{
		ID:                rr.ID,
		Name:              rr.Name,
		Category:          Category(rr.Category),
		AccessLevel:       AccessLevel(rr.AccessLevel),
		EmergencyOverride: rr.EmergencyOverride,
		Permissions:       make([]Permission, 0, len(prows)),
	}
	for _, pr := range prows {
		p, err := pr.permission()
		if err != nil {
			return nil, fmt.Errorf("decode permission %q: %w", pr.Name, err)
		}
		role.Permissions = append(role.Permissions, p)
	}
	return role, nil
}

func (pr permissionRow) permission() (Permission, error) {
	p := Permission{ID: pr.ID, Name: pr.Name, Resource: pr.Resource}
	if err := json.Unmarshal(pr.Actions, &p.Actions); err != nil {
		return Permission{}, err
	}
	if len(pr.AccessCondition) > 0 {
		p.Condition = &AccessCondition{}
		if err := json.Unmarshal(pr.AccessCondition, p.Condition); err != nil {
			return Permission{}, err
		}
	}
	if len(pr.TimeRestriction) > 0 {
		p.Time = &TimeRestriction{}
		if err := json.Unmarshal(pr.TimeRestriction, p.Time); err != nil {
			return Permission{}, err
		}
	}
	if len(pr.LocationRestriction) > 0 {
		p.Location = &LocationRestriction{}
		if err := json.Unmarshal(pr.LocationRestriction, p.Location); err != nil {
			return Permission{}, err
		}
	}
	return p, nil
}

// SaveRole upserts a role and replaces its permission list in one transaction.
func (r *PostgresRepository) SaveRole(ctx context.Context, role Role) error {
	if r.registry != nil {
		if err := r.registry.ValidateRole(&role); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save role: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertRoleQuery,
		role.ID, role.Name, string(role.Category), string(role.AccessLevel), role.EmergencyOverride,
	); err != nil {
		return fmt.Errorf("upsert role: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteRolePermissionsQuery, role.ID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}

	for i, p := range role.Permissions {
		actions, err := json.Marshal(p.Actions)
		if err != nil {
			return err
		}
		cond, err := nullableJSON(p.Condition)
		if err != nil {
			return err
		}
		tr, err := nullableJSON(p.Time)
		if err != nil {
			return err
		}
		loc, err := nullableJSON(p.Location)
		if err != nil {
			return err
		}
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, insertRolePermissionQuery,
			id, role.ID, i, p.Name, p.Resource, actions, cond, tr, loc,
		); err != nil {
			return fmt.Errorf("insert permission %q: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save role: %w", err)
	}
	return nil
}

// Assign inserts an assignment, or reactivates a revoked or expired one.
// An effective assignment for the same pair yields ErrDuplicateAssignment.
func (r *PostgresRepository) Assign(ctx context.Context, ur UserRole) (UserRole, error) {
	if ur.UserID == "" || ur.RoleID == "" {
		return UserRole{}, fmt.Errorf("%w: user and role required", ErrInvalidRole)
	}
	if ur.ID == "" {
		ur.ID = uuid.NewString()
	}
	if ur.AssignedAt.IsZero() {
		ur.AssignedAt = time.Now().UTC()
	}
	var expires sql.NullTime
	if ur.ExpiresAt != nil {
		expires = sql.NullTime{Time: *ur.ExpiresAt, Valid: true}
	}

	var id string
	err := r.db.QueryRowxContext(ctx, assignRoleQuery,
		ur.ID, ur.UserID, ur.RoleID, ur.AssignedBy, ur.AssignedAt, expires,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserRole{}, ErrDuplicateAssignment
		}
		return UserRole{}, fmt.Errorf("assign role: %w", err)
	}
	ur.ID = id
	ur.Active = true
	return ur, nil
}

// Revoke deactivates an assignment; the row is kept.
func (r *PostgresRepository) Revoke(ctx context.Context, userID, roleID string) error {
	res, err := r.db.ExecContext(ctx, revokeRoleQuery, userID, roleID)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	if n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func nullableJSON(v any) ([]byte, error) {
	switch x := v.(type) {
	case *AccessCondition:
		if x == nil {
			return nil, nil
		}
	case *TimeRestriction:
		if x == nil {
			return nil, nil
		}
	case *LocationRestriction:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
