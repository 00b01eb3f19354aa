// Package store provides the Postgres adapters behind the engine's
// CredentialStore and the permission package's role graph.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	forumauth "github.com/mengnankk/forumauth"
)

const uniqueViolation = "23505"

// CredentialStore implements forumauth.CredentialStore on a Postgres
// users table. Soft-deleted rows (deleted = true) are invisible to every
// lookup.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore wraps an open database handle.
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

const userColumns = `id, username, email, password, nickname,
	COALESCE(avatar, ''), COALESCE(phone, ''), status,
	email_verified, phone_verified,
	COALESCE(last_login_time, 'epoch'::timestamptz),
	COALESCE(last_login_ip, ''), login_count`

func (s *CredentialStore) FindByUsername(ctx context.Context, username string) (*forumauth.UserRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM users WHERE username = $1 AND deleted = FALSE`, userColumns)
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *CredentialStore) FindByID(ctx context.Context, userID int64) (*forumauth.UserRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM users WHERE id = $1 AND deleted = FALSE`, userColumns)
	return s.scanUser(s.db.QueryRowContext(ctx, query, userID))
}

// Create inserts a new account row. Uniqueness conflicts on username or
// email surface as forumauth.ErrAccountExists.
func (s *CredentialStore) Create(ctx context.Context, input forumauth.CreateUserInput) (*forumauth.UserRecord, error) {
	query := fmt.Sprintf(`INSERT INTO users
		(username, email, password, nickname, status, email_verified, phone_verified, login_count, deleted)
		VALUES ($1, $2, $3, $4, 1, FALSE, FALSE, 0, FALSE)
		RETURNING %s`, userColumns)

	user, err := s.scanUser(s.db.QueryRowContext(ctx, query,
		input.Username, input.Email, input.PasswordHash, input.Nickname))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, forumauth.ErrAccountExists
		}
		return nil, err
	}
	return user, nil
}

func (s *CredentialStore) UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password = $1, updated_time = NOW() WHERE id = $2 AND deleted = FALSE`,
		newHash, userID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// RecordLogin updates the login bookkeeping columns in one statement.
func (s *CredentialStore) RecordLogin(ctx context.Context, userID int64, ip string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_time = $1, last_login_ip = $2, login_count = login_count + 1
		 WHERE id = $3 AND deleted = FALSE`,
		at, ip, userID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (s *CredentialStore) scanUser(row *sql.Row) (*forumauth.UserRecord, error) {
	var user forumauth.UserRecord
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Nickname,
		&user.Avatar, &user.Phone, &user.Status,
		&user.EmailVerified, &user.PhoneVerified,
		&user.LastLoginAt, &user.LastLoginIP, &user.LoginCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, forumauth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return forumauth.ErrUserNotFound
	}
	return nil
}

// RoleGraph implements permission.MutableGraph on the roles,
// permissions, user_roles and role_permissions tables.
type RoleGraph struct {
	db *sql.DB
}

// NewRoleGraph wraps an open database handle.
func NewRoleGraph(db *sql.DB) *RoleGraph {
	return &RoleGraph{db: db}
}

func (g *RoleGraph) RolesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT r.code FROM roles r
		 JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = $1 AND r.status = 1
		 ORDER BY r.code`,
		userID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (g *RoleGraph) PermissionsForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT DISTINCT p.code FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN user_roles ur ON ur.role_id = rp.role_id
		 WHERE ur.user_id = $1 AND p.status = 1
		 ORDER BY p.code`,
		userID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// AssignRole links the user to the role. Re-assigning an already held
// role is a no-op.
func (g *RoleGraph) AssignRole(ctx context.Context, userID int64, roleCode string) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id)
		 SELECT $1, r.id FROM roles r WHERE r.code = $2
		 ON CONFLICT (user_id, role_id) DO NOTHING`,
		userID, roleCode)
	return err
}

func (g *RoleGraph) RemoveRole(ctx context.Context, userID int64, roleCode string) error {
	_, err := g.db.ExecContext(ctx,
		`DELETE FROM user_roles ur
		 USING roles r
		 WHERE ur.role_id = r.id AND ur.user_id = $1 AND r.code = $2`,
		userID, roleCode)
	return err
}

// DeleteRole removes the role and its assignments, reporting every user
// that held it so callers can invalidate cached authority sets.
func (g *RoleGraph) DeleteRole(ctx context.Context, roleCode string) ([]int64, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT ur.user_id FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 WHERE r.code = $1`,
		roleCode)
	if err != nil {
		return nil, err
	}
	var affected []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		affected = append(affected, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_roles ur USING roles r WHERE ur.role_id = r.id AND r.code = $1`,
		roleCode); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM role_permissions rp USING roles r WHERE rp.role_id = r.id AND r.code = $1`,
		roleCode); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM roles WHERE code = $1`, roleCode); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return affected, nil
}

func collect(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
