package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// PermissionSource reads roles and permissions from the user_roles,
// user_permissions and role_permissions tables. Lookup failures are reported
// as absent so the evaluator can degrade; they never fail the request.
type PermissionSource struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

func NewPermissionSource(db *sql.DB, log *zap.SugaredLogger) *PermissionSource {
	return &PermissionSource{db: db, log: log}
}

func (s *PermissionSource) RolesOf(ctx context.Context, userID string) ([]string, bool) {
	query := `SELECT role FROM user_roles WHERE user_id = $1`
	roles, err := s.queryStrings(ctx, query, userID)
	if err != nil {
		s.log.Errorw("failed to load user roles", "userId", userID, "error", err)
		return nil, false
	}
	return roles, true
}

func (s *PermissionSource) PermissionsOf(ctx context.Context, userID string) ([]string, bool) {
	query := `SELECT permission FROM user_permissions WHERE user_id = $1`
	perms, err := s.queryStrings(ctx, query, userID)
	if err != nil {
		s.log.Debugw("direct permission lookup unavailable", "userId", userID, "error", err)
		return nil, false
	}
	return perms, true
}

func (s *PermissionSource) PermissionsOfRole(ctx context.Context, role string) ([]string, bool) {
	query := `SELECT permission FROM role_permissions WHERE role = $1`
	perms, err := s.queryStrings(ctx, query, role)
	if err != nil {
		s.log.Errorw("failed to load role permissions", "role", role, "error", err)
		return nil, false
	}
	return perms, true
}

func (s *PermissionSource) queryStrings(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return values, nil
}
