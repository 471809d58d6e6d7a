package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/models"
)

var (
	ErrRoleDenied       = errors.New("role requirements not satisfied")
	ErrPermissionDenied = errors.New("permission requirements not satisfied")
)

// PermissionEvaluator decides whether a caller satisfies an endpoint policy.
// Requirement is "all of", exclusion is "none of": an exclusion match denies
// even when every requirement is met.
type PermissionEvaluator struct {
	source PermissionSource
	log    *zap.SugaredLogger
}

func NewPermissionEvaluator(source PermissionSource, log *zap.SugaredLogger) *PermissionEvaluator {
	return &PermissionEvaluator{source: source, log: log}
}

// Authorize evaluates the policy's role checks, then its permission checks.
// Permissions are read directly from the source when it materializes a flat
// per-user list; otherwise they are derived by expanding the caller's roles.
// During role expansion an excluded permission denies as soon as it surfaces
// in any single role's set, before the final union is inspected.
func (e *PermissionEvaluator) Authorize(ctx context.Context, userID string, policy *models.EndpointPolicy) error {
	var roles []string
	rolesFetched := false

	if len(policy.RequireRoles) > 0 || len(policy.ExcludeRoles) > 0 {
		roles, _ = e.source.RolesOf(ctx, userID)
		rolesFetched = true

		roleSet := toSet(roles)
		if len(policy.RequireRoles) > 0 && !containsAll(roleSet, policy.RequireRoles) {
			return ErrRoleDenied
		}
		if len(policy.ExcludeRoles) > 0 && intersects(roleSet, policy.ExcludeRoles) {
			return ErrRoleDenied
		}
	}

	if len(policy.RequirePermissions) == 0 && len(policy.ExcludePermissions) == 0 {
		return nil
	}

	if perms, ok := e.source.PermissionsOf(ctx, userID); ok {
		permSet := toSet(perms)
		if len(policy.RequirePermissions) > 0 && !containsAll(permSet, policy.RequirePermissions) {
			return ErrPermissionDenied
		}
		if len(policy.ExcludePermissions) > 0 && intersects(permSet, policy.ExcludePermissions) {
			return ErrPermissionDenied
		}
		return nil
	}

	if !rolesFetched {
		roles, _ = e.source.RolesOf(ctx, userID)
	}

	union := make(map[string]struct{})
	for _, role := range roles {
		expansion, ok := e.source.PermissionsOfRole(ctx, role)
		if !ok {
			continue
		}
		for _, p := range expansion {
			union[p] = struct{}{}
		}
		if len(policy.ExcludePermissions) > 0 && intersects(toSet(expansion), policy.ExcludePermissions) {
			return ErrPermissionDenied
		}
	}
	if len(policy.RequirePermissions) > 0 && !containsAll(union, policy.RequirePermissions) {
		return ErrPermissionDenied
	}
	return nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func containsAll(have map[string]struct{}, want []string) bool {
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

func intersects(have map[string]struct{}, candidates []string) bool {
	for _, c := range candidates {
		if _, ok := have[c]; ok {
			return true
		}
	}
	return false
}
