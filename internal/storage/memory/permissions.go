package memory

import (
	"context"
	"sync"
)

// PermissionStore is an in-memory permission source. It always exposes role
// lookups and role expansion; direct per-user permission lookup is optional,
// mirroring deployments whose permission back end only materializes
// role-to-permission mappings.
type PermissionStore struct {
	mu           sync.RWMutex
	roles        map[string][]string
	perms        map[string][]string
	rolePerms    map[string][]string
	exposeDirect bool
}

func NewPermissionStore(exposeDirect bool) *PermissionStore {
	return &PermissionStore{
		roles:        make(map[string][]string),
		perms:        make(map[string][]string),
		rolePerms:    make(map[string][]string),
		exposeDirect: exposeDirect,
	}
}

func (s *PermissionStore) GrantRoles(userID string, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = append(s.roles[userID], roles...)
}

func (s *PermissionStore) GrantPermissions(userID string, permissions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[userID] = append(s.perms[userID], permissions...)
}

func (s *PermissionStore) SetRolePermissions(role string, permissions ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolePerms[role] = permissions
}

func (s *PermissionStore) RolesOf(ctx context.Context, userID string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.roles[userID]...), true
}

func (s *PermissionStore) PermissionsOf(ctx context.Context, userID string) ([]string, bool) {
	if !s.exposeDirect {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.perms[userID]...), true
}

func (s *PermissionStore) PermissionsOfRole(ctx context.Context, role string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms, ok := s.rolePerms[role]
	if !ok {
		return nil, false
	}
	return append([]string(nil), perms...), true
}
