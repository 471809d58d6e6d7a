package service

import (
	"context"

	"github.com/TinkerUnicorn/authz/internal/models"
)

// PolicySource resolves the declared access policy for an endpoint.
// It is read-mostly and refreshed out of band; the core never mutates it.
type PolicySource interface {
	EndpointPolicy(method, path string) (*models.EndpointPolicy, bool)
	RateLimitPolicy(method, path string) (*models.RateLimitPolicy, bool)
}

// PermissionSource exposes a caller's roles and permissions. Any method may
// be unimplemented by a deployment; absence is reported through the second
// return value, and the evaluator degrades to role-derived permissions when
// the direct lookup is absent.
type PermissionSource interface {
	RolesOf(ctx context.Context, userID string) ([]string, bool)
	PermissionsOf(ctx context.Context, userID string) ([]string, bool)
	PermissionsOfRole(ctx context.Context, role string) ([]string, bool)
}

// TelemetrySink receives one record per verified request, fire-and-forget.
type TelemetrySink interface {
	Publish(ctx context.Context, record models.RequestRecord) error
}
