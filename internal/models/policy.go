package models

import "time"

type RateLimitCheckType string

const (
	CheckByIP   RateLimitCheckType = "ip"
	CheckByUser RateLimitCheckType = "user"
)

// RateLimitPolicy configures the limiter for one endpoint.
//
// MinInterval zero disables the spacing guard; a negative value means unset
// and inherits the limiter's configured default. The other fields treat zero
// as unset.
type RateLimitPolicy struct {
	CheckType   RateLimitCheckType `json:"check_type"`
	MaxRequests int                `json:"max_requests"`
	Window      time.Duration      `json:"window"`
	MinInterval time.Duration      `json:"min_interval"`
	BanDuration time.Duration      `json:"ban_duration"`
}

// EndpointPolicy is the declared access policy for one (method, path).
// Every set is independently optional; an empty set skips its check.
type EndpointPolicy struct {
	RequireRoles       []string         `json:"require_roles"`
	ExcludeRoles       []string         `json:"exclude_roles"`
	RequirePermissions []string         `json:"require_permissions"`
	ExcludePermissions []string         `json:"exclude_permissions"`
	RateLimit          *RateLimitPolicy `json:"rate_limit,omitempty"`
}
