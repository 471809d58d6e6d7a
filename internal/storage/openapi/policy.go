// Package openapi builds endpoint policies from x-authz-* extensions in an
// OpenAPI document, so access declarations live next to the API contract
// instead of in code.
package openapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/TinkerUnicorn/authz/internal/models"
)

const (
	extRequireRoles       = "x-authz-require-roles"
	extExcludeRoles       = "x-authz-exclude-roles"
	extRequirePermissions = "x-authz-require-permissions"
	extExcludePermissions = "x-authz-exclude-permissions"
	extRateLimit          = "x-authz-rate-limit"
)

// PolicySource serves policies parsed once at load time. Operations without
// any x-authz-* extension stay unprotected.
type PolicySource struct {
	policies map[string]*models.EndpointPolicy
}

func NewPolicySource(specPath string) (*PolicySource, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load policy spec: %w", err)
	}
	return newFromDoc(doc)
}

// NewPolicySourceFromData builds the source from an in-memory document.
func NewPolicySourceFromData(data []byte) (*PolicySource, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("load policy spec: %w", err)
	}
	return newFromDoc(doc)
}

func newFromDoc(doc *openapi3.T) (*PolicySource, error) {
	policies := make(map[string]*models.EndpointPolicy)
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			policy, err := policyFromExtensions(op.Extensions)
			if err != nil {
				return nil, fmt.Errorf("policy for %s %s: %w", method, path, err)
			}
			if policy != nil {
				policies[policyKey(method, path)] = policy
			}
		}
	}
	return &PolicySource{policies: policies}, nil
}

func (s *PolicySource) EndpointPolicy(method, path string) (*models.EndpointPolicy, bool) {
	policy, ok := s.policies[policyKey(method, path)]
	return policy, ok
}

func (s *PolicySource) RateLimitPolicy(method, path string) (*models.RateLimitPolicy, bool) {
	policy, ok := s.policies[policyKey(method, path)]
	if !ok || policy.RateLimit == nil {
		return nil, false
	}
	return policy.RateLimit, true
}

func policyKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func policyFromExtensions(ext map[string]interface{}) (*models.EndpointPolicy, error) {
	if ext == nil {
		return nil, nil
	}

	found := false
	policy := &models.EndpointPolicy{}

	for _, e := range []struct {
		name   string
		target *[]string
	}{
		{extRequireRoles, &policy.RequireRoles},
		{extExcludeRoles, &policy.ExcludeRoles},
		{extRequirePermissions, &policy.RequirePermissions},
		{extExcludePermissions, &policy.ExcludePermissions},
	} {
		raw, ok := ext[e.name]
		if !ok {
			continue
		}
		values, err := stringSlice(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}
		*e.target = values
		found = true
	}

	if raw, ok := ext[extRateLimit]; ok {
		rl, err := rateLimitPolicy(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", extRateLimit, err)
		}
		policy.RateLimit = rl
		found = true
	}

	if !found {
		return nil, nil
	}
	return policy, nil
}

func stringSlice(raw interface{}) ([]string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array of strings, got %T", raw)
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element, got %T", item)
		}
		values = append(values, s)
	}
	return values, nil
}

func rateLimitPolicy(raw interface{}) (*models.RateLimitPolicy, error) {
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", raw)
	}

	// min_interval distinguishes omitted (inherit the limiter default) from
	// an explicit "0" (no spacing guard).
	policy := &models.RateLimitPolicy{CheckType: models.CheckByIP, MinInterval: -1}

	if v, ok := fields["check_type"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("check_type: expected string, got %T", v)
		}
		switch models.RateLimitCheckType(s) {
		case models.CheckByIP, models.CheckByUser:
			policy.CheckType = models.RateLimitCheckType(s)
		default:
			return nil, fmt.Errorf("check_type: unknown value %q", s)
		}
	}

	if v, ok := fields["max_requests"]; ok {
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("max_requests: expected number, got %T", v)
		}
		policy.MaxRequests = int(n)
	}

	for _, d := range []struct {
		name   string
		target *time.Duration
	}{
		{"window", &policy.Window},
		{"min_interval", &policy.MinInterval},
		{"ban_duration", &policy.BanDuration},
	} {
		v, ok := fields[d.name]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected duration string, got %T", d.name, v)
		}
		dur, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = dur
	}

	return policy, nil
}
