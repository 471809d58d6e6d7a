package memory

import (
	"strings"
	"sync"

	"github.com/TinkerUnicorn/authz/internal/models"
)

// PolicyStore is an in-memory policy source. Policies are registered at
// startup (or swapped out of band); request-time lookups are read-only.
type PolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*models.EndpointPolicy
}

func NewPolicyStore() *PolicyStore {
	return &PolicyStore{policies: make(map[string]*models.EndpointPolicy)}
}

func (s *PolicyStore) Register(method, path string, policy *models.EndpointPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policyKey(method, path)] = policy
}

func (s *PolicyStore) EndpointPolicy(method, path string) (*models.EndpointPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[policyKey(method, path)]
	return policy, ok
}

func (s *PolicyStore) RateLimitPolicy(method, path string) (*models.RateLimitPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[policyKey(method, path)]
	if !ok || policy.RateLimit == nil {
		return nil, false
	}
	return policy.RateLimit, true
}

func policyKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}
