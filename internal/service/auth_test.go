package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/models"
	"github.com/TinkerUnicorn/authz/internal/service"
	"github.com/TinkerUnicorn/authz/internal/storage/memory"
	"github.com/TinkerUnicorn/authz/internal/util"
)

type recordingSink struct {
	mu      sync.Mutex
	records []models.RequestRecord
}

func (s *recordingSink) Publish(ctx context.Context, record models.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type pipelineFixture struct {
	auth     *service.AuthService
	registry *service.DeviceRegistry
	policies *memory.PolicyStore
	perms    *memory.PermissionStore
	sink     *recordingSink
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log := zap.NewNop().Sugar()

	tokens := newTestTokenService("pipeline-secret")
	registry := service.NewDeviceRegistry(&util.RegistryConfig{Shards: 8}, log)
	limiter := service.NewRateLimiter(&util.RateLimiterConfig{
		MaxRequests: 100,
		Window:      time.Minute,
		BanDuration: 5 * time.Minute,
	}, log)
	perms := memory.NewPermissionStore(false)
	policies := memory.NewPolicyStore()
	sink := &recordingSink{}

	auth := service.NewAuthService(
		tokens,
		registry,
		limiter,
		service.NewPermissionEvaluator(perms, log),
		policies,
		sink,
		log,
	)
	return &pipelineFixture{auth: auth, registry: registry, policies: policies, perms: perms, sink: sink}
}

func (f *pipelineFixture) request(token string) models.Request {
	return models.Request{
		Method: "GET",
		Path:   "/api/items",
		IP:     "10.0.0.1",
		Token:  token,
		Now:    time.Now(),
	}
}

func TestVerifyUnprotectedEndpointAlwaysAllows(t *testing.T) {
	f := newPipelineFixture(t)

	decision := f.auth.Verify(context.Background(), f.request(""))
	require.True(t, decision.Allow)
	require.Equal(t, models.ReasonAllow, decision.Reason)

	decision = f.auth.Verify(context.Background(), f.request("garbage-token"))
	require.True(t, decision.Allow)
}

func TestVerifyMissingCredential(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})

	decision := f.auth.Verify(context.Background(), f.request(""))
	require.False(t, decision.Allow)
	require.Equal(t, models.ReasonRequireLogin, decision.Reason)
}

func TestVerifyMalformedCredential(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})

	decision := f.auth.Verify(context.Background(), f.request("garbage-token"))
	require.False(t, decision.Allow)
	require.Equal(t, models.ReasonTokenMalformed, decision.Reason)
}

func TestVerifyGrantedSessionAllows(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})

	pair, err := f.auth.Grant(context.Background(), "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)

	decision := f.auth.Verify(context.Background(), f.request(pair.AccessToken))
	require.True(t, decision.Allow)
	require.Equal(t, "u1", decision.UserID)
	require.Equal(t, "ios", decision.DeviceType)
	require.Equal(t, "d1", decision.DeviceID)
}

func TestVerifyExpiredCredentialEvictsDevice(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})

	issued := time.Now().Add(-time.Hour)
	pair, err := f.auth.Grant(context.Background(), "u1", "ios", "d1", "10.0.0.1", issued)
	require.NoError(t, err)

	req := f.request(pair.AccessToken)
	decision := f.auth.Verify(context.Background(), req)
	require.False(t, decision.Allow)
	require.Equal(t, models.ReasonAccessOverdue, decision.Reason)
	require.Equal(t, "u1", decision.UserID)

	// Eviction is fire-and-forget; the device disappears shortly after.
	require.Eventually(t, func() bool {
		return f.registry.SessionStatus("u1", "ios", "d1", pair.AccessClaim.TokenID) == models.SessionRequireLogin
	}, time.Second, 10*time.Millisecond)
}

func TestVerifySupersededSession(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})

	first, err := f.auth.Grant(context.Background(), "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)
	_, err = f.auth.Grant(context.Background(), "u1", "ios", "d1", "10.0.0.2", time.Now())
	require.NoError(t, err)

	decision := f.auth.Verify(context.Background(), f.request(first.AccessToken))
	require.False(t, decision.Allow)
	require.Equal(t, models.ReasonLoginElsewhere, decision.Reason)
}

func TestVerifyLoggedOutSession(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})

	pair, err := f.auth.Grant(context.Background(), "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)
	f.auth.Logout(context.Background(), "u1", "ios", "d1")

	decision := f.auth.Verify(context.Background(), f.request(pair.AccessToken))
	require.False(t, decision.Allow)
	require.Equal(t, models.ReasonRequireLogin, decision.Reason)
}

func TestVerifyRateLimited(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{
		RateLimit: &models.RateLimitPolicy{
			CheckType:   models.CheckByUser,
			MaxRequests: 1,
			Window:      time.Minute,
			BanDuration: time.Minute,
		},
	})

	pair, err := f.auth.Grant(context.Background(), "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)

	require.True(t, f.auth.Verify(context.Background(), f.request(pair.AccessToken)).Allow)
	decision := f.auth.Verify(context.Background(), f.request(pair.AccessToken))
	require.False(t, decision.Allow)
	require.Equal(t, models.ReasonRequestRepeat, decision.Reason)
}

// splitPolicySource answers the two lookups independently, the way a source
// backed by separate stores would.
type splitPolicySource struct {
	policy *models.EndpointPolicy
	limit  *models.RateLimitPolicy
}

func (s *splitPolicySource) EndpointPolicy(method, path string) (*models.EndpointPolicy, bool) {
	return s.policy, s.policy != nil
}

func (s *splitPolicySource) RateLimitPolicy(method, path string) (*models.RateLimitPolicy, bool) {
	return s.limit, s.limit != nil
}

func TestVerifyConsultsRateLimitLookup(t *testing.T) {
	log := zap.NewNop().Sugar()
	// The endpoint policy carries no inline limit; it is reachable only
	// through the dedicated lookup.
	source := &splitPolicySource{
		policy: &models.EndpointPolicy{},
		limit: &models.RateLimitPolicy{
			CheckType:   models.CheckByUser,
			MaxRequests: 1,
			Window:      time.Minute,
			BanDuration: time.Minute,
		},
	}
	auth := service.NewAuthService(
		newTestTokenService("pipeline-secret"),
		service.NewDeviceRegistry(&util.RegistryConfig{Shards: 4}, log),
		service.NewRateLimiter(&util.RateLimiterConfig{
			MaxRequests: 100,
			Window:      time.Minute,
			BanDuration: time.Minute,
		}, log),
		service.NewPermissionEvaluator(memory.NewPermissionStore(false), log),
		source,
		nil,
		log,
	)
	ctx := context.Background()

	pair, err := auth.Grant(ctx, "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)

	req := models.Request{Method: "GET", Path: "/api/items", IP: "10.0.0.1", Token: pair.AccessToken, Now: time.Now()}
	require.True(t, auth.Verify(ctx, req).Allow)

	decision := auth.Verify(ctx, req)
	require.False(t, decision.Allow)
	require.Equal(t, models.ReasonRequestRepeat, decision.Reason)
}

func TestVerifyPermissionDenied(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{
		RequireRoles: []string{"admin"},
	})
	f.perms.GrantRoles("u1", "user")

	pair, err := f.auth.Grant(context.Background(), "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)

	decision := f.auth.Verify(context.Background(), f.request(pair.AccessToken))
	require.False(t, decision.Allow)
	require.Equal(t, models.ReasonPermException, decision.Reason)
}

func TestVerifyAllowTouchesDevice(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})

	granted := time.Now().Add(-time.Minute)
	pair, err := f.auth.Grant(context.Background(), "u1", "ios", "d1", "10.0.0.1", granted)
	require.NoError(t, err)

	req := f.request(pair.AccessToken)
	req.IP = "10.0.0.99"
	require.True(t, f.auth.Verify(context.Background(), req).Allow)

	require.Eventually(t, func() bool {
		devices := f.registry.Devices("u1")
		return len(devices) == 1 && devices[0].LastIP == "10.0.0.99"
	}, time.Second, 10*time.Millisecond)
}

func TestVerifyPublishesTelemetry(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})

	f.auth.Verify(context.Background(), f.request(""))

	require.Eventually(t, func() bool { return f.sink.count() == 1 }, time.Second, 10*time.Millisecond)
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Equal(t, models.ReasonRequireLogin, f.sink.records[0].Outcome)
	require.Equal(t, "/api/items", f.sink.records[0].Path)
}

func TestRefreshFlow(t *testing.T) {
	f := newPipelineFixture(t)
	f.policies.Register("GET", "/api/items", &models.EndpointPolicy{})
	ctx := context.Background()

	pair, err := f.auth.Grant(ctx, "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)

	refreshed, err := f.auth.Refresh(ctx, pair.RefreshToken, "10.0.0.1", time.Now())
	require.NoError(t, err)
	require.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	// The old access token is superseded, the rotated one is live.
	require.False(t, f.auth.Verify(ctx, f.request(pair.AccessToken)).Allow)
	require.True(t, f.auth.Verify(ctx, f.request(refreshed.AccessToken)).Allow)
}

func TestRefreshWithAccessTokenRejected(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	pair, err := f.auth.Grant(ctx, "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, pair.AccessToken, "10.0.0.1", time.Now())
	require.ErrorIs(t, err, service.ErrWrongTokenKind)
}

func TestRefreshAfterLogoutRejected(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	pair, err := f.auth.Grant(ctx, "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)
	f.auth.LogoutAll(ctx, "u1")

	_, err = f.auth.Refresh(ctx, pair.RefreshToken, "10.0.0.1", time.Now())
	require.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestRefreshSupersededSessionRejected(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first, err := f.auth.Grant(ctx, "u1", "ios", "d1", "10.0.0.1", time.Now())
	require.NoError(t, err)
	_, err = f.auth.Grant(ctx, "u1", "ios", "d1", "10.0.0.2", time.Now())
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, first.RefreshToken, "10.0.0.1", time.Now())
	require.ErrorIs(t, err, service.ErrRefreshMismatch)
}
