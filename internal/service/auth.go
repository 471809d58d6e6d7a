package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/models"
)

const publishTimeout = 5 * time.Second

// AuthService owns the verification pipeline and the token lifecycle entry
// points (grant, refresh, logout). The pipeline runs a fixed stage order:
// policy lookup, credential decode, session check, rate limit, authorize.
// Each stage may short-circuit with a terminal reason code.
type AuthService struct {
	tokens    *TokenService
	registry  *DeviceRegistry
	limiter   *RateLimiter
	evaluator *PermissionEvaluator
	policies  PolicySource
	telemetry TelemetrySink
	log       *zap.SugaredLogger
}

func NewAuthService(
	tokens *TokenService,
	registry *DeviceRegistry,
	limiter *RateLimiter,
	evaluator *PermissionEvaluator,
	policies PolicySource,
	telemetry TelemetrySink,
	log *zap.SugaredLogger,
) *AuthService {
	return &AuthService{
		tokens:    tokens,
		registry:  registry,
		limiter:   limiter,
		evaluator: evaluator,
		policies:  policies,
		telemetry: telemetry,
		log:       log,
	}
}

// Verify runs one request through the pipeline and returns the allow/deny
// decision. It is deny-by-default only on explicit failure conditions; a
// denial here is routine control flow, not an error.
func (s *AuthService) Verify(ctx context.Context, req models.Request) models.Decision {
	policy, ok := s.policies.EndpointPolicy(req.Method, req.Path)
	if !ok || policy == nil {
		// Unprotected endpoint: nothing else runs, credential or not.
		return s.conclude(req, "unprotected", models.Decision{Allow: true, Reason: models.ReasonAllow})
	}

	if req.Token == "" {
		return s.conclude(req, "credential", models.Decision{Reason: models.ReasonRequireLogin})
	}

	claim, err := s.tokens.Decode(req.Token, req.Now)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			if claim != nil {
				s.evictAsync(claim.UserID, claim.TokenID)
				return s.conclude(req, "credential", models.Decision{
					Reason:     models.ReasonAccessOverdue,
					UserID:     claim.UserID,
					DeviceType: claim.DeviceType,
					DeviceID:   claim.DeviceID,
				})
			}
			return s.conclude(req, "credential", models.Decision{Reason: models.ReasonAccessOverdue})
		}
		// Malformed and bad-signature credentials share one outward reason.
		return s.conclude(req, "credential", models.Decision{Reason: models.ReasonTokenMalformed})
	}

	deviceCtx := models.Decision{
		UserID:     claim.UserID,
		DeviceType: claim.DeviceType,
		DeviceID:   claim.DeviceID,
	}

	switch s.registry.SessionStatus(claim.UserID, claim.DeviceType, claim.DeviceID, claim.TokenID) {
	case models.SessionRequireLogin:
		deviceCtx.Reason = models.ReasonRequireLogin
		return s.conclude(req, "session", deviceCtx)
	case models.SessionSuperseded:
		deviceCtx.Reason = models.ReasonLoginElsewhere
		return s.conclude(req, "session", deviceCtx)
	}

	if rl, ok := s.policies.RateLimitPolicy(req.Method, req.Path); ok {
		if !s.limiter.Allow(rl, req.Method, req.Path, claim.UserID, req.IP, req.Now) {
			deviceCtx.Reason = models.ReasonRequestRepeat
			return s.conclude(req, "ratelimit", deviceCtx)
		}
	}

	if err := s.evaluator.Authorize(ctx, claim.UserID, policy); err != nil {
		deviceCtx.Reason = models.ReasonPermException
		return s.conclude(req, "authorize", deviceCtx)
	}

	go s.registry.Touch(claim.UserID, claim.DeviceType, claim.DeviceID, req.IP, req.Now)

	deviceCtx.Allow = true
	deviceCtx.Reason = models.ReasonAllow
	return s.conclude(req, "authorize", deviceCtx)
}

// Grant logs a user in on one device: mints a fresh token pair and registers
// the device, superseding any previous session on the same (type, id).
func (s *AuthService) Grant(ctx context.Context, userID, deviceType, deviceID, ip string, now time.Time) (*models.TokenPair, error) {
	pair, err := s.tokens.EncodePair(userID, deviceType, deviceID, now)
	if err != nil {
		return nil, fmt.Errorf("encode token pair: %w", err)
	}

	s.registry.AddDevice(userID, pair, ip, now)
	s.log.Infow("session granted",
		"userId", userID, "deviceType", deviceType, "deviceId", deviceID, "ip", ip)
	return &pair, nil
}

// Refresh exchanges a valid refresh token for a pair with a rotated access
// token. A stale or replayed refresh token is reported, never retried, and
// leaves the registry untouched. An expired refresh token evicts its device.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string, now time.Time) (*models.TokenPair, error) {
	claim, err := s.tokens.Decode(refreshToken, now)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) && claim != nil {
			s.registry.EvictByUserAndTokenID(claim.UserID, claim.TokenID)
		}
		return nil, err
	}
	if claim.Kind != models.TokenKindRefresh {
		return nil, ErrWrongTokenKind
	}

	pair, err := s.tokens.EncodeRefreshed(*claim, now)
	if err != nil {
		return nil, fmt.Errorf("encode refreshed pair: %w", err)
	}
	if err := s.registry.Refresh(pair); err != nil {
		s.log.Warnw("refresh rejected",
			"userId", claim.UserID, "deviceType", claim.DeviceType, "deviceId", claim.DeviceID, "error", err)
		return nil, err
	}

	s.log.Infow("session refreshed",
		"userId", claim.UserID, "deviceType", claim.DeviceType, "deviceId", claim.DeviceID)
	return &pair, nil
}

// Logout drops one device session.
func (s *AuthService) Logout(ctx context.Context, userID, deviceType, deviceID string) {
	s.registry.RemoveDevice(userID, deviceType, deviceID)
	s.log.Infow("logout", "userId", userID, "deviceType", deviceType, "deviceId", deviceID)
}

// LogoutAll drops every device session of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) {
	s.registry.RemoveUser(userID)
	s.log.Infow("logout all devices", "userId", userID)
}

// conclude emits the structured record for the terminal stage and publishes
// telemetry off the request path.
func (s *AuthService) conclude(req models.Request, stage string, decision models.Decision) models.Decision {
	fields := []interface{}{
		"stage", stage,
		"outcome", decision.Reason,
		"method", req.Method,
		"path", req.Path,
		"ip", req.IP,
	}
	if decision.UserID != "" {
		fields = append(fields,
			"userId", decision.UserID,
			"deviceType", decision.DeviceType,
			"deviceId", decision.DeviceID,
		)
	}
	if decision.Allow {
		s.log.Infow("request allowed", fields...)
	} else {
		s.log.Warnw("request denied", fields...)
	}

	s.publishAsync(models.RequestRecord{
		Outcome:    decision.Reason,
		Method:     req.Method,
		Path:       req.Path,
		IP:         req.IP,
		UserID:     decision.UserID,
		DeviceType: decision.DeviceType,
		DeviceID:   decision.DeviceID,
		At:         req.Now,
	})
	return decision
}

// publishAsync sends the record to the sink in a goroutine with its own
// timeout so request cancellation cannot abort an in-flight publish. Failures
// are logged and swallowed; telemetry must never cost the caller latency or
// surface as a request error.
func (s *AuthService) publishAsync(record models.RequestRecord) {
	if s.telemetry == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.telemetry.Publish(ctx, record); err != nil {
			s.log.Errorw("telemetry publish failed", "error", err)
		}
	}()
}

// evictAsync is the best-effort cleanup for an expired credential. It must
// not block or fail the response path.
func (s *AuthService) evictAsync(userID, tokenID string) {
	go s.registry.EvictByUserAndTokenID(userID, tokenID)
}
