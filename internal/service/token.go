package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/TinkerUnicorn/authz/internal/models"
	"github.com/TinkerUnicorn/authz/internal/util"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrBadSignature   = errors.New("token signature invalid")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrWrongTokenKind = errors.New("wrong token kind")
)

// TokenService is the credential codec: it mints and decodes the signed
// token pairs consumed by the verification pipeline. It keeps no state
// beyond the signing key.
type TokenService struct {
	jwtSecretKey []byte
	clientID     string
	accessTTL    time.Duration
	refreshTTL   time.Duration
}

func NewTokenService(cfg *util.TokenConfig) *TokenService {
	return &TokenService{
		jwtSecretKey: cfg.JwtSecretKey,
		clientID:     cfg.ClientID,
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
	}
}

type jwtClaims struct {
	UserID     string `json:"uid"`
	DeviceType string `json:"dty,omitempty"`
	DeviceID   string `json:"did,omitempty"`
	ClientID   string `json:"cid,omitempty"`
	Kind       string `json:"knd"`
	jwt.RegisteredClaims
}

// EncodePair mints an access/refresh pair for one (user, deviceType, deviceId).
// Each credential carries its own freshly generated token id.
func (ts *TokenService) EncodePair(userID, deviceType, deviceID string, now time.Time) (models.TokenPair, error) {
	access := models.Claim{
		UserID:     userID,
		DeviceType: deviceType,
		DeviceID:   deviceID,
		TokenID:    uuid.NewString(),
		ClientID:   ts.clientID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ts.accessTTL),
		Kind:       models.TokenKindAccess,
	}
	refresh := models.Claim{
		UserID:     userID,
		DeviceType: deviceType,
		DeviceID:   deviceID,
		TokenID:    uuid.NewString(),
		ClientID:   ts.clientID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ts.refreshTTL),
		Kind:       models.TokenKindRefresh,
	}

	return ts.signPair(access, refresh)
}

// EncodeRefreshed mints a new access token for a just-validated refresh claim.
// The refresh credential is re-issued unchanged: same token id, same expiry,
// so the registry can match it against the device's current refresh id.
func (ts *TokenService) EncodeRefreshed(refreshClaim models.Claim, now time.Time) (models.TokenPair, error) {
	access := models.Claim{
		UserID:     refreshClaim.UserID,
		DeviceType: refreshClaim.DeviceType,
		DeviceID:   refreshClaim.DeviceID,
		TokenID:    uuid.NewString(),
		ClientID:   ts.clientID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ts.accessTTL),
		Kind:       models.TokenKindAccess,
	}

	return ts.signPair(access, refreshClaim)
}

// Decode parses and verifies a token string against now. On expiry the
// decoded claim is still returned alongside ErrTokenExpired so the caller
// can evict the stale device entry.
func (ts *TokenService) Decode(tokenString string, now time.Time) (*models.Claim, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(util.JWTLeeWay),
		jwt.WithExpirationRequired(),
	}

	parsedToken, err := jwt.ParseWithClaims(
		tokenString,
		&jwtClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return ts.jwtSecretKey, nil
		},
		opts...,
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			if parsedToken != nil {
				if claims, ok := parsedToken.Claims.(*jwtClaims); ok {
					claim := claimFromJWT(claims)
					return &claim, ErrTokenExpired
				}
			}
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrBadSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
	}

	claims, ok := parsedToken.Claims.(*jwtClaims)
	if !ok || claims.UserID == "" || claims.ID == "" {
		return nil, ErrTokenInvalid
	}

	claim := claimFromJWT(claims)
	return &claim, nil
}

func (ts *TokenService) signPair(access, refresh models.Claim) (models.TokenPair, error) {
	accessToken, err := ts.sign(access)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := ts.sign(refresh)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessClaim:  access,
		RefreshClaim: refresh,
	}, nil
}

func (ts *TokenService) sign(claim models.Claim) (string, error) {
	claims := &jwtClaims{
		UserID:     claim.UserID,
		DeviceType: claim.DeviceType,
		DeviceID:   claim.DeviceID,
		ClientID:   claim.ClientID,
		Kind:       string(claim.Kind),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claim.TokenID,
			Subject:   claim.UserID,
			IssuedAt:  jwt.NewNumericDate(claim.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claim.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signedToken, err := token.SignedString(ts.jwtSecretKey)
	if err != nil {
		return "", fmt.Errorf("signed string: %w", err)
	}
	return signedToken, nil
}

func claimFromJWT(claims *jwtClaims) models.Claim {
	claim := models.Claim{
		UserID:     claims.UserID,
		DeviceType: claims.DeviceType,
		DeviceID:   claims.DeviceID,
		TokenID:    claims.ID,
		ClientID:   claims.ClientID,
		Kind:       models.TokenKind(claims.Kind),
	}
	if claims.IssuedAt != nil {
		claim.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		claim.ExpiresAt = claims.ExpiresAt.Time
	}
	return claim
}
