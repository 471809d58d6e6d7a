package models

import "time"

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claim is the decoded content of a signed credential. Immutable after decode.
type Claim struct {
	UserID     string    `json:"user_id"`
	DeviceType string    `json:"device_type"`
	DeviceID   string    `json:"device_id"`
	TokenID    string    `json:"token_id"`
	ClientID   string    `json:"client_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Kind       TokenKind `json:"kind"`
}

// TokenPair is an access/refresh credential pair minted together.
// The refresh claim keeps its token id across access-token rotations;
// the registry matches refresh requests against that id.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	AccessClaim  Claim `json:"-"`
	RefreshClaim Claim `json:"-"`
}
