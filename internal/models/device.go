package models

import "time"

// Device is one recognized (type, id) endpoint under a user. It holds the
// currently-valid token ids for that endpoint; assigning a new pair for the
// same key invalidates the previous ids immediately.
type Device struct {
	Type                  string    `json:"type"`
	ID                    string    `json:"id"`
	CurrentAccessTokenID  string    `json:"current_access_token_id"`
	CurrentRefreshTokenID string    `json:"current_refresh_token_id"`
	LastRequestTime       time.Time `json:"last_request_time"`
	LastIP                string    `json:"last_ip"`
}

// SessionStatus is the registry's verdict on an access token id.
// Credential expiry is signaled by the codec, not here.
type SessionStatus int

const (
	SessionValid SessionStatus = iota
	SessionRequireLogin
	SessionSuperseded
)

func (s SessionStatus) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionRequireLogin:
		return "require_login"
	case SessionSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}
