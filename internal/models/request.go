package models

import "time"

// Request is the transport-independent descriptor handed to the pipeline.
// Token is empty when the caller presented no credential.
type Request struct {
	Method string
	Path   string
	IP     string
	Token  string
	Now    time.Time
}

// ReasonCode is the stable, user-visible outcome label of a verification.
type ReasonCode string

const (
	ReasonAllow          ReasonCode = "ALLOW"
	ReasonRequireLogin   ReasonCode = "REQUIRE_LOGIN"
	ReasonAccessOverdue  ReasonCode = "ACCESS_TOKEN_OVERDUE"
	ReasonTokenMalformed ReasonCode = "TOKEN_MALFORMED"
	ReasonLoginElsewhere ReasonCode = "LOGIN_ELSEWHERE"
	ReasonRequestRepeat  ReasonCode = "REQUEST_REPEAT"
	ReasonPermException  ReasonCode = "PERM_EXCEPTION"
)

// Decision is the pipeline's verdict plus caller context for downstream handlers.
type Decision struct {
	Allow      bool       `json:"allow"`
	Reason     ReasonCode `json:"reason"`
	UserID     string     `json:"user_id,omitempty"`
	DeviceType string     `json:"device_type,omitempty"`
	DeviceID   string     `json:"device_id,omitempty"`
}

// RequestRecord is the per-request telemetry payload published to the sink.
type RequestRecord struct {
	Outcome    ReasonCode `json:"outcome"`
	Method     string     `json:"method"`
	Path       string     `json:"path"`
	IP         string     `json:"ip"`
	UserID     string     `json:"user_id,omitempty"`
	DeviceType string     `json:"device_type,omitempty"`
	DeviceID   string     `json:"device_id,omitempty"`
	At         time.Time  `json:"at"`
}
