package model

import "time"

// Security event types emitted by the auth core.
const (
	EventLoginRequested      = "login_requested"
	EventLoginVerified       = "login_verified"
	EventLogout              = "logout"
	EventSessionsRevoked     = "sessions_revoked"
	EventFingerprintMismatch = "fingerprint_mismatch"
)

// SecurityEvent is the audit record published to the security-event sinks
// (Kafka topic, ClickHouse audit table, Elasticsearch session index).
type SecurityEvent struct {
	EventBucket int       `json:"event_bucket" db:"event_bucket"`
	EventType   string    `json:"event_type" db:"event_type"`
	EventTime   time.Time `json:"event_time" db:"event_time"`
	UserID      string    `json:"user_id" db:"user_id"`
	SessionID   string    `json:"session_id,omitempty" db:"session_id"`
	DeviceID    string    `json:"device_id,omitempty" db:"device_id"`
	IPAddress   string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   string    `json:"user_agent,omitempty" db:"user_agent"`
	Details     string    `json:"details,omitempty" db:"details"`
}
