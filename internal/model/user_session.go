package model

import "time"

// ClientInfo carries browser/OS/device/locale hints parsed from request
// headers. Purely descriptive; it feeds the fingerprint and has no lifecycle
// of its own.
type ClientInfo struct {
	Browser          string `json:"browser,omitempty"`
	OS               string `json:"os,omitempty"`
	Device           string `json:"device,omitempty"`
	Language         string `json:"language,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
}

// UserSession is the server-side record of one authenticated device/browser
// session, independent of the bearer token handed to the client.
type UserSession struct {
	SessionID    string     `json:"session_id" db:"session_id"`
	UserID       string     `json:"user_id" db:"user_id"`
	DeviceID     string     `json:"device_id" db:"device_id"`
	IPAddress    string     `json:"ip_address" db:"ip_address"`
	UserAgent    string     `json:"user_agent" db:"user_agent"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LogoutAt     *time.Time `json:"logout_at,omitempty" db:"logout_at"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	ExpiresAt    time.Time  `json:"expires_at" db:"expires_at"`
	LastActivity time.Time  `json:"last_activity" db:"last_activity"`
	Fingerprint  string     `json:"fingerprint,omitempty" db:"fingerprint"`
	Client       ClientInfo `json:"client" db:"client_info"`
}

// IsValid re-evaluates expiry live: a row may still carry is_active=true past
// its expiry until the next sweep, so the stored flag is never trusted alone.
func (s UserSession) IsValid(now time.Time) bool {
	return s.IsActive && !now.After(s.ExpiresAt) && s.LogoutAt == nil
}

// LoggedOut returns a copy terminated by the user. Terminal.
func (s UserSession) LoggedOut(now time.Time) UserSession {
	logoutAt := now.UTC()
	s.LogoutAt = &logoutAt
	s.IsActive = false
	return s
}

// Inactivated returns a copy revoked for cause (fingerprint mismatch, expiry
// sweep). LogoutAt stays unset so "logged out by user" and "revoked" remain
// distinguishable. Terminal.
func (s UserSession) Inactivated() UserSession {
	s.IsActive = false
	return s
}

// Touched returns a copy with the activity timestamp advanced.
func (s UserSession) Touched(now time.Time) UserSession {
	s.LastActivity = now.UTC()
	return s
}
