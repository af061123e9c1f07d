package model

import "time"

// MagicLink is a one-time login grant. State transitions build a new value
// instead of mutating in place; the stores persist whatever value they are
// handed.
type MagicLink struct {
	LinkID           string    `json:"link_id" db:"link_id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Token            string    `json:"-" db:"token"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	ExpiresAt        time.Time `json:"expires_at" db:"expires_at"`
	UsedAt           *time.Time `json:"used_at,omitempty" db:"used_at"`
	UsedIP           string    `json:"used_ip,omitempty" db:"used_ip"`
	UsedUserAgent    string    `json:"used_user_agent,omitempty" db:"used_user_agent"`
	RequestIP        string    `json:"request_ip" db:"request_ip"`
	RequestUserAgent string    `json:"request_user_agent" db:"request_user_agent"`
	IsActive         bool      `json:"is_active" db:"is_active"`
}

// IsValid reports whether the link can still be redeemed at the given instant.
func (l MagicLink) IsValid(now time.Time) bool {
	return l.IsActive && l.UsedAt == nil && now.Before(l.ExpiresAt)
}

// IsExpired is derived from ExpiresAt; expiry is never a stored flag.
func (l MagicLink) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Invalidated returns a copy superseded by a newer link. Distinct from Used:
// an invalidated link was never redeemed.
func (l MagicLink) Invalidated() MagicLink {
	l.IsActive = false
	return l
}

// Used returns a copy marked as redeemed from the given client. Terminal.
func (l MagicLink) Used(now time.Time, usedIP, usedUserAgent string) MagicLink {
	usedAt := now.UTC()
	l.UsedAt = &usedAt
	l.UsedIP = usedIP
	l.UsedUserAgent = usedUserAgent
	l.IsActive = false
	return l
}
