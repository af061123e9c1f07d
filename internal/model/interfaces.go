package model

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is the sentinel every store implementation returns when a
// record is absent. The service layer maps it onto its own typed errors.
var ErrNotFound = errors.New("record not found")

// MagicLinkStore is the persistence boundary for one-time login grants.
type MagicLinkStore interface {
	// Create mints a link with a fresh high-entropy token, active for the
	// given validity window from now.
	Create(ctx context.Context, userID, requestIP, requestUserAgent string, validity time.Duration) (MagicLink, error)
	FindByToken(ctx context.Context, token string) (MagicLink, error)
	FindActiveByUser(ctx context.Context, userID string) ([]MagicLink, error)
	// Invalidate supersedes a link without marking it used.
	Invalidate(ctx context.Context, link MagicLink) (MagicLink, error)
	// MarkUsed consumes a link, recording the redeeming client. Terminal.
	MarkUsed(ctx context.Context, link MagicLink, usedIP, usedUserAgent string) (MagicLink, error)
}

// SessionStore is the persistence boundary for authenticated sessions.
type SessionStore interface {
	// Create persists the session, assigning SessionID/CreatedAt/LastActivity
	// when unset.
	Create(ctx context.Context, session UserSession) (UserSession, error)
	GetSessionByID(ctx context.Context, sessionID string) (UserSession, error)
	// ListActiveByUser returns sessions that are active and not logged out.
	ListActiveByUser(ctx context.Context, userID string) ([]UserSession, error)
	// RevokeActiveForDevice logs out every active session bound to the device
	// identifier except excludeSessionID (empty string excludes nothing).
	RevokeActiveForDevice(ctx context.Context, deviceID, excludeSessionID string) (int, error)
	RevokeActiveForUser(ctx context.Context, userID, excludeSessionID string) (int, error)
	UpdateActivity(ctx context.Context, sessionID string, at time.Time) error
	MarkLoggedOut(ctx context.Context, session UserSession) (UserSession, error)
	// MarkInactive revokes without setting LogoutAt (security invalidation).
	MarkInactive(ctx context.Context, session UserSession) (UserSession, error)
	// SweepExpired flips active-but-expired rows to inactive. Rows are kept.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	// PurgeOlderThan hard-deletes rows created before the cutoff, regardless
	// of their state.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// UserDirectory is the external user-catalog collaborator.
type UserDirectory interface {
	FindByID(ctx context.Context, userID string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	GetUserRole(ctx context.Context, userID string) (Role, error)
	GetUserPermissions(ctx context.Context, userID string) ([]string, error)
}
