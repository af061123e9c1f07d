package service

import "errors"

var (
	// ErrUserNotFound is returned when the user directory has no record for
	// the supplied email or id. Note: on login requests this distinguishes
	// unknown emails from inactive accounts, which discloses account
	// existence; carried over from the original behavior.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnauthorized covers every authentication failure: invalid, expired
	// or consumed magic links, inactive users, invalid or revoked sessions,
	// signature failures and fingerprint mismatches.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTooManyRequests is returned when login-request throttling trips.
	ErrTooManyRequests = errors.New("too many login attempts")
)
