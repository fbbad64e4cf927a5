package session

import "errors"

var (
	// ErrNotFound is returned when no session matches.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when a session exists but is past expires_at.
	ErrExpired = errors.New("session expired")

	// ErrCredentialMismatch is returned by Extend when the stored refresh
	// hash does not match the expected one.
	ErrCredentialMismatch = errors.New("session credential mismatch")

	// ErrConfig is returned for invalid configuration or arguments.
	ErrConfig = errors.New("invalid session config")
)
