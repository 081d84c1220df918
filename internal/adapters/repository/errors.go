package repository

import "errors"

// Sentinel kinds for stats store errors.
var (
	// ErrQuery wraps any failure reading materialized stats.
	ErrQuery = errors.New("stats query failed")
	// ErrInvalidSnapshot rejects a period replacement that would break row invariants.
	ErrInvalidSnapshot = errors.New("invalid stats snapshot")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("stats store closed")
)
