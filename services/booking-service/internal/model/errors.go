package model

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrCapacityExceeded    = errors.New("slot no longer available")
	ErrExpired             = errors.New("reservation expired")
	ErrConflict            = errors.New("appointment was modified concurrently")
	ErrInvalidInput        = errors.New("invalid input")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	// ErrTransient marks store failures (serialization, deadlock) after
	// which the whole operation may be retried from the top.
	ErrTransient = errors.New("transient store failure")
)
