package models

import "errors"

var (
	// Input / validation (caller-fixable).
	ErrUnknownModule    = errors.New("unknown module")
	ErrBadTemplate      = errors.New("template rendered to invalid structure")
	ErrInvalidCreds     = errors.New("credential probe failed")
	ErrNoSuitableColumn = errors.New("no suitable filter column")
	ErrNotFound         = errors.New("record not found")

	// External systems.
	ErrConnectFailed   = errors.New("source database connection failed")
	ErrQueryFailed     = errors.New("source database query failed")
	ErrSinkUnavailable = errors.New("sink warehouse unavailable")
	ErrExternalSystem  = errors.New("external system call failed")

	// Integrity (internal invariants; never surfaced with sensitive detail).
	ErrDecryptionFailed   = errors.New("credential decryption failed")
	ErrIncompatibleSchema = errors.New("sink schema incompatible with source")
)
