package errors

import (
	"errors"
)

// Sentinel errors for the engine's failure taxonomy
var (
	// ErrNotFound - session or dataset absent (a valid empty state, never fatal)
	ErrNotFound = errors.New("not found")

	// ErrStorageCorrupt - a persisted value failed to decode (discard the key, proceed as absent)
	ErrStorageCorrupt = errors.New("storage corrupt")

	// ErrStorage - the document or key/value store failed (logged, best-effort in the UI flow)
	ErrStorage = errors.New("storage failure")

	// ErrNetwork - the reference endpoint could not be reached or answered badly (surfaced to caller)
	ErrNetwork = errors.New("network failure")

	// ErrStaleIdentifier - a persisted session id no longer resolves to a document (clear it, fall back)
	ErrStaleIdentifier = errors.New("stale identifier")

	// ErrRedirectLoop - restoration attempts exhausted for this mount (stay on current path)
	ErrRedirectLoop = errors.New("redirect loop risk")

	// ErrInvalidTransition - session status would regress
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidInput - invalid input (bad ids, unknown flow type, malformed payload)
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransient - transient error (retry with backoff)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
