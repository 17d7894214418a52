package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Every error this module returns wraps exactly one of them.
// Use errors.Is() for matching - never compare error strings.
var (
	// ErrUnauthorized is the AuthError category: the session is gone and the
	// caller must send the user back to the login entry point.
	ErrUnauthorized = errors.New("authentication required")

	// ErrNetwork is the NetworkError category: transport failure or deadline.
	// Retryable by the caller, never by the coordinator.
	ErrNetwork = errors.New("network error")

	// ErrValidation is the ValidationError category: a remote envelope could not
	// be understood. Session state is never touched.
	ErrValidation = errors.New("validation error")

	// ErrMessageSchema is the MessageSchemaError category. Host messages that
	// fail parsing are dropped; this error never leaves the messenger.
	ErrMessageSchema = errors.New("malformed host message")
)

// Auth errors. Each one is returned only after the session has been cleared.
var (
	ErrNoSession          = fmt.Errorf("%w: no session", ErrUnauthorized)
	ErrRefreshFailed      = fmt.Errorf("%w: refresh failed", ErrUnauthorized)
	ErrRefreshIneffective = fmt.Errorf("%w: refresh did not restore access", ErrUnauthorized)
)

// Network errors.
var (
	ErrTimeout = fmt.Errorf("%w: timeout", ErrNetwork)
)

// Validation errors.
var (
	ErrInvalidEnvelope  = fmt.Errorf("%w: invalid response envelope", ErrValidation)
	ErrResponseTooLarge = fmt.Errorf("%w: response exceeds size limit", ErrValidation)
)

// Host message errors.
var (
	ErrOriginRejected   = fmt.Errorf("%w: origin not allowed", ErrMessageSchema)
	ErrNotAnObject      = fmt.Errorf("%w: payload is not an object", ErrMessageSchema)
	ErrNoRecognizedKeys = fmt.Errorf("%w: no recognized keys", ErrMessageSchema)
)

// ErrNotReady reports that a component has not finished starting.
var ErrNotReady = errors.New("not ready")

// Configuration errors
var (
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrConfigInvalid  = errors.New("invalid configuration value")
)

// IsAuthError reports whether err means the session is over.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNetworkError reports whether err is a transport or deadline failure.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsValidationError reports whether err is a malformed remote response.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
