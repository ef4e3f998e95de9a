package domain

import "errors"

// Error taxonomy (sentinels). The retriable bit is part of the error value:
// wrap with Retriable or test with IsRetriable instead of matching strings.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("authentication required")
	// ErrForbidden marks access to a resource owned by another user.
	ErrForbidden         = errors.New("unauthorized access")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUserInactive      = errors.New("user inactive")
	ErrPersonasNotReady  = errors.New("personas not ready")
	ErrAITransient       = errors.New("ai service transient failure")
	ErrInvalidAIResponse = errors.New("invalid ai response")
	ErrLockTimeout       = errors.New("lock acquisition timeout")
	ErrInternal          = errors.New("internal error")
)

// IsRetriable reports whether a later attempt at the same operation may
// succeed. Upstream 429/502/503/504 (mapped to ErrAITransient) and lock
// acquisition timeouts are the only retriable failures; everything else is
// permanent so worker state stays deterministic.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrAITransient) || errors.Is(err, ErrLockTimeout)
}
