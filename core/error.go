package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Every error returned by a Session wraps exactly one of them
// so callers can branch with errors.Is.
var (
	// ErrValidation marks input rejected before any network call.
	ErrValidation = errors.New("validation error")
	// ErrAuth marks failures that invalidate the whole session.
	ErrAuth = errors.New("authentication error")
	// ErrTransport marks failed request/response calls or channel emits.
	ErrTransport = errors.New("transport error")
	// ErrStaleResult is used internally when an async result no longer
	// pertains to the current room. It never reaches callers.
	ErrStaleResult = errors.New("stale result discarded")
)

var (
	ErrInvalidIdentifier  = fmt.Errorf("%w: invalid room identifier", ErrValidation)
	ErrEmptyMessage       = fmt.Errorf("%w: empty message", ErrValidation)
	ErrNoCredential       = fmt.Errorf("%w: no credential", ErrAuth)
	ErrJoinFailed         = fmt.Errorf("%w: join room failed", ErrTransport)
	ErrHistoryFetchFailed = fmt.Errorf("%w: fetch history failed", ErrTransport)
	ErrSendFailed         = fmt.Errorf("%w: send message failed", ErrTransport)
	// ErrNotInRoom is returned by helpers that need a room. Session operations
	// treat it as a silent no-op.
	ErrNotInRoom = errors.New("not in a room")
)

// StatusError is implemented by request client failures that carry a
// response status.
type StatusError interface {
	error
	StatusCode() int
}

// IsAuthFailure reports whether err is, or is caused by, an authentication
// failure.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return true
	}
	var se StatusError
	if errors.As(err, &se) {
		return se.StatusCode() == http.StatusUnauthorized
	}
	return false
}

// wrapRemote tags a failed remote call with the operation kind and, when the
// server rejected the credential, with ErrAuth as well.
func wrapRemote(kind error, err error) error {
	if IsAuthFailure(err) && !errors.Is(err, ErrAuth) {
		return fmt.Errorf("%w: %w: %w", ErrAuth, kind, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}
