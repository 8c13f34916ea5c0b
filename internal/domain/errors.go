package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an external-call failure for retry decisions.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindRateLimit  Kind = "rate_limit"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindServer     Kind = "server"
	KindUnknown    Kind = "unknown"
)

// Retryable reports whether a failure of this kind may succeed on a later
// attempt. Auth and validation failures never do.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindRateLimit, KindServer:
		return true
	}
	return false
}

var (
	ErrNotFound      = errors.New("not found")
	ErrMisconfigured = errors.New("series is missing folder or prompt binding")

	// ErrInFlight means another process call holds the per-series guard.
	ErrInFlight = errors.New("series is already being processed")
)

// Error is a classified failure from one of the external collaborators.
type Error struct {
	Op   string // "storage", "generate", "publish"
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with an operation name and kind.
func E(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the classification from err, defaulting to unknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
