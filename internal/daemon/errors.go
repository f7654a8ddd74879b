package daemon

import (
	"errors"
	"fmt"
)

// Failure classes for daemon calls. Every error returned by a Client wraps
// exactly one of these, so callers classify with errors.Is. All are terminal
// for the call that produced them; the client never retries.
var (
	// ErrConnectionFailed: the socket is missing or the transport could not
	// be set up.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrRequestFailed: the round-trip failed or the daemon answered with a
	// transport-level error.
	ErrRequestFailed = errors.New("request failed")

	// ErrInvalidResponse: the daemon answered with a payload that does not
	// decode.
	ErrInvalidResponse = errors.New("invalid response")
)

// Error carries the operation that failed, its failure class, and the
// underlying cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Kind }

func opErr(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
