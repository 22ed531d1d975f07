package gateway

import (
	"errors"
	"fmt"
)

const reasonTransport = "gateway unreachable"

// Error is returned by every gateway operation that fails.
// StatusCode is zero when the request never got an HTTP response.
type Error struct {
	Op         string
	StatusCode int
	Reason     string
	Err        error
	// Local is set when the request was never sent, e.g. an address that
	// cannot be normalized or a payload that cannot be encoded.
	Local bool
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s (status %d): %s", e.Op, e.StatusCode, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Reason, e.Err)
	default:
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Reason)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Transport reports whether the request was sent but no usable response came back.
func (e *Error) Transport() bool {
	return e.StatusCode == 0 && !e.Local
}

// IsRejected reports whether err is a gateway response with a non-success status.
func IsRejected(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.StatusCode != 0
}
