package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is wrapped when a write collides with a unique key.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalid is wrapped when a write is refused before reaching the database.
	ErrInvalid = errors.New("invalid")
)

// Error is returned by every failed store read or write.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
