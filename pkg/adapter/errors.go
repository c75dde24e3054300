package adapter

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is returned by Put when a unit lacks a field the backend requires.
	ErrRejected = errors.New("unit rejected by backend")
	// ErrNotSupported is returned for an operation the backend cannot perform.
	ErrNotSupported = errors.New("operation not supported")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("backend closed")
)

// Error is a backend failure.
type Error struct {
	Backend string
	Op      string
	UnitID  string
	Err     error
}

func (e *Error) Error() string {
	if e.UnitID == "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.UnitID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as an *Error unless it already is one or is nil.
func Wrap(backend, op, unitID string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Backend: backend, Op: op, UnitID: unitID, Err: err}
}
