package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned when the engine has been closed.
	ErrClosed = errors.New("engine closed")

	// ErrAccessDenied is returned when the requester holds no read grant
	// for the owner's content.
	ErrAccessDenied = errors.New("access denied")

	// ErrBlobUnavailable marks a query hit whose ciphertext could not be
	// fetched from the blob store.
	ErrBlobUnavailable = errors.New("content blob unavailable")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")
)

// DimensionMismatchError is returned when a submitted or query vector does
// not match the configured dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	cause    error
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() error { return e.cause }

// OwnerError is a deferred failure surfaced on the Errors channel: a
// materialization or snapshot problem that could not be reported to any
// in-flight call.
type OwnerError struct {
	OwnerID string
	Op      string
	LocalID uint64
	Err     error
	Time    time.Time
}

func (e OwnerError) Error() string {
	return fmt.Sprintf("owner %s: %s: %v", e.OwnerID, e.Op, e.Err)
}

func (e OwnerError) Unwrap() error { return e.Err }
