package vecvault

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecvault/engine"
	"github.com/hupe1980/vecvault/hnsw"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned when the vault has been closed.
	ErrClosed = errors.New("vault closed")

	// ErrAccessDenied is returned when the requester holds no read grant
	// for the owner's content.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoEmbeddingSource is returned by AddContent when no embedding
	// source is configured.
	ErrNoEmbeddingSource = errors.New("no embedding source configured")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *engine.DimensionMismatchError
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	var hdm *hnsw.DimensionMismatchError
	if errors.As(err, &hdm) {
		return &ErrDimensionMismatch{Expected: hdm.Expected, Actual: hdm.Actual, cause: err}
	}

	if errors.Is(err, engine.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	if errors.Is(err, engine.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	if errors.Is(err, engine.ErrAccessDenied) {
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	}

	return err
}
