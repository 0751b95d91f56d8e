package hnsw

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptIndex is returned when persisted index bytes fail structural
	// or checksum validation.
	ErrCorruptIndex = errors.New("corrupt index data")

	// ErrZeroVector is returned when a vector cannot be normalized.
	ErrZeroVector = errors.New("zero vector cannot be normalized")
)

// DimensionMismatchError is returned when a vector's dimensionality does not
// match the index.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// DuplicateIDError is returned when inserting an id that already exists.
type DuplicateIDError struct {
	ID uint64
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate id: %d", e.ID)
}
