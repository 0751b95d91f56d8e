// Package threshold provides query-time decryption of content ciphertexts
// against a committee of key servers.
//
// Plaintext is recoverable only when at least Threshold of the committee's
// key servers release their shares for a given identity and approval. A
// server may deny (the approval does not satisfy its policy) or simply be
// unreachable; the two are tracked separately because they mean different
// things to the caller.
package threshold

import (
	"context"
	"errors"
)

var (
	// ErrQuorumUnavailable is returned when too few key servers responded
	// within the wait ceiling to reach the threshold.
	ErrQuorumUnavailable = errors.New("decryption quorum unavailable")

	// ErrDenied is returned when enough key servers refused the approval
	// that the threshold can no longer be reached.
	ErrDenied = errors.New("decryption denied")

	// ErrShareDenied is returned by a KeyServer that refuses to release its
	// share for the presented approval.
	ErrShareDenied = errors.New("share request denied")
)

// Decryptor recovers plaintext for a ciphertext addressed to an identity.
// The approval is opaque proof material (typically a ledger grant proof).
type Decryptor interface {
	Decrypt(ctx context.Context, ciphertext, identity, approval []byte) ([]byte, error)
}

// Share is one key server's contribution toward a decryption.
type Share struct {
	// ServerID identifies the issuing server.
	ServerID string

	// Index is the share's position in the committee's secret sharing.
	Index uint32

	// Value is the share material.
	Value []byte
}

// KeyServer releases decryption shares after validating the approval.
type KeyServer interface {
	// ID returns a stable identifier for the server.
	ID() string

	// FetchShare validates the approval and returns this server's share.
	// Returns ErrShareDenied when the approval does not satisfy policy.
	FetchShare(ctx context.Context, ciphertext, identity, approval []byte) (Share, error)
}

// CombineFunc reconstructs plaintext from at least threshold shares.
type CombineFunc func(ciphertext []byte, shares []Share) ([]byte, error)
