// Package ledger defines the authority the engine trusts for two facts: which
// snapshot version is current for an owner, and who may read an owner's
// content.
//
// Implementations are expected to be shared, durable systems (an on-chain
// registry, DynamoDB). Snapshot versions are strictly monotonic per owner:
// recording version N succeeds only if N has never been recorded, so a
// half-finished snapshot attempt can never shadow a committed one.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/vecvault/blobstore"
)

var (
	// ErrNoSnapshot is returned when an owner has no recorded snapshot.
	ErrNoSnapshot = errors.New("no snapshot recorded")

	// ErrVersionConflict is returned when recording a snapshot version that
	// already exists for the owner.
	ErrVersionConflict = errors.New("snapshot version conflict")

	// ErrNoGrant is returned when no valid access grant exists.
	ErrNoGrant = errors.New("no access grant")
)

// Scope is the kind of access a grant permits.
type Scope string

// ScopeRead permits reading (querying and decrypting) an owner's content.
const ScopeRead Scope = "read"

// SnapshotRef points at a persisted snapshot blob.
type SnapshotRef struct {
	// Version is the owner-scoped, strictly increasing snapshot version.
	Version uint64

	// BlobRef is the content address of the snapshot envelope.
	BlobRef blobstore.Ref

	// CreatedAt is when the snapshot was recorded.
	CreatedAt time.Time
}

// AccessGrant is the ledger's proof that a grantee may access a context.
type AccessGrant struct {
	ContextID string
	GranteeID string
	Scope     Scope

	// Proof is the opaque approval material forwarded to the decryptor.
	Proof []byte

	// ExpiresAt bounds the grant's validity. Zero means no expiry.
	ExpiresAt time.Time
}

// Expired reports whether the grant has expired at the given time.
func (g *AccessGrant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// Ledger is the snapshot registry and permission authority.
type Ledger interface {
	// LatestSnapshot returns the highest-version snapshot recorded for the
	// owner, or ErrNoSnapshot.
	LatestSnapshot(ctx context.Context, ownerID string) (SnapshotRef, error)

	// RecordSnapshot records a new snapshot version for the owner. Returns
	// ErrVersionConflict if ref.Version was already recorded.
	RecordSnapshot(ctx context.Context, ownerID string, ref SnapshotRef) error

	// CheckGrant returns the grant allowing granteeID to access contextID
	// with the given scope, or ErrNoGrant.
	CheckGrant(ctx context.Context, contextID, granteeID string, scope Scope) (*AccessGrant, error)
}
