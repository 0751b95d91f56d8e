package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger implementation for testing and
// single-process deployments.
type MemoryLedger struct {
	mu        sync.RWMutex
	snapshots map[string][]SnapshotRef
	grants    map[grantKey]AccessGrant
}

type grantKey struct {
	contextID string
	granteeID string
	scope     Scope
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		snapshots: make(map[string][]SnapshotRef),
		grants:    make(map[grantKey]AccessGrant),
	}
}

// LatestSnapshot returns the highest recorded snapshot for the owner.
func (m *MemoryLedger) LatestSnapshot(_ context.Context, ownerID string) (SnapshotRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := m.snapshots[ownerID]
	if len(refs) == 0 {
		return SnapshotRef{}, ErrNoSnapshot
	}

	return refs[len(refs)-1], nil
}

// RecordSnapshot appends a new snapshot version for the owner.
func (m *MemoryLedger) RecordSnapshot(_ context.Context, ownerID string, ref SnapshotRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	refs := m.snapshots[ownerID]

	for _, existing := range refs {
		if existing.Version == ref.Version {
			return ErrVersionConflict
		}
	}

	if len(refs) > 0 && ref.Version <= refs[len(refs)-1].Version {
		return ErrVersionConflict
	}

	m.snapshots[ownerID] = append(refs, ref)

	return nil
}

// CheckGrant returns the grant for (contextID, granteeID, scope) if present
// and unexpired.
func (m *MemoryLedger) CheckGrant(_ context.Context, contextID, granteeID string, scope Scope) (*AccessGrant, error) {
	m.mu.RLock()
	grant, ok := m.grants[grantKey{contextID: contextID, granteeID: granteeID, scope: scope}]
	m.mu.RUnlock()

	if !ok || grant.Expired(time.Now()) {
		return nil, ErrNoGrant
	}

	out := grant

	return &out, nil
}

// Grant records an access grant.
func (m *MemoryLedger) Grant(grant AccessGrant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grants[grantKey{contextID: grant.ContextID, granteeID: grant.GranteeID, scope: grant.Scope}] = grant
}

// Revoke removes an access grant.
func (m *MemoryLedger) Revoke(contextID, granteeID string, scope Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.grants, grantKey{contextID: contextID, granteeID: granteeID, scope: scope})
}

// Versions returns all recorded snapshot versions for the owner, ascending.
// Test helper.
func (m *MemoryLedger) Versions(ownerID string) []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := m.snapshots[ownerID]

	versions := make([]uint64, len(refs))
	for i, ref := range refs {
		versions[i] = ref.Version
	}

	return versions
}
