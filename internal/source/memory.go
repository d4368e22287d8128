package source

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is an in-process Store for tests and seeding. Fail can be set
// to simulate an unreachable source.
type MemoryStore struct {
	mu   sync.RWMutex
	snap Snapshot
	fail bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Seed replaces the whole snapshot.
func (m *MemoryStore) Seed(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
}

// SetFail makes subsequent Snapshot calls return ErrUnavailable.
func (m *MemoryStore) SetFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// Snapshot implements Store. It returns a shallow copy of the seeded slices
// so a later Seed cannot mutate a snapshot already handed out.
func (m *MemoryStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail {
		return nil, Unavailable("memory snapshot", errors.New("simulated failure"))
	}
	snap := &Snapshot{
		Entities:        append([]Entity(nil), m.snap.Entities...),
		Providers:       append([]Provider(nil), m.snap.Providers...),
		Taxonomies:      append([]TaxonomyAssignment(nil), m.snap.Taxonomies...),
		Classifications: append([]Classification(nil), m.snap.Classifications...),
		Memberships:     append([]FacilityMembership(nil), m.snap.Memberships...),
		Links:           append([]EmployerLink(nil), m.snap.Links...),
	}
	return snap, nil
}

var _ Store = (*MemoryStore)(nil)
