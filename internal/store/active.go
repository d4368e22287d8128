// Package store owns the derived state: which Version is active, the one
// prior version kept for rollback, and snapshot persistence to SQLite.
package store

import (
	"errors"
	"sync"

	"github.com/agentic-research/facet/internal/projection"
)

var ErrNoPreviousVersion = errors.New("no previous version retained")

// ActiveRef is the single piece of mutable shared state between the refresh
// path and readers. Readers grab the current *Version once and use it for
// the whole call; the swap is a pointer replacement under a short lock, so
// a reader sees the old version in its entirety or the new one, never a mix.
type ActiveRef struct {
	mu       sync.RWMutex
	current  *projection.Version
	previous *projection.Version
}

func NewActiveRef() *ActiveRef {
	return &ActiveRef{}
}

// Active returns the currently visible version, nil before the first swap.
func (r *ActiveRef) Active() *projection.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Swap installs v as the active version and retains exactly one prior
// version for rollback. Older versions are released to the GC. Only the
// refresh coordinator calls this.
func (r *ActiveRef) Swap(v *projection.Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previous = r.current
	r.current = v
}

// Rollback restores the retained prior version. The rolled-back-from
// version becomes the retained one, so a second Rollback undoes the first.
func (r *ActiveRef) Rollback() (*projection.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.previous == nil {
		return nil, ErrNoPreviousVersion
	}
	r.current, r.previous = r.previous, r.current
	return r.current, nil
}
