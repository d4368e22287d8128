package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/facet/internal/projection"
	"github.com/agentic-research/facet/internal/source"
)

func testVersion(t *testing.T, marker string) *projection.Version {
	t.Helper()
	snap := &source.Snapshot{
		Providers:   []source.Provider{{NPI: marker, FirstName: "a", LastName: "b"}},
		Memberships: []source.FacilityMembership{{ProviderID: marker, FacilityID: "F1"}},
	}
	return projection.FromSnapshot(snap)
}

func TestActiveNilBeforeFirstSwap(t *testing.T) {
	r := NewActiveRef()
	assert.Nil(t, r.Active())

	_, err := r.Rollback()
	assert.ErrorIs(t, err, ErrNoPreviousVersion)
}

func TestSwapRetainsOnePrevious(t *testing.T) {
	r := NewActiveRef()
	v1 := testVersion(t, "P1")
	v2 := testVersion(t, "P2")
	v3 := testVersion(t, "P3")

	r.Swap(v1)
	assert.Same(t, v1, r.Active())

	// First swap has no usable predecessor.
	_, err := r.Rollback()
	assert.ErrorIs(t, err, ErrNoPreviousVersion)

	r.Swap(v2)
	r.Swap(v3)
	assert.Same(t, v3, r.Active())

	// v1 was released when v3 arrived; rollback lands on v2.
	got, err := r.Rollback()
	require.NoError(t, err)
	assert.Same(t, v2, got)
	assert.Same(t, v2, r.Active())

	// Rolling back again undoes the rollback.
	got, err = r.Rollback()
	require.NoError(t, err)
	assert.Same(t, v3, got)
}
