package tests

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/facet/api"
	"github.com/agentic-research/facet/internal/projection"
	"github.com/agentic-research/facet/internal/query"
	"github.com/agentic-research/facet/internal/refresh"
	"github.com/agentic-research/facet/internal/source"
	"github.com/agentic-research/facet/internal/store"
)

// testFixture wires the full pipeline in process: a seeded memory source,
// the refresh coordinator, and a query engine over the shared active ref.
type testFixture struct {
	src    *source.MemoryStore
	active *store.ActiveRef
	coord  *refresh.Coordinator
	engine *query.Engine
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	src := source.NewMemoryStore()
	active := store.NewActiveRef()
	return &testFixture{
		src:    src,
		active: active,
		coord:  refresh.NewCoordinator(projection.NewBuilder(src), active, refresh.Bounds{}),
		engine: query.NewEngine(active),
	}
}

// baseSnapshot is the canonical walkthrough scenario: facility F1 with two
// providers, one classified as physician/cardiology via taxonomy T1, one
// with no taxonomy at all.
func baseSnapshot() source.Snapshot {
	return source.Snapshot{
		Entities: []source.Entity{
			{NPIOrCCN: "F1", Name: "General Hospital", Subtype: "Hospital"},
			{NPIOrCCN: "E1", Name: "Acme Health", IsEmployer: true},
		},
		Providers: []source.Provider{
			{NPI: "P1", FirstName: "alice", LastName: "smith"},
			{NPI: "P2", FirstName: "bob", LastName: "jones"},
		},
		Taxonomies:      []source.TaxonomyAssignment{{NPI: "P1", NUCCCode: "T1"}},
		Classifications: []source.Classification{{NUCCCode: "T1", Role: "Physician", Specialty: "Cardiology"}},
		Memberships: []source.FacilityMembership{
			{ProviderID: "P1", FacilityID: "F1"},
			{ProviderID: "P2", FacilityID: "F1"},
		},
		Links: []source.EmployerLink{{ProviderID: "P1", FacilityID: "F1", EmployerID: "E1"}},
	}
}

func TestEndToEndWalkthrough(t *testing.T) {
	f := newFixture(t)
	f.src.Seed(baseSnapshot())
	ctx := context.Background()

	report, err := f.coord.RefreshNow(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, report.VersionID)

	// P1 resolved to (physician, cardiology); the distinct count is 1.
	v := f.active.Active()
	require.NotNil(t, v)
	assert.Equal(t, 1, v.RoleSpecialty.Count(projection.RoleSpecialtyKey{
		Facility: "F1", Role: "physician", Specialty: "cardiology",
	}))

	// Filtering by role returns exactly P1, despite P2 being present.
	page, err := f.engine.Search(ctx, "F1", api.SearchFilters{Role: "physician"}, "", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "P1", page.Results[0].ProviderID)
	assert.Equal(t, report.VersionID, page.VersionID)

	// An unfiltered search still surfaces the taxonomy-less P2.
	page, err = f.engine.Search(ctx, "F1", api.SearchFilters{}, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalEstimate)

	// A role nobody holds is an empty page, not an error.
	page, err = f.engine.Search(ctx, "F1", api.SearchFilters{Role: "dermatology"}, "", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Zero(t, page.TotalEstimate)

	// Summary row carries the denormalized aggregates.
	summaries, err := f.engine.Summaries(ctx, "F1", "")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].TotalProviders)
	assert.Equal(t, []string{"acme health"}, summaries[0].Employers)
}

func TestRefreshIsAtomicUnderConcurrentReads(t *testing.T) {
	f := newFixture(t)
	f.src.Seed(baseSnapshot())
	ctx := context.Background()

	_, err := f.coord.RefreshNow(ctx)
	require.NoError(t, err)

	grown := baseSnapshot()
	grown.Providers = append(grown.Providers, source.Provider{NPI: "P3", FirstName: "carol", LastName: "diaz"})
	grown.Memberships = append(grown.Memberships, source.FacilityMembership{ProviderID: "P3", FacilityID: "F1"})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers hammer the engine while versions swap underneath. Every page
	// must be internally consistent: the total matches the version it was
	// served from, never a blend of two.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			page, err := f.engine.Search(ctx, "F1", api.SearchFilters{}, "", 1, 10)
			if !assert.NoError(t, err) {
				return
			}
			if !assert.Contains(t, []int{2, 3}, page.TotalEstimate) {
				return
			}
			assert.Len(t, page.Results, page.TotalEstimate)
		}
	}()

	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			f.src.Seed(grown)
		} else {
			f.src.Seed(baseSnapshot())
		}
		_, err := f.coord.RefreshNow(ctx)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestFailedRefreshKeepsServing(t *testing.T) {
	f := newFixture(t)
	f.src.Seed(baseSnapshot())
	ctx := context.Background()

	first, err := f.coord.RefreshNow(ctx)
	require.NoError(t, err)

	f.src.SetFail(true)
	_, err = f.coord.RefreshNow(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrUnavailable)

	// Queries keep answering from the last good version.
	page, err := f.engine.Search(ctx, "F1", api.SearchFilters{}, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, page.VersionID)
	assert.Equal(t, 2, page.TotalEstimate)
}

func TestRollbackRestoresPreviousVersion(t *testing.T) {
	f := newFixture(t)
	f.src.Seed(baseSnapshot())
	ctx := context.Background()

	first, err := f.coord.RefreshNow(ctx)
	require.NoError(t, err)

	grown := baseSnapshot()
	grown.Providers = append(grown.Providers, source.Provider{NPI: "P3", FirstName: "carol", LastName: "diaz"})
	grown.Memberships = append(grown.Memberships, source.FacilityMembership{ProviderID: "P3", FacilityID: "F1"})
	f.src.Seed(grown)

	second, err := f.coord.RefreshNow(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.VersionID, second.VersionID)

	restored, err := f.active.Rollback()
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, restored.ID)

	page, err := f.engine.Search(ctx, "F1", api.SearchFilters{}, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, page.VersionID)
	assert.Equal(t, 2, page.TotalEstimate)
}

func TestSnapshotWarmStart(t *testing.T) {
	f := newFixture(t)
	f.src.Seed(baseSnapshot())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "derived.db")

	f.coord.OnSwap = func(v *projection.Version) {
		require.NoError(t, store.WriteSnapshot(path, v))
	}
	report, err := f.coord.RefreshNow(ctx)
	require.NoError(t, err)

	// A fresh process loads the snapshot and serves without a source pass.
	active := store.NewActiveRef()
	loaded, err := store.LoadSnapshot(path)
	require.NoError(t, err)
	active.Swap(loaded)

	engine := query.NewEngine(active)
	page, err := engine.Search(ctx, "F1", api.SearchFilters{Role: "physician"}, "", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "P1", page.Results[0].ProviderID)
	assert.Equal(t, report.VersionID, page.VersionID)
}
