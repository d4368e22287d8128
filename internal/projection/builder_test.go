package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/facet/internal/source"
)

// fixtureSnapshot covers the paths the builder has to get right: messy
// casing and whitespace, a provider without any taxonomy, two codes that
// classify identically, and an employer link.
func fixtureSnapshot() *source.Snapshot {
	return &source.Snapshot{
		Entities: []source.Entity{
			{NPIOrCCN: "F1", Name: "General Hospital", Subtype: "Hospital"},
			{NPIOrCCN: "F2", Name: "Annex Clinic"},
			{NPIOrCCN: "E1", Name: "  Acme Health LLC ", IsEmployer: true},
		},
		Providers: []source.Provider{
			{NPI: "P1", FirstName: "  Alice ", LastName: "SMITH"},
			{NPI: "P2", FirstName: "bob", LastName: "jones"},
			{NPI: "P3", FirstName: "carol", LastName: "smith-jones"},
		},
		Taxonomies: []source.TaxonomyAssignment{
			{NPI: "P1", NUCCCode: "T1"},
			{NPI: "P1", NUCCCode: "T2"}, // same classification as T1
			{NPI: "P3", NUCCCode: "T3"},
		},
		Classifications: []source.Classification{
			{NUCCCode: "T1", Role: " Physician ", Specialty: "CARDIOLOGY"},
			{NUCCCode: "T2", Role: "physician", Specialty: "cardiology"},
			{NUCCCode: "T3", Role: "Nurse", Specialty: ""},
		},
		Memberships: []source.FacilityMembership{
			{ProviderID: "P1", FacilityID: "F1"},
			{ProviderID: "P2", FacilityID: "F1"},
			{ProviderID: "P3", FacilityID: "F1"},
			{ProviderID: "P1", FacilityID: "F2"},
		},
		Links: []source.EmployerLink{
			{ProviderID: "P1", FacilityID: "F1", EmployerID: "E1"},
		},
	}
}

func TestBuildNormalizesClassificationKeys(t *testing.T) {
	v := FromSnapshot(fixtureSnapshot())

	// " Physician "/"CARDIOLOGY" and "physician"/"cardiology" collapse to
	// one key, and P1 counts once despite two taxonomy codes.
	k := RoleSpecialtyKey{Facility: "F1", Role: "physician", Specialty: "cardiology"}
	assert.Equal(t, 1, v.RoleSpecialty.Count(k))

	// The raw-cased key must not exist.
	raw := RoleSpecialtyKey{Facility: "F1", Role: " Physician ", Specialty: "CARDIOLOGY"}
	assert.Equal(t, 0, v.RoleSpecialty.Count(raw))
}

func TestBuildCoalescesMissingTaxonomy(t *testing.T) {
	v := FromSnapshot(fixtureSnapshot())

	// P2 has no taxonomy rows: it keys under ("", "") so unfiltered
	// searches still see it.
	k := RoleSpecialtyKey{Facility: "F1"}
	assert.Equal(t, 1, v.RoleSpecialty.Count(k))

	name, ok := v.Names.Name(ProviderNameKey{Facility: "F1", Provider: "P2"})
	require.True(t, ok)
	assert.Equal(t, ProviderName{First: "bob", Last: "jones"}, name)
}

func TestBuildEmptySpecialtyIsAKeyValue(t *testing.T) {
	v := FromSnapshot(fixtureSnapshot())

	// T3 classifies role "nurse" with no specialty; "" is a real key value,
	// distinct from the coalesced pair.
	assert.Equal(t, 1, v.RoleSpecialty.Count(RoleSpecialtyKey{Facility: "F1", Role: "nurse"}))
}

func TestBuildEmployerProjection(t *testing.T) {
	v := FromSnapshot(fixtureSnapshot())

	k := EmployerKey{Facility: "F1", Employer: "E1", Role: "physician", Specialty: "cardiology"}
	name, ok := v.Employers.Name(k)
	require.True(t, ok)
	assert.Equal(t, "acme health llc", name)

	bm := v.Employers.Providers(k)
	require.NotNil(t, bm)
	assert.Equal(t, uint64(1), bm.GetCardinality())
}

func TestBuildSkipsLinksToNonEmployers(t *testing.T) {
	snap := fixtureSnapshot()
	// F2 is a facility, not an employer; a link naming it must be dropped.
	snap.Links = append(snap.Links, source.EmployerLink{ProviderID: "P2", FacilityID: "F1", EmployerID: "F2"})

	v := FromSnapshot(snap)
	for _, k := range v.Employers.FacilityKeys("F1") {
		assert.NotEqual(t, "F2", k.Employer)
	}
}

func TestBuildSummaries(t *testing.T) {
	v := FromSnapshot(fixtureSnapshot())

	s, ok := v.Summaries.Get(SummaryKey{Facility: "F1", Subtype: "Hospital"})
	require.True(t, ok)
	assert.Equal(t, 3, s.TotalProviders)
	assert.Equal(t, 1, s.TotalEmployers)
	assert.Equal(t, []string{"nurse", "physician"}, s.Roles)
	assert.Equal(t, []string{"cardiology"}, s.Specialties)
	assert.Equal(t, []string{"acme health llc"}, s.Employers)

	// F2 has no subtype: it lands under the sentinel.
	_, ok = v.Summaries.Get(SummaryKey{Facility: "F2", Subtype: UnknownSubtype})
	assert.True(t, ok)
}

func TestBuildSummaryEmployerNamesDeduped(t *testing.T) {
	snap := fixtureSnapshot()
	snap.Entities = append(snap.Entities, source.Entity{NPIOrCCN: "E2", Name: "ACME HEALTH LLC", IsEmployer: true})
	snap.Links = append(snap.Links, source.EmployerLink{ProviderID: "P2", FacilityID: "F1", EmployerID: "E2"})

	v := FromSnapshot(snap)
	s, ok := v.Summaries.Get(SummaryKey{Facility: "F1", Subtype: "Hospital"})
	require.True(t, ok)
	assert.Equal(t, 2, s.TotalEmployers)
	assert.Equal(t, []string{"acme health llc"}, s.Employers)
}

func TestBuildDropsRowsForUnknownProviders(t *testing.T) {
	snap := fixtureSnapshot()
	// Referentially broken source rows: a membership and an employer link
	// naming a provider that has no provider row.
	snap.Memberships = append(snap.Memberships, source.FacilityMembership{ProviderID: "GHOST", FacilityID: "F1"})
	snap.Links = append(snap.Links, source.EmployerLink{ProviderID: "GHOST", FacilityID: "F9", EmployerID: "E1"})

	clean := FromSnapshot(fixtureSnapshot())
	v := FromSnapshot(snap)

	// No zero-count keys and no extra rows anywhere: the broken rows
	// vanish instead of minting phantom ("", "") entries.
	assert.Equal(t, clean.RowCounts(), v.RowCounts())
	for _, k := range v.RoleSpecialty.Keys() {
		assert.Positive(t, v.RoleSpecialty.Count(k), "key %+v", k)
	}
	for _, k := range v.Names.Keys() {
		assert.NotEqual(t, "GHOST", k.Provider)
	}

	// F9 only appears via the broken link; it must not gain a summary row.
	assert.Empty(t, v.Summaries.FacilityKeys("F9"))
}

func TestFacilityRoleKeys(t *testing.T) {
	v := FromSnapshot(fixtureSnapshot())

	keys := v.RoleSpecialty.FacilityRoleKeys("F1", "physician")
	require.Len(t, keys, 1)
	assert.Equal(t, RoleSpecialtyKey{Facility: "F1", Role: "physician", Specialty: "cardiology"}, keys[0])

	assert.Empty(t, v.RoleSpecialty.FacilityRoleKeys("F1", "dentist"))
	assert.Empty(t, v.RoleSpecialty.FacilityRoleKeys("NOPE", "physician"))

	// The coalesced pair is reachable as role "".
	require.Len(t, v.RoleSpecialty.FacilityRoleKeys("F1", ""), 1)
}

func TestBuildDeterministic(t *testing.T) {
	snap := fixtureSnapshot()
	a := FromSnapshot(snap)
	b := FromSnapshot(snap)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.RowCounts(), b.RowCounts())
	assert.Equal(t, a.Dict.IDs(), b.Dict.IDs())
	assert.Equal(t, a.RoleSpecialty.Keys(), b.RoleSpecialty.Keys())
	for _, k := range a.RoleSpecialty.Keys() {
		assert.Equal(t, a.RoleSpecialty.Count(k), b.RoleSpecialty.Count(k))
	}
	assert.Equal(t, a.Names.Keys(), b.Names.Keys())
	assert.Equal(t, a.Summaries.Keys(), b.Summaries.Keys())
}

func TestBuildCountsMatchBruteForce(t *testing.T) {
	snap := fixtureSnapshot()
	v := FromSnapshot(snap)

	// Recompute every (facility, role, specialty) -> distinct provider set
	// with plain maps and compare.
	class := make(map[string][2]string)
	for _, c := range snap.Classifications {
		class[c.NUCCCode] = [2]string{Norm(c.Role), Norm(c.Specialty)}
	}
	pairs := make(map[string]map[[2]string]struct{})
	for _, tx := range snap.Taxonomies {
		p, ok := class[tx.NUCCCode]
		if !ok {
			p = [2]string{}
		}
		if pairs[tx.NPI] == nil {
			pairs[tx.NPI] = make(map[[2]string]struct{})
		}
		pairs[tx.NPI][p] = struct{}{}
	}
	want := make(map[RoleSpecialtyKey]map[string]struct{})
	for _, m := range snap.Memberships {
		ps := pairs[m.ProviderID]
		if len(ps) == 0 {
			ps = map[[2]string]struct{}{{}: {}}
		}
		for p := range ps {
			k := RoleSpecialtyKey{Facility: m.FacilityID, Role: p[0], Specialty: p[1]}
			if want[k] == nil {
				want[k] = make(map[string]struct{})
			}
			want[k][m.ProviderID] = struct{}{}
		}
	}

	require.Equal(t, len(want), v.RoleSpecialty.Len())
	for k, providers := range want {
		assert.Equal(t, len(providers), v.RoleSpecialty.Count(k), "key %+v", k)
	}
}

func TestBuilderPropagatesSourceFailure(t *testing.T) {
	src := source.NewMemoryStore()
	src.SetFail(true)

	_, err := NewBuilder(src).Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrUnavailable)
}
