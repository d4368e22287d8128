package projection

import (
	"context"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"

	"github.com/agentic-research/facet/internal/source"
)

// Builder computes a complete Version from one source snapshot. It is pure
// with respect to engine state: it reads the source store and nothing else,
// and never touches the currently active version.
type Builder struct {
	Source source.Store
}

func NewBuilder(src source.Store) *Builder {
	return &Builder{Source: src}
}

// Build reads a snapshot and materializes all four projections. A source
// read failure propagates (wrapped as source.ErrUnavailable by the store)
// without producing a partial version.
func (b *Builder) Build(ctx context.Context) (*Version, error) {
	snap, err := b.Source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return FromSnapshot(snap), nil
}

type rolePair struct {
	role      string
	specialty string
}

// FromSnapshot is the deterministic core of the build: same snapshot in,
// byte-identical projections out (keys carry a canonical sort, ordinals are
// assigned in sorted provider order).
func FromSnapshot(snap *source.Snapshot) *Version {
	dict := newProviderDict(providerIDs(snap.Providers))

	// Classification is a function nucc_code -> (role, specialty).
	classByCode := make(map[string]rolePair, len(snap.Classifications))
	for _, c := range snap.Classifications {
		classByCode[c.NUCCCode] = rolePair{role: Norm(c.Role), specialty: Norm(c.Specialty)}
	}

	// Resolve each provider's distinct (role, specialty) pairs. A provider
	// with no taxonomy, or whose codes have no classification row, gets the
	// single coalesced pair ("", "") so it still keys into every projection.
	pairsByProvider := make(map[string][]rolePair, len(snap.Providers))
	seenPair := make(map[string]map[rolePair]struct{})
	for _, t := range snap.Taxonomies {
		pair, ok := classByCode[t.NUCCCode]
		if !ok {
			pair = rolePair{}
		}
		set, ok := seenPair[t.NPI]
		if !ok {
			set = make(map[rolePair]struct{})
			seenPair[t.NPI] = set
		}
		if _, dup := set[pair]; dup {
			continue
		}
		set[pair] = struct{}{}
		pairsByProvider[t.NPI] = append(pairsByProvider[t.NPI], pair)
	}

	nameByProvider := make(map[string]ProviderName, len(snap.Providers))
	for _, p := range snap.Providers {
		nameByProvider[p.NPI] = ProviderName{First: Norm(p.FirstName), Last: Norm(p.LastName)}
	}

	employerNameByID := make(map[string]string)
	subtypeByFacility := make(map[string]string)
	for _, e := range snap.Entities {
		if e.IsEmployer {
			employerNameByID[e.NPIOrCCN] = Norm(e.Name)
			continue
		}
		subtype := e.Subtype
		if subtype == "" {
			subtype = UnknownSubtype
		}
		subtypeByFacility[e.NPIOrCCN] = subtype
	}

	rsRows := make(map[RoleSpecialtyKey]*roaring.Bitmap)
	nameRows := make(map[ProviderNameKey]ProviderName)
	facilityProviders := make(map[string]*roaring.Bitmap)

	for _, m := range snap.Memberships {
		ord, known := dict.Ordinal(m.ProviderID)
		if !known {
			// Membership naming a provider with no provider row: the join
			// has nothing to project, so the row is dropped whole.
			continue
		}
		for _, pair := range providerPairs(pairsByProvider, m.ProviderID) {
			rsKey := RoleSpecialtyKey{Facility: m.FacilityID, Role: pair.role, Specialty: pair.specialty}
			bm := rsRows[rsKey]
			if bm == nil {
				bm = roaring.New()
				rsRows[rsKey] = bm
			}
			bm.Add(ord)

			nameKey := ProviderNameKey{Facility: m.FacilityID, Provider: m.ProviderID, Role: pair.role, Specialty: pair.specialty}
			nameRows[nameKey] = nameByProvider[m.ProviderID]
		}
		bm := facilityProviders[m.FacilityID]
		if bm == nil {
			bm = roaring.New()
			facilityProviders[m.FacilityID] = bm
		}
		bm.Add(ord)
	}

	empNames := make(map[EmployerKey]string)
	empProviders := make(map[EmployerKey]*roaring.Bitmap)
	employersByFacility := make(map[string]map[string]struct{})

	for _, l := range snap.Links {
		name, isEmployer := employerNameByID[l.EmployerID]
		if !isEmployer {
			// Only entities flagged as employers may appear in the projection.
			continue
		}
		ord, known := dict.Ordinal(l.ProviderID)
		if !known {
			continue
		}
		set := employersByFacility[l.FacilityID]
		if set == nil {
			set = make(map[string]struct{})
			employersByFacility[l.FacilityID] = set
		}
		set[l.EmployerID] = struct{}{}

		for _, pair := range providerPairs(pairsByProvider, l.ProviderID) {
			k := EmployerKey{Facility: l.FacilityID, Employer: l.EmployerID, Role: pair.role, Specialty: pair.specialty}
			empNames[k] = name
			bm := empProviders[k]
			if bm == nil {
				bm = roaring.New()
				empProviders[k] = bm
			}
			bm.Add(ord)
		}
	}

	summaries := buildSummaries(facilityProviders, employersByFacility, employerNameByID, subtypeByFacility, nameRows)

	return &Version{
		ID:            uuid.NewString(),
		BuiltAt:       time.Now().UTC(),
		Dict:          dict,
		RoleSpecialty: NewRoleSpecialtyProjection(rsRows),
		Employers:     NewEmployerProjection(empNames, empProviders),
		Names:         NewProviderNameProjection(nameRows, facilityProviders),
		Summaries:     NewSummaryProjection(summaries),
		SourceRows: len(snap.Entities) + len(snap.Providers) + len(snap.Taxonomies) +
			len(snap.Classifications) + len(snap.Memberships) + len(snap.Links),
	}
}

func providerIDs(providers []source.Provider) []string {
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.NPI)
	}
	return ids
}

var coalescedPair = []rolePair{{}}

func providerPairs(pairs map[string][]rolePair, providerID string) []rolePair {
	if ps, ok := pairs[providerID]; ok {
		return ps
	}
	return coalescedPair
}

func buildSummaries(
	facilityProviders map[string]*roaring.Bitmap,
	employersByFacility map[string]map[string]struct{},
	employerNameByID map[string]string,
	subtypeByFacility map[string]string,
	nameRows map[ProviderNameKey]ProviderName,
) map[SummaryKey]Summary {
	// Per-facility role/specialty sets come from the name projection rows:
	// it already holds every resolved (facility, role, specialty) tuple.
	rolesByFacility := make(map[string]map[string]struct{})
	specialtiesByFacility := make(map[string]map[string]struct{})
	for k := range nameRows {
		if k.Role != "" {
			addToSet(rolesByFacility, k.Facility, k.Role)
		}
		if k.Specialty != "" {
			addToSet(specialtiesByFacility, k.Facility, k.Specialty)
		}
	}

	facilities := make(map[string]struct{}, len(facilityProviders))
	for f := range facilityProviders {
		facilities[f] = struct{}{}
	}
	for f := range employersByFacility {
		facilities[f] = struct{}{}
	}

	rows := make(map[SummaryKey]Summary, len(facilities))
	for f := range facilities {
		subtype, ok := subtypeByFacility[f]
		if !ok {
			subtype = UnknownSubtype
		}

		var providerCount int
		if bm := facilityProviders[f]; bm != nil {
			providerCount = int(bm.GetCardinality())
		}

		// Two employer IDs can normalize to the same name; the display
		// list is deduped.
		employerIDs := employersByFacility[f]
		nameSet := make(map[string]struct{}, len(employerIDs))
		for id := range employerIDs {
			if name := employerNameByID[id]; name != "" {
				nameSet[name] = struct{}{}
			}
		}
		employerNames := sortedSet(nameSet)

		rows[SummaryKey{Facility: f, Subtype: subtype}] = Summary{
			TotalProviders: providerCount,
			TotalEmployers: len(employerIDs),
			Roles:          sortedSet(rolesByFacility[f]),
			Specialties:    sortedSet(specialtiesByFacility[f]),
			Employers:      employerNames,
		}
	}
	return rows
}

func addToSet(m map[string]map[string]struct{}, key, value string) {
	set := m[key]
	if set == nil {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[value] = struct{}{}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
