// Package projection holds the denormalized lookup structures derived from
// the source schema, and the builder that computes them in one source pass.
//
// Every key component is normalized before it becomes part of a key:
// lowercased, whitespace-trimmed, and missing values coalesced to "" so
// grouping and lookup stay total functions over strings. Provider identity
// inside a version is a dense uint32 ordinal; distinct counts and
// cross-projection intersection are roaring bitmap operations.
package projection

import (
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// Norm canonicalizes a classification or name value for keying. NULL, ""
// and absent all end up as "".
func Norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// UnknownSubtype is the sentinel used when a facility has no subtype at
// rebuild time.
const UnknownSubtype = "Unknown"

// ProviderDict maps provider identifiers to dense ordinals for one version.
// Ordinals are assigned in sorted identifier order, so two builds from the
// same snapshot produce identical dictionaries.
type ProviderDict struct {
	ids []string
	ord map[string]uint32
}

func newProviderDict(ids []string) *ProviderDict {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	d := &ProviderDict{ids: sorted, ord: make(map[string]uint32, len(sorted))}
	for i, id := range sorted {
		d.ord[id] = uint32(i)
	}
	return d
}

func (d *ProviderDict) Ordinal(id string) (uint32, bool) {
	o, ok := d.ord[id]
	return o, ok
}

func (d *ProviderDict) ID(ord uint32) string {
	if int(ord) >= len(d.ids) {
		return ""
	}
	return d.ids[ord]
}

func (d *ProviderDict) Len() int { return len(d.ids) }

// IDs returns the ordinal-ordered identifier list. Callers must not mutate it.
func (d *ProviderDict) IDs() []string { return d.ids }

// ---------------------------------------------------------------------------
// RoleSpecialty: (facility, role, specialty) -> distinct provider set
// ---------------------------------------------------------------------------

type RoleSpecialtyKey struct {
	Facility  string
	Role      string
	Specialty string
}

type RoleSpecialtyProjection struct {
	rows       map[RoleSpecialtyKey]*roaring.Bitmap
	keys       []RoleSpecialtyKey
	byFacility map[string][]RoleSpecialtyKey
}

// Count returns the distinct provider count for a full key, 0 when absent.
func (p *RoleSpecialtyProjection) Count(k RoleSpecialtyKey) int {
	bm, ok := p.rows[k]
	if !ok {
		return 0
	}
	return int(bm.GetCardinality())
}

// Providers returns the provider set for a full key, nil when absent.
// The returned bitmap is shared; callers must clone before mutating.
func (p *RoleSpecialtyProjection) Providers(k RoleSpecialtyKey) *roaring.Bitmap {
	return p.rows[k]
}

// FacilityKeys is the prefix lookup: every key for one facility, in
// canonical order.
func (p *RoleSpecialtyProjection) FacilityKeys(facility string) []RoleSpecialtyKey {
	return p.byFacility[facility]
}

// FacilityRoleKeys narrows the facility prefix to one role, regardless of
// specialty. Keys are sorted (facility, role, specialty), so the role slice
// is a contiguous run found by binary search.
func (p *RoleSpecialtyProjection) FacilityRoleKeys(facility, role string) []RoleSpecialtyKey {
	keys := p.byFacility[facility]
	lo := sort.Search(len(keys), func(i int) bool { return keys[i].Role >= role })
	hi := sort.Search(len(keys), func(i int) bool { return keys[i].Role > role })
	return keys[lo:hi]
}

// Keys returns all keys in canonical order.
func (p *RoleSpecialtyProjection) Keys() []RoleSpecialtyKey { return p.keys }

func (p *RoleSpecialtyProjection) Len() int { return len(p.keys) }

// ---------------------------------------------------------------------------
// Employer: (facility, employer, role, specialty) -> employer name
// ---------------------------------------------------------------------------

type EmployerKey struct {
	Facility  string
	Employer  string
	Role      string
	Specialty string
}

type EmployerProjection struct {
	names      map[EmployerKey]string
	providers  map[EmployerKey]*roaring.Bitmap
	keys       []EmployerKey
	byFacility map[string][]EmployerKey
}

// Name returns the denormalized (lowercased) employer name for a full key.
func (p *EmployerProjection) Name(k EmployerKey) (string, bool) {
	n, ok := p.names[k]
	return n, ok
}

// Providers returns the set of employed providers behind a key, nil when
// none were resolvable.
func (p *EmployerProjection) Providers(k EmployerKey) *roaring.Bitmap {
	return p.providers[k]
}

func (p *EmployerProjection) FacilityKeys(facility string) []EmployerKey {
	return p.byFacility[facility]
}

func (p *EmployerProjection) Keys() []EmployerKey { return p.keys }

func (p *EmployerProjection) Len() int { return len(p.keys) }

// ---------------------------------------------------------------------------
// ProviderName: (facility, provider, role, specialty) -> first/last name
// ---------------------------------------------------------------------------

type ProviderNameKey struct {
	Facility  string
	Provider  string
	Role      string
	Specialty string
}

// ProviderName holds lowercased name parts for case-insensitive prefix match.
type ProviderName struct {
	First string
	Last  string
}

type ProviderNameProjection struct {
	rows              map[ProviderNameKey]ProviderName
	keys              []ProviderNameKey
	byFacility        map[string][]ProviderNameKey
	facilityProviders map[string]*roaring.Bitmap
}

func (p *ProviderNameProjection) Name(k ProviderNameKey) (ProviderName, bool) {
	n, ok := p.rows[k]
	return n, ok
}

func (p *ProviderNameProjection) FacilityKeys(facility string) []ProviderNameKey {
	return p.byFacility[facility]
}

// FacilityProviders returns the full provider set at a facility, nil when
// the facility is unknown. Shared bitmap; clone before mutating.
func (p *ProviderNameProjection) FacilityProviders(facility string) *roaring.Bitmap {
	return p.facilityProviders[facility]
}

func (p *ProviderNameProjection) Keys() []ProviderNameKey { return p.keys }

func (p *ProviderNameProjection) Len() int { return len(p.keys) }

// ---------------------------------------------------------------------------
// FacilitySummary: (facility, subtype) -> display aggregates
// ---------------------------------------------------------------------------

type SummaryKey struct {
	Facility string
	Subtype  string
}

// Summary carries the aggregate counts plus the cached display lists.
// Lists are sorted ascending and omit empty-string values.
type Summary struct {
	TotalProviders int
	TotalEmployers int
	Roles          []string
	Specialties    []string
	Employers      []string
}

type SummaryProjection struct {
	rows       map[SummaryKey]Summary
	keys       []SummaryKey
	byFacility map[string][]SummaryKey
}

func (p *SummaryProjection) Get(k SummaryKey) (Summary, bool) {
	s, ok := p.rows[k]
	return s, ok
}

func (p *SummaryProjection) FacilityKeys(facility string) []SummaryKey {
	return p.byFacility[facility]
}

func (p *SummaryProjection) Keys() []SummaryKey { return p.keys }

func (p *SummaryProjection) Len() int { return len(p.keys) }
