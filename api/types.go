// Package api defines the plain structured types the engine exchanges with
// its callers. An HTTP layer (or any other surface) maps these to a wire
// format; the engine itself never mandates one.
package api

import "time"

// SearchFilters narrows a facility provider search. Every field is optional;
// present fields combine with logical AND. All text matching is
// case-insensitive.
type SearchFilters struct {
	Role               string
	Specialty          string
	NamePrefix         string
	EmployerNamePrefix string
}

// Sort keys accepted by the query engine. Anything else falls back to
// SortDefault. SortCount only applies to facet aggregation.
const (
	SortDefault = ""      // facility asc, then provider asc
	SortName    = "name"  // last name, first name, then provider
	SortCount   = "count" // facet count descending
)

// ProviderResult is one provider matched at a facility. Roles and
// Specialties are the distinct classification values that matched the
// filters, sorted ascending. Names are title-cased for display.
type ProviderResult struct {
	FacilityID  string
	ProviderID  string
	FirstName   string
	LastName    string
	Roles       []string
	Specialties []string
}

// SearchPage is one page of search results, pinned to a single derived
// version: TotalEstimate and Results never mix state from two refreshes.
type SearchPage struct {
	Results       []ProviderResult
	TotalEstimate int
	Page          int
	PageSize      int
	TotalPages    int
	VersionID     string
}

// FacetCount is one (role, specialty) aggregation row at a facility with
// its distinct provider count.
type FacetCount struct {
	Role      string
	Specialty string
	Count     int
}

// FacilitySummary carries the denormalized display aggregates for a
// facility. List fields are sorted ascending.
type FacilitySummary struct {
	FacilityID     string
	Subtype        string
	TotalProviders int
	TotalEmployers int
	Roles          []string
	Specialties    []string
	Employers      []string
}

// RefreshReport describes the outcome of one refresh cycle. Coalesced is
// true when the caller was attached to an already in-flight build instead
// of starting its own.
type RefreshReport struct {
	VersionID         string
	BuiltAt           time.Time
	RowsPerProjection map[string]int
	Coalesced         bool
}

// Health is a point-in-time snapshot of the engine's refresh state.
type Health struct {
	ActiveVersionID   string
	StalenessSeconds  float64
	LastRefreshStatus string
}
