// Package query serves reads against the active derived version. A call
// pins one version at entry and never observes a refresh mid-flight.
package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/RoaringBitmap/roaring"
	"github.com/VictoriaMetrics/metrics"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentic-research/facet/api"
	"github.com/agentic-research/facet/internal/projection"
	"github.com/agentic-research/facet/internal/store"
)

// ErrStoreEmpty is returned when no derived version has been built yet.
// An unknown facility is not an error: it yields an empty result.
var ErrStoreEmpty = errors.New("no derived version available")

const (
	DefaultPageSize = 25
	MaxPageSize     = 100

	cacheSize = 1024
)

var (
	searchTotal     = metrics.NewCounter(`facet_search_total`)
	searchCacheHits = metrics.NewCounter(`facet_search_cache_hits_total`)
)

// pageKey identifies a cached page. The version ID is part of the key, so a
// swap invalidates by construction: entries for retired versions simply
// stop being asked for and age out.
type pageKey struct {
	versionID string
	facility  string
	filters   api.SearchFilters
	sortKey   string
	page      int
	pageSize  int
}

// Engine answers faceted provider searches and summary lookups from the
// projections. It holds no mutable state of its own beyond the page cache.
type Engine struct {
	active *store.ActiveRef
	cache  *lru.Cache[pageKey, api.SearchPage]
}

func NewEngine(active *store.ActiveRef) *Engine {
	cache, err := lru.New[pageKey, api.SearchPage](cacheSize)
	if err != nil {
		// Only possible with a non-positive size.
		panic(err)
	}
	return &Engine{active: active, cache: cache}
}

// Search returns one page of providers at a facility matching the filters.
// Filters combine with AND; absent filters match everything. Pagination is
// stable within a version: the same query and page always return the same
// rows until a newer version goes active.
func (e *Engine) Search(ctx context.Context, facilityID string, filters api.SearchFilters, sortKey string, page, pageSize int) (api.SearchPage, error) {
	if err := ctx.Err(); err != nil {
		return api.SearchPage{}, err
	}
	searchTotal.Inc()

	v := e.active.Active()
	if v == nil {
		return api.SearchPage{}, ErrStoreEmpty
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if sortKey != api.SortName {
		sortKey = api.SortDefault
	}

	// Filter values join the projections' key space, so they normalize the
	// same way the keys did at build time.
	filters = api.SearchFilters{
		Role:               projection.Norm(filters.Role),
		Specialty:          projection.Norm(filters.Specialty),
		NamePrefix:         projection.Norm(filters.NamePrefix),
		EmployerNamePrefix: projection.Norm(filters.EmployerNamePrefix),
	}

	key := pageKey{
		versionID: v.ID,
		facility:  facilityID,
		filters:   filters,
		sortKey:   sortKey,
		page:      page,
		pageSize:  pageSize,
	}
	if cached, ok := e.cache.Get(key); ok {
		searchCacheHits.Inc()
		return cached, nil
	}

	result := e.search(v, facilityID, filters, sortKey, page, pageSize)
	e.cache.Add(key, result)
	return result, nil
}

func (e *Engine) search(v *projection.Version, facilityID string, filters api.SearchFilters, sortKey string, page, pageSize int) api.SearchPage {
	empty := api.SearchPage{
		Results:   []api.ProviderResult{},
		Page:      page,
		PageSize:  pageSize,
		VersionID: v.ID,
	}

	base := v.Names.FacilityProviders(facilityID)
	if base == nil {
		return empty
	}
	matched := base.Clone()

	if filters.Role != "" || filters.Specialty != "" {
		matched.And(e.classificationSet(v, facilityID, filters.Role, filters.Specialty))
	}
	if matched.IsEmpty() {
		return empty
	}

	if filters.NamePrefix != "" {
		matched.And(e.namePrefixSet(v, facilityID, filters.NamePrefix))
		if matched.IsEmpty() {
			return empty
		}
	}

	if filters.EmployerNamePrefix != "" {
		matched.And(e.employerPrefixSet(v, facilityID, filters.EmployerNamePrefix))
		if matched.IsEmpty() {
			return empty
		}
	}

	rows := collectProviders(v, facilityID, filters, matched)

	switch sortKey {
	case api.SortName:
		sort.Slice(rows, func(i, j int) bool {
			a, b := rows[i], rows[j]
			if a.name.Last != b.name.Last {
				return a.name.Last < b.name.Last
			}
			if a.name.First != b.name.First {
				return a.name.First < b.name.First
			}
			return a.providerID < b.providerID
		})
	default:
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].providerID < rows[j].providerID
		})
	}

	total := len(rows)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	results := make([]api.ProviderResult, 0, end-start)
	for _, r := range rows[start:end] {
		results = append(results, api.ProviderResult{
			FacilityID:  facilityID,
			ProviderID:  r.providerID,
			FirstName:   titleCase(r.name.First),
			LastName:    titleCase(r.name.Last),
			Roles:       sortedSet(r.roles),
			Specialties: sortedSet(r.specialties),
		})
	}

	return api.SearchPage{
		Results:       results,
		TotalEstimate: total,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    totalPages,
		VersionID:     v.ID,
	}
}

// classificationSet ORs the provider sets of every (role, specialty) row at
// the facility that matches the filters.
func (e *Engine) classificationSet(v *projection.Version, facilityID, role, specialty string) *roaring.Bitmap {
	keys := v.RoleSpecialty.FacilityKeys(facilityID)
	if role != "" {
		keys = v.RoleSpecialty.FacilityRoleKeys(facilityID, role)
	}
	out := roaring.New()
	for _, k := range keys {
		if specialty != "" && k.Specialty != specialty {
			continue
		}
		if bm := v.RoleSpecialty.Providers(k); bm != nil {
			out.Or(bm)
		}
	}
	return out
}

// namePrefixSet collects providers at the facility whose first or last name
// starts with the (normalized) prefix.
func (e *Engine) namePrefixSet(v *projection.Version, facilityID, prefix string) *roaring.Bitmap {
	out := roaring.New()
	for _, k := range v.Names.FacilityKeys(facilityID) {
		name, _ := v.Names.Name(k)
		if !strings.HasPrefix(name.First, prefix) && !strings.HasPrefix(name.Last, prefix) {
			continue
		}
		if ord, ok := v.Dict.Ordinal(k.Provider); ok {
			out.Add(ord)
		}
	}
	return out
}

// employerPrefixSet collects providers linked at the facility to an employer
// whose name starts with the (normalized) prefix.
func (e *Engine) employerPrefixSet(v *projection.Version, facilityID, prefix string) *roaring.Bitmap {
	out := roaring.New()
	for _, k := range v.Employers.FacilityKeys(facilityID) {
		name, ok := v.Employers.Name(k)
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		if bm := v.Employers.Providers(k); bm != nil {
			out.Or(bm)
		}
	}
	return out
}

type providerRow struct {
	providerID  string
	name        projection.ProviderName
	roles       map[string]struct{}
	specialties map[string]struct{}
}

// collectProviders walks the facility's name rows once, grouping the rows of
// matched providers. Classification values are restricted to rows that
// satisfy the role/specialty filters, so the reported Roles/Specialties are
// the ones that actually matched.
func collectProviders(v *projection.Version, facilityID string, filters api.SearchFilters, matched *roaring.Bitmap) []*providerRow {
	byProvider := make(map[string]*providerRow)
	order := make([]*providerRow, 0)

	for _, k := range v.Names.FacilityKeys(facilityID) {
		ord, ok := v.Dict.Ordinal(k.Provider)
		if !ok || !matched.Contains(ord) {
			continue
		}
		if filters.Role != "" && k.Role != filters.Role {
			continue
		}
		if filters.Specialty != "" && k.Specialty != filters.Specialty {
			continue
		}
		row := byProvider[k.Provider]
		if row == nil {
			name, _ := v.Names.Name(k)
			row = &providerRow{
				providerID:  k.Provider,
				name:        name,
				roles:       make(map[string]struct{}),
				specialties: make(map[string]struct{}),
			}
			byProvider[k.Provider] = row
			order = append(order, row)
		}
		if k.Role != "" {
			row.roles[k.Role] = struct{}{}
		}
		if k.Specialty != "" {
			row.specialties[k.Specialty] = struct{}{}
		}
	}
	return order
}

// Facets returns the (role, specialty) aggregation rows for a facility with
// their distinct provider counts. Default order is the canonical
// (role, specialty) ascending; SortCount orders by count descending with
// the canonical order breaking ties. An unknown facility yields an empty
// slice, not an error.
func (e *Engine) Facets(ctx context.Context, facilityID, sortKey string) ([]api.FacetCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := e.active.Active()
	if v == nil {
		return nil, ErrStoreEmpty
	}

	keys := v.RoleSpecialty.FacilityKeys(facilityID)
	out := make([]api.FacetCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, api.FacetCount{
			Role:      k.Role,
			Specialty: k.Specialty,
			Count:     v.RoleSpecialty.Count(k),
		})
	}
	if sortKey == api.SortCount {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Count > out[j].Count
		})
	}
	return out, nil
}

// Summaries returns the summary rows for a facility. An empty subtype
// returns every row; a named subtype narrows to that one, matched
// case-insensitively like every other text filter. An unknown facility
// yields an empty slice, not an error.
func (e *Engine) Summaries(ctx context.Context, facilityID, subtype string) ([]api.FacilitySummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := e.active.Active()
	if v == nil {
		return nil, ErrStoreEmpty
	}

	out := []api.FacilitySummary{}
	for _, k := range v.Summaries.FacilityKeys(facilityID) {
		if subtype != "" && !strings.EqualFold(k.Subtype, subtype) {
			continue
		}
		s, _ := v.Summaries.Get(k)
		out = append(out, api.FacilitySummary{
			FacilityID:     k.Facility,
			Subtype:        k.Subtype,
			TotalProviders: s.TotalProviders,
			TotalEmployers: s.TotalEmployers,
			Roles:          s.Roles,
			Specialties:    s.Specialties,
			Employers:      s.Employers,
		})
	}
	return out, nil
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// titleCase upper-cases the first letter of each space- or hyphen-separated
// word of an already-lowercased name.
func titleCase(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	upperNext := true
	for _, r := range s {
		if upperNext && r != ' ' && r != '-' {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		if r == ' ' || r == '-' {
			upperNext = true
		}
		b.WriteRune(r)
	}
	return b.String()
}
