package projection

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// Constructors take fully-populated row maps and freeze them: keys get a
// canonical sort and the per-facility prefix indexes are derived. Used by
// the builder and by the snapshot loader.

func NewProviderDict(ids []string) *ProviderDict {
	return newProviderDict(ids)
}

func NewRoleSpecialtyProjection(rows map[RoleSpecialtyKey]*roaring.Bitmap) *RoleSpecialtyProjection {
	p := &RoleSpecialtyProjection{
		rows:       rows,
		keys:       make([]RoleSpecialtyKey, 0, len(rows)),
		byFacility: make(map[string][]RoleSpecialtyKey),
	}
	for k := range rows {
		p.keys = append(p.keys, k)
	}
	sort.Slice(p.keys, func(i, j int) bool {
		a, b := p.keys[i], p.keys[j]
		if a.Facility != b.Facility {
			return a.Facility < b.Facility
		}
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		return a.Specialty < b.Specialty
	})
	for _, k := range p.keys {
		p.byFacility[k.Facility] = append(p.byFacility[k.Facility], k)
	}
	return p
}

func NewEmployerProjection(names map[EmployerKey]string, providers map[EmployerKey]*roaring.Bitmap) *EmployerProjection {
	p := &EmployerProjection{
		names:      names,
		providers:  providers,
		keys:       make([]EmployerKey, 0, len(names)),
		byFacility: make(map[string][]EmployerKey),
	}
	for k := range names {
		p.keys = append(p.keys, k)
	}
	sort.Slice(p.keys, func(i, j int) bool {
		a, b := p.keys[i], p.keys[j]
		if a.Facility != b.Facility {
			return a.Facility < b.Facility
		}
		if a.Employer != b.Employer {
			return a.Employer < b.Employer
		}
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		return a.Specialty < b.Specialty
	})
	for _, k := range p.keys {
		p.byFacility[k.Facility] = append(p.byFacility[k.Facility], k)
	}
	return p
}

func NewProviderNameProjection(rows map[ProviderNameKey]ProviderName, facilityProviders map[string]*roaring.Bitmap) *ProviderNameProjection {
	p := &ProviderNameProjection{
		rows:              rows,
		keys:              make([]ProviderNameKey, 0, len(rows)),
		byFacility:        make(map[string][]ProviderNameKey),
		facilityProviders: facilityProviders,
	}
	for k := range rows {
		p.keys = append(p.keys, k)
	}
	sort.Slice(p.keys, func(i, j int) bool {
		a, b := p.keys[i], p.keys[j]
		if a.Facility != b.Facility {
			return a.Facility < b.Facility
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		return a.Specialty < b.Specialty
	})
	for _, k := range p.keys {
		p.byFacility[k.Facility] = append(p.byFacility[k.Facility], k)
	}
	return p
}

func NewSummaryProjection(rows map[SummaryKey]Summary) *SummaryProjection {
	p := &SummaryProjection{
		rows:       rows,
		keys:       make([]SummaryKey, 0, len(rows)),
		byFacility: make(map[string][]SummaryKey),
	}
	for k := range rows {
		p.keys = append(p.keys, k)
	}
	sort.Slice(p.keys, func(i, j int) bool {
		a, b := p.keys[i], p.keys[j]
		if a.Facility != b.Facility {
			return a.Facility < b.Facility
		}
		return a.Subtype < b.Subtype
	})
	for _, k := range p.keys {
		p.byFacility[k.Facility] = append(p.byFacility[k.Facility], k)
	}
	return p
}
