package projection

import "time"

// Projection names used in row-count reports and snapshot files.
const (
	NameRoleSpecialty = "role_specialty"
	NameEmployers     = "employers"
	NameProviderNames = "provider_names"
	NameSummaries     = "facility_summaries"
)

// Version is one consistent build of all four projections from a single
// source pass. Versions are immutable once built; readers pin a *Version
// for the duration of a call and never see a partial build.
type Version struct {
	ID      string
	BuiltAt time.Time

	Dict          *ProviderDict
	RoleSpecialty *RoleSpecialtyProjection
	Employers     *EmployerProjection
	Names         *ProviderNameProjection
	Summaries     *SummaryProjection

	// SourceRows is the total number of source rows the build consumed,
	// kept for validation (source non-empty => projections non-empty).
	SourceRows int
}

// RowCounts reports the key count per projection.
func (v *Version) RowCounts() map[string]int {
	return map[string]int{
		NameRoleSpecialty: v.RoleSpecialty.Len(),
		NameEmployers:     v.Employers.Len(),
		NameProviderNames: v.Names.Len(),
		NameSummaries:     v.Summaries.Len(),
	}
}
