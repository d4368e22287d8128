// Package source reads the normalized provider directory schema. The engine
// never writes here: upstream systems own these tables.
package source

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks the source store as unreachable or corrupt. A refresh
// that hits this must leave the active derived version untouched.
var ErrUnavailable = errors.New("source store unavailable")

// Unavailable wraps err so callers can match it with errors.Is(err, ErrUnavailable).
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Entity is an organization or person row. Facilities and employers are both
// entities; IsEmployer separates them.
type Entity struct {
	NPIOrCCN   string
	Name       string
	IsEmployer bool
	Subtype    string
	State      string
}

// Provider is an individual practitioner row.
type Provider struct {
	NPI         string
	FirstName   string
	LastName    string
	Credentials string
}

// TaxonomyAssignment links a provider to a taxonomy code. Many-to-many:
// a provider may carry several codes.
type TaxonomyAssignment struct {
	NPI      string
	NUCCCode string
}

// Classification maps a taxonomy code to exactly one (role, specialty) pair.
// The lookup is a function: one code never maps to two pairs.
type Classification struct {
	NUCCCode  string
	Role      string
	Specialty string
}

// FacilityMembership states that a provider works at a facility.
type FacilityMembership struct {
	ProviderID string
	FacilityID string
}

// EmployerLink states that a provider works at a facility and is employed
// by an employer entity.
type EmployerLink struct {
	ProviderID string
	FacilityID string
	EmployerID string
}

// Snapshot is one consistent read of every table the builder joins over.
type Snapshot struct {
	Entities        []Entity
	Providers       []Provider
	Taxonomies      []TaxonomyAssignment
	Classifications []Classification
	Memberships     []FacilityMembership
	Links           []EmployerLink
}

// Store produces snapshots of the normalized schema.
type Store interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}
