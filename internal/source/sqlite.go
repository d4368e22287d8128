package source

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteStore reads the normalized schema from a SQLite database file.
// It opens one pooled connection set and streams each table row by row,
// so only one scanned row is alive at a time per table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the source database read-only.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, Unavailable("open source db", err)
	}
	// Read path only; keep the cache warm across the snapshot queries.
	if _, err := db.Exec("PRAGMA temp_store = MEMORY"); err != nil {
		_ = db.Close()
		return nil, Unavailable("tune source db", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Snapshot implements Store. The queries run back to back on the same
// database; the source is append-only between refreshes by contract, so
// no explicit read transaction is taken.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	err := s.stream(ctx, "entities",
		"SELECT npi_or_ccn, COALESCE(name,''), is_employer, COALESCE(subtype,''), COALESCE(state,'') FROM entities",
		func(rows *sql.Rows) error {
			var e Entity
			var isEmp int
			if err := rows.Scan(&e.NPIOrCCN, &e.Name, &isEmp, &e.Subtype, &e.State); err != nil {
				return err
			}
			e.IsEmployer = isEmp != 0
			snap.Entities = append(snap.Entities, e)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.stream(ctx, "providers",
		"SELECT npi, COALESCE(first_name,''), COALESCE(last_name,''), COALESCE(credentials,'') FROM providers",
		func(rows *sql.Rows) error {
			var p Provider
			if err := rows.Scan(&p.NPI, &p.FirstName, &p.LastName, &p.Credentials); err != nil {
				return err
			}
			snap.Providers = append(snap.Providers, p)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.stream(ctx, "provider_taxonomies",
		"SELECT npi, nucc_code FROM provider_taxonomies",
		func(rows *sql.Rows) error {
			var t TaxonomyAssignment
			if err := rows.Scan(&t.NPI, &t.NUCCCode); err != nil {
				return err
			}
			snap.Taxonomies = append(snap.Taxonomies, t)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.stream(ctx, "roles_specialties_classification",
		"SELECT nucc_code, COALESCE(role,''), COALESCE(specialty,'') FROM roles_specialties_classification",
		func(rows *sql.Rows) error {
			var c Classification
			if err := rows.Scan(&c.NUCCCode, &c.Role, &c.Specialty); err != nil {
				return err
			}
			snap.Classifications = append(snap.Classifications, c)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.stream(ctx, "provider_entities",
		"SELECT provider_id, npi_or_ccn FROM provider_entities",
		func(rows *sql.Rows) error {
			var m FacilityMembership
			if err := rows.Scan(&m.ProviderID, &m.FacilityID); err != nil {
				return err
			}
			snap.Memberships = append(snap.Memberships, m)
			return nil
		})
	if err != nil {
		return nil, err
	}

	err = s.stream(ctx, "provider_facility_employer_linked",
		"SELECT provider_id, facility_npi_or_ccn, employer_npi_or_ccn FROM provider_facility_employer_linked",
		func(rows *sql.Rows) error {
			var l EmployerLink
			if err := rows.Scan(&l.ProviderID, &l.FacilityID, &l.EmployerID); err != nil {
				return err
			}
			snap.Links = append(snap.Links, l)
			return nil
		})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

func (s *SQLiteStore) stream(ctx context.Context, table, query string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return Unavailable("query "+table, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		if err := scan(rows); err != nil {
			return Unavailable("scan "+table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return Unavailable("iterate "+table, err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
