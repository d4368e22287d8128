package store

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/facet/internal/projection"
)

// Snapshot persistence: a built Version can be written to a single SQLite
// file and loaded back, e.g. to warm-start the engine without a source
// pass, or to hand a build result to the CLI. Provider sets are stored as
// serialized roaring bitmaps; summary lists as JSON.

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS provider_dict (
	ordinal INTEGER PRIMARY KEY,
	provider_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS role_specialty (
	facility TEXT NOT NULL,
	role TEXT NOT NULL,
	specialty TEXT NOT NULL,
	providers BLOB,
	PRIMARY KEY (facility, role, specialty)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS employers (
	facility TEXT NOT NULL,
	employer TEXT NOT NULL,
	role TEXT NOT NULL,
	specialty TEXT NOT NULL,
	name TEXT NOT NULL,
	providers BLOB,
	PRIMARY KEY (facility, employer, role, specialty)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS provider_names (
	facility TEXT NOT NULL,
	provider TEXT NOT NULL,
	role TEXT NOT NULL,
	specialty TEXT NOT NULL,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	PRIMARY KEY (facility, provider, role, specialty)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS facility_summaries (
	facility TEXT NOT NULL,
	subtype TEXT NOT NULL,
	total_providers INTEGER NOT NULL,
	total_employers INTEGER NOT NULL,
	roles_json TEXT NOT NULL,
	specialties_json TEXT NOT NULL,
	employers_json TEXT NOT NULL,
	PRIMARY KEY (facility, subtype)
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS facility_providers (
	facility TEXT PRIMARY KEY,
	providers BLOB
) WITHOUT ROWID;
`

// WriteSnapshot writes v to a fresh SQLite file at path, replacing any
// existing file. All rows go in one transaction with bulk-insert pragmas,
// same tuning as a cold ingest.
func WriteSnapshot(path string, v *projection.Version) (err error) {
	_ = os.Remove(path) // overwrite

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		return err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		return err
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		return fmt.Errorf("create snapshot schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }() // no-op if committed

	metaStmt, err := tx.Prepare("INSERT INTO meta (key, value) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = metaStmt.Close() }()
	meta := map[string]string{
		"version_id":  v.ID,
		"built_at":    v.BuiltAt.Format(time.RFC3339Nano),
		"source_rows": strconv.Itoa(v.SourceRows),
	}
	for k, val := range meta {
		if _, err := metaStmt.Exec(k, val); err != nil {
			return fmt.Errorf("insert meta %s: %w", k, err)
		}
	}

	dictStmt, err := tx.Prepare("INSERT INTO provider_dict (ordinal, provider_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = dictStmt.Close() }()
	for ord, id := range v.Dict.IDs() {
		if _, err := dictStmt.Exec(ord, id); err != nil {
			return fmt.Errorf("insert dict row: %w", err)
		}
	}

	rsStmt, err := tx.Prepare("INSERT INTO role_specialty (facility, role, specialty, providers) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = rsStmt.Close() }()
	for _, k := range v.RoleSpecialty.Keys() {
		blob, err := bitmapBytes(v.RoleSpecialty.Providers(k))
		if err != nil {
			return err
		}
		if _, err := rsStmt.Exec(k.Facility, k.Role, k.Specialty, blob); err != nil {
			return fmt.Errorf("insert role_specialty row: %w", err)
		}
	}

	empStmt, err := tx.Prepare("INSERT INTO employers (facility, employer, role, specialty, name, providers) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = empStmt.Close() }()
	for _, k := range v.Employers.Keys() {
		name, _ := v.Employers.Name(k)
		blob, err := bitmapBytes(v.Employers.Providers(k))
		if err != nil {
			return err
		}
		if _, err := empStmt.Exec(k.Facility, k.Employer, k.Role, k.Specialty, name, blob); err != nil {
			return fmt.Errorf("insert employers row: %w", err)
		}
	}

	nameStmt, err := tx.Prepare("INSERT INTO provider_names (facility, provider, role, specialty, first_name, last_name) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = nameStmt.Close() }()
	for _, k := range v.Names.Keys() {
		n, _ := v.Names.Name(k)
		if _, err := nameStmt.Exec(k.Facility, k.Provider, k.Role, k.Specialty, n.First, n.Last); err != nil {
			return fmt.Errorf("insert provider_names row: %w", err)
		}
	}

	sumStmt, err := tx.Prepare("INSERT INTO facility_summaries (facility, subtype, total_providers, total_employers, roles_json, specialties_json, employers_json) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = sumStmt.Close() }()
	for _, k := range v.Summaries.Keys() {
		s, _ := v.Summaries.Get(k)
		if _, err := sumStmt.Exec(k.Facility, k.Subtype, s.TotalProviders, s.TotalEmployers,
			oj.JSON(s.Roles), oj.JSON(s.Specialties), oj.JSON(s.Employers)); err != nil {
			return fmt.Errorf("insert facility_summaries row: %w", err)
		}
	}

	fpStmt, err := tx.Prepare("INSERT INTO facility_providers (facility, providers) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = fpStmt.Close() }()
	for _, k := range v.Summaries.Keys() {
		bm := v.Names.FacilityProviders(k.Facility)
		if bm == nil {
			continue
		}
		blob, err := bitmapBytes(bm)
		if err != nil {
			return err
		}
		if _, err := fpStmt.Exec(k.Facility, blob); err != nil {
			return fmt.Errorf("insert facility_providers row: %w", err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot reads a Version back from a snapshot file. A missing file
// surfaces as an fs error satisfying os.IsNotExist.
func LoadSnapshot(path string) (*projection.Version, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	meta := make(map[string]string)
	if err := scanRows(db, "SELECT key, value FROM meta", func(rows *sql.Rows) error {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		meta[k] = v
		return nil
	}); err != nil {
		return nil, err
	}

	var ids []string
	if err := scanRows(db, "SELECT provider_id FROM provider_dict ORDER BY ordinal", func(rows *sql.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	}); err != nil {
		return nil, err
	}

	rsRows := make(map[projection.RoleSpecialtyKey]*roaring.Bitmap)
	if err := scanRows(db, "SELECT facility, role, specialty, providers FROM role_specialty", func(rows *sql.Rows) error {
		var k projection.RoleSpecialtyKey
		var blob []byte
		if err := rows.Scan(&k.Facility, &k.Role, &k.Specialty, &blob); err != nil {
			return err
		}
		bm, err := bitmapFromBytes(blob)
		if err != nil {
			return err
		}
		if bm == nil {
			bm = roaring.New()
		}
		rsRows[k] = bm
		return nil
	}); err != nil {
		return nil, err
	}

	empNames := make(map[projection.EmployerKey]string)
	empProviders := make(map[projection.EmployerKey]*roaring.Bitmap)
	if err := scanRows(db, "SELECT facility, employer, role, specialty, name, providers FROM employers", func(rows *sql.Rows) error {
		var k projection.EmployerKey
		var name string
		var blob []byte
		if err := rows.Scan(&k.Facility, &k.Employer, &k.Role, &k.Specialty, &name, &blob); err != nil {
			return err
		}
		empNames[k] = name
		bm, err := bitmapFromBytes(blob)
		if err != nil {
			return err
		}
		if bm != nil {
			empProviders[k] = bm
		}
		return nil
	}); err != nil {
		return nil, err
	}

	nameRows := make(map[projection.ProviderNameKey]projection.ProviderName)
	if err := scanRows(db, "SELECT facility, provider, role, specialty, first_name, last_name FROM provider_names", func(rows *sql.Rows) error {
		var k projection.ProviderNameKey
		var n projection.ProviderName
		if err := rows.Scan(&k.Facility, &k.Provider, &k.Role, &k.Specialty, &n.First, &n.Last); err != nil {
			return err
		}
		nameRows[k] = n
		return nil
	}); err != nil {
		return nil, err
	}

	sumRows := make(map[projection.SummaryKey]projection.Summary)
	if err := scanRows(db, "SELECT facility, subtype, total_providers, total_employers, roles_json, specialties_json, employers_json FROM facility_summaries", func(rows *sql.Rows) error {
		var k projection.SummaryKey
		var s projection.Summary
		var rolesJSON, specialtiesJSON, employersJSON string
		if err := rows.Scan(&k.Facility, &k.Subtype, &s.TotalProviders, &s.TotalEmployers,
			&rolesJSON, &specialtiesJSON, &employersJSON); err != nil {
			return err
		}
		var err error
		if s.Roles, err = stringList(rolesJSON); err != nil {
			return err
		}
		if s.Specialties, err = stringList(specialtiesJSON); err != nil {
			return err
		}
		if s.Employers, err = stringList(employersJSON); err != nil {
			return err
		}
		sumRows[k] = s
		return nil
	}); err != nil {
		return nil, err
	}

	facilityProviders := make(map[string]*roaring.Bitmap)
	if err := scanRows(db, "SELECT facility, providers FROM facility_providers", func(rows *sql.Rows) error {
		var facility string
		var blob []byte
		if err := rows.Scan(&facility, &blob); err != nil {
			return err
		}
		bm, err := bitmapFromBytes(blob)
		if err != nil {
			return err
		}
		if bm != nil {
			facilityProviders[facility] = bm
		}
		return nil
	}); err != nil {
		return nil, err
	}

	builtAt, err := time.Parse(time.RFC3339Nano, meta["built_at"])
	if err != nil {
		return nil, fmt.Errorf("parse built_at: %w", err)
	}
	sourceRows, err := strconv.Atoi(meta["source_rows"])
	if err != nil {
		return nil, fmt.Errorf("parse source_rows: %w", err)
	}

	return &projection.Version{
		ID:            meta["version_id"],
		BuiltAt:       builtAt,
		Dict:          projection.NewProviderDict(ids),
		RoleSpecialty: projection.NewRoleSpecialtyProjection(rsRows),
		Employers:     projection.NewEmployerProjection(empNames, empProviders),
		Names:         projection.NewProviderNameProjection(nameRows, facilityProviders),
		Summaries:     projection.NewSummaryProjection(sumRows),
		SourceRows:    sourceRows,
	}, nil
}

func scanRows(db *sql.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.Query(query)
	if err != nil {
		return fmt.Errorf("query snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan snapshot row: %w", err)
		}
	}
	return rows.Err()
}

func bitmapBytes(bm *roaring.Bitmap) ([]byte, error) {
	if bm == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize bitmap: %w", err)
	}
	return buf.Bytes(), nil
}

func bitmapFromBytes(blob []byte) (*roaring.Bitmap, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(blob)); err != nil {
		return nil, fmt.Errorf("deserialize bitmap: %w", err)
	}
	return bm, nil
}

func stringList(jsonText string) ([]string, error) {
	if jsonText == "" || jsonText == "null" {
		return nil, nil
	}
	parsed, err := oj.ParseString(jsonText)
	if err != nil {
		return nil, fmt.Errorf("parse list json: %w", err)
	}
	items, ok := parsed.([]any)
	if !ok {
		return nil, fmt.Errorf("list json is not an array: %s", jsonText)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, fmt.Errorf("list json element is not a string: %v", it)
		}
		out = append(out, s)
	}
	return out, nil
}
