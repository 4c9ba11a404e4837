/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the billing persistence interfaces (RateStore, TxRateStore,
  DetailStore) plus the unit registry and breakdown run audit tables. In
  production the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  units:          Transport unit reference data
  rate_versions:  Append-only rate history per concept
  fee_details:    Itemized charges against units
  breakdown_runs: Audit log of breakdown invocations

INVARIANT ENFORCEMENT:
  The "at most one open active rate version per concept" invariant is
  authoritative here, via a partial unique index:

    CREATE UNIQUE INDEX idx_rate_versions_open
        ON rate_versions(concept) WHERE end_date IS NULL AND active = TRUE

  The service-level overlap check only exists to give callers a friendlier
  error before the constraint fires. Two concurrent open/supersede calls for
  the same concept cannot both commit an open version.

APPEND-ONLY CONTRACT:
  rate_versions has no DELETE path; the only UPDATE sets end_date + active
  when a version is closed. Historical windows stay queryable forever.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block and there is a single writer at a time.

USAGE:
  store, err := sqlite.New("./data/tariff.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/tariff-engine/billing"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transport units (reference data)
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		plate TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- Rate versions (append-only history; closing sets end_date + active=false)
	CREATE TABLE IF NOT EXISTS rate_versions (
		id TEXT PRIMARY KEY,
		concept TEXT NOT NULL,
		value TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rate_versions_concept
		ON rate_versions(concept, start_date DESC);

	-- CRITICAL: at most one open active version per concept. This index is
	-- the authoritative no-overlap invariant; application checks only give
	-- a friendlier error first.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rate_versions_open
		ON rate_versions(concept) WHERE end_date IS NULL AND active = TRUE;

	-- Fee details (itemized charges)
	CREATE TABLE IF NOT EXISTS fee_details (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL,
		concept TEXT NOT NULL,
		amount TEXT NOT NULL,
		source_tag TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fee_details_unit
		ON fee_details(unit_id);
	CREATE INDEX IF NOT EXISTS idx_fee_details_unit_concept
		ON fee_details(unit_id, concept);

	-- Breakdown runs (audit of import/recompute invocations)
	CREATE TABLE IF NOT EXISTS breakdown_runs (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL,
		status TEXT NOT NULL,
		exempt BOOLEAN NOT NULL DEFAULT FALSE,
		total_applied TEXT,
		detail_count INTEGER NOT NULL DEFAULT 0,
		warnings_json TEXT,
		error TEXT,
		source_tag TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_breakdown_runs_unit
		ON breakdown_runs(unit_id);
	CREATE INDEX IF NOT EXISTS idx_breakdown_runs_status
		ON breakdown_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// RATE STORE (billing.RateStore interface)
// =============================================================================

// InsertVersion appends a rate version. The partial unique index rejects a
// second open active version for the same concept.
func (s *Store) InsertVersion(ctx context.Context, v billing.RateVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertVersion(ctx, s.db, v)
}

func insertVersion(ctx context.Context, db execer, v billing.RateVersion) error {
	var endDate any
	if v.EndDate != nil {
		endDate = v.EndDate.String()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO rate_versions (id, concept, value, start_date, end_date, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		string(v.ID),
		v.ConceptName,
		v.Value.Value.String(),
		v.StartDate.String(),
		endDate,
		v.Active,
		v.CreatedAt.UTC().Format(time.RFC3339),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrOverlappingRate
		}
		return fmt.Errorf("failed to insert rate version: %w", err)
	}
	return nil
}

// CloseVersion closes one version. The only UPDATE this table ever sees.
func (s *Store) CloseVersion(ctx context.Context, id billing.VersionID, end billing.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return closeVersion(ctx, s.db, id, end)
}

func closeVersion(ctx context.Context, db execer, id billing.VersionID, end billing.Date) error {
	res, err := db.ExecContext(ctx,
		"UPDATE rate_versions SET end_date = ?, active = FALSE WHERE id = ?",
		end.String(), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to close rate version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrRateVersionNotFound
	}
	return nil
}

// OpenVersion returns the concept's currently open active version, or nil.
func (s *Store) OpenVersion(ctx context.Context, conceptName string) (*billing.RateVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return openVersion(ctx, s.db, conceptName)
}

func openVersion(ctx context.Context, db querier, conceptName string) (*billing.RateVersion, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, concept, value, start_date, end_date, active, created_at
		FROM rate_versions
		WHERE concept = ? AND end_date IS NULL AND active = TRUE
	`, conceptName)

	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// VersionsByConcept returns the full history, newest start first.
func (s *Store) VersionsByConcept(ctx context.Context, conceptName string) ([]billing.RateVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return versionsByConcept(ctx, s.db, conceptName)
}

func versionsByConcept(ctx context.Context, db querier, conceptName string) ([]billing.RateVersion, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, concept, value, start_date, end_date, active, created_at
		FROM rate_versions
		WHERE concept = ?
		ORDER BY start_date DESC, created_at DESC
	`, conceptName)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate versions: %w", err)
	}
	defer rows.Close()

	var versions []billing.RateVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(r rowScanner) (*billing.RateVersion, error) {
	var (
		v         billing.RateVersion
		id        string
		value     string
		startDate string
		endDate   sql.NullString
		createdAt string
	)
	if err := r.Scan(&id, &v.ConceptName, &value, &startDate, &endDate, &v.Active, &createdAt); err != nil {
		return nil, err
	}
	v.ID = billing.VersionID(id)
	v.Value = billing.MustParseMoney(value)
	start, err := billing.ParseDate(startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start date: %w", err)
	}
	v.StartDate = start
	if endDate.Valid {
		end, err := billing.ParseDate(endDate.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end date: %w", err)
		}
		v.EndDate = &end
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &v, nil
}

// =============================================================================
// TRANSACTIONAL RATE STORE (billing.TxRateStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Used by
// supersede-and-replace so the close+create pair commits atomically.
func (s *Store) WithTx(ctx context.Context, fn func(billing.RateStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txRateStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txRateStore struct {
	tx *sql.Tx
}

func (ts *txRateStore) InsertVersion(ctx context.Context, v billing.RateVersion) error {
	return insertVersion(ctx, ts.tx, v)
}

func (ts *txRateStore) CloseVersion(ctx context.Context, id billing.VersionID, end billing.Date) error {
	return closeVersion(ctx, ts.tx, id, end)
}

func (ts *txRateStore) OpenVersion(ctx context.Context, conceptName string) (*billing.RateVersion, error) {
	return openVersion(ctx, ts.tx, conceptName)
}

func (ts *txRateStore) VersionsByConcept(ctx context.Context, conceptName string) ([]billing.RateVersion, error) {
	return versionsByConcept(ctx, ts.tx, conceptName)
}

// =============================================================================
// DETAIL STORE (billing.DetailStore interface)
// =============================================================================

// InsertDetail persists one fee detail row.
func (s *Store) InsertDetail(ctx context.Context, d billing.FeeDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertDetail(ctx, s.db, d)
}

func insertDetail(ctx context.Context, db execer, d billing.FeeDetail) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO fee_details (id, unit_id, concept, amount, source_tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(d.ID),
		string(d.UnitID),
		d.ConceptName,
		d.AmountApplied.Value.String(),
		d.SourceTag,
		d.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fee detail: %w", err)
	}
	return nil
}

// InsertDetails persists a batch atomically.
func (s *Store) InsertDetails(ctx context.Context, ds []billing.FeeDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, d := range ds {
		if err := insertDetail(ctx, sqlTx, d); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// Detail returns one row by ID.
func (s *Store) Detail(ctx context.Context, id billing.DetailID) (*billing.FeeDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, unit_id, concept, amount, source_tag, created_at
		FROM fee_details WHERE id = ?
	`, string(id))

	d, err := scanDetail(row)
	if err == sql.ErrNoRows {
		return nil, billing.ErrDetailNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// DetailsByUnit returns all rows for a unit, oldest first.
func (s *Store) DetailsByUnit(ctx context.Context, unitID billing.UnitID) ([]billing.FeeDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit_id, concept, amount, source_tag, created_at
		FROM fee_details
		WHERE unit_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(unitID))
	if err != nil {
		return nil, fmt.Errorf("failed to query fee details: %w", err)
	}
	defer rows.Close()

	var details []billing.FeeDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, *d)
	}
	return details, rows.Err()
}

func scanDetail(r rowScanner) (*billing.FeeDetail, error) {
	var (
		d         billing.FeeDetail
		id        string
		unitID    string
		amount    string
		sourceTag sql.NullString
		createdAt string
	)
	if err := r.Scan(&id, &unitID, &d.ConceptName, &amount, &sourceTag, &createdAt); err != nil {
		return nil, err
	}
	d.ID = billing.DetailID(id)
	d.UnitID = billing.UnitID(unitID)
	d.AmountApplied = billing.MustParseMoney(amount)
	d.SourceTag = sourceTag.String
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &d, nil
}

// UpdateAmount replaces the applied amount of one row.
func (s *Store) UpdateAmount(ctx context.Context, id billing.DetailID, amount billing.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE fee_details SET amount = ? WHERE id = ?",
		amount.Value.String(), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update fee detail: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrDetailNotFound
	}
	return nil
}

// DeleteDetail removes one row.
func (s *Store) DeleteDetail(ctx context.Context, id billing.DetailID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM fee_details WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete fee detail: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrDetailNotFound
	}
	return nil
}

// DeleteDetailsByUnit removes all of a unit's rows and returns the count.
func (s *Store) DeleteDetailsByUnit(ctx context.Context, unitID billing.UnitID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM fee_details WHERE unit_id = ?", string(unitID))
	if err != nil {
		return 0, fmt.Errorf("failed to delete fee details: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// =============================================================================
// UNIT STORE
// =============================================================================

// Unit is a transport unit reference record. The billing core assumes unit
// existence was validated by the caller; this registry backs that validation
// at the API boundary.
type Unit struct {
	ID          string
	Description string
	Plate       string
	Active      bool
	CreatedAt   time.Time
}

// SaveUnit inserts or updates a unit.
func (s *Store) SaveUnit(ctx context.Context, u Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units (id, description, plate, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			plate = excluded.plate,
			active = excluded.active
	`,
		u.ID, u.Description, u.Plate, u.Active,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetUnit retrieves a unit by ID. Returns nil when absent.
func (s *Store) GetUnit(ctx context.Context, id string) (*Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u         Unit
		plate     sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, description, plate, active, created_at FROM units WHERE id = ?", id,
	).Scan(&u.ID, &u.Description, &plate, &u.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Plate = plate.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// ListUnits returns all units ordered by ID.
func (s *Store) ListUnits(ctx context.Context) ([]Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, description, plate, active, created_at FROM units ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var (
			u         Unit
			plate     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.Description, &plate, &u.Active, &createdAt); err != nil {
			return nil, err
		}
		u.Plate = plate.String
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		units = append(units, u)
	}
	return units, rows.Err()
}

// =============================================================================
// BREAKDOWN RUN AUDIT
// =============================================================================

// BreakdownRun records one breakdown invocation for audit purposes.
type BreakdownRun struct {
	ID           string
	UnitID       string
	Status       string // "success", "exempt", "failed"
	Exempt       bool
	TotalApplied string
	DetailCount  int
	Warnings     []string
	Error        string
	SourceTag    string
	CreatedAt    time.Time
}

// SaveBreakdownRun appends a run record.
func (s *Store) SaveBreakdownRun(ctx context.Context, run BreakdownRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	warningsJSON, _ := json.Marshal(run.Warnings)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breakdown_runs
		(id, unit_id, status, exempt, total_applied, detail_count, warnings_json, error, source_tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.UnitID, run.Status, run.Exempt, run.TotalApplied,
		run.DetailCount, string(warningsJSON), run.Error, run.SourceTag,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListBreakdownRuns returns runs, newest first, optionally filtered by unit.
func (s *Store) ListBreakdownRuns(ctx context.Context, unitID string) ([]BreakdownRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, unit_id, status, exempt, total_applied, detail_count, warnings_json, error, source_tag, created_at
		FROM breakdown_runs
	`
	var args []any
	if unitID != "" {
		query += " WHERE unit_id = ?"
		args = append(args, unitID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BreakdownRun
	for rows.Next() {
		var (
			run          BreakdownRun
			totalApplied sql.NullString
			warningsJSON sql.NullString
			runError     sql.NullString
			sourceTag    sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&run.ID, &run.UnitID, &run.Status, &run.Exempt,
			&totalApplied, &run.DetailCount, &warningsJSON, &runError, &sourceTag, &createdAt); err != nil {
			return nil, err
		}
		run.TotalApplied = totalApplied.String
		run.Error = runError.String
		run.SourceTag = sourceTag.String
		if warningsJSON.Valid && warningsJSON.String != "" {
			json.Unmarshal([]byte(warningsJSON.String), &run.Warnings)
		}
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
