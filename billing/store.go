/*
store.go - Persistence interfaces for rate versions and fee details

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage; the
  domain services never see SQL.

KEY INTERFACES:
  RateStore:    Rate version history (insert, close, point queries)
  TxRateStore:  RateStore plus transactional scoping for close+create pairs
  DetailStore:  Fee-detail rows (insert, batch insert, aggregate reads)

APPEND-ONLY CONTRACT (rate versions):
  Rate versions are never deleted. The only mutation is CloseVersion, which
  sets the end date and clears the active flag when a version is superseded.
  The authoritative "one open version per concept" invariant belongs to the
  store (a partial unique index in SQLite); the service-level check only
  exists to produce a friendlier error first.

ATOMIC BATCHES:
  InsertDetails ensures all-or-nothing semantics: one breakdown run's rows
  are either all visible or none. WithTx gives the versioning service the
  same guarantee across its close+create pair.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - billing/store/memory.go: In-memory for testing

SEE ALSO:
  - rates.go: RateHistory / RateVersioningService over RateStore
  - ledger.go: FeeDetailLedger over DetailStore
*/
package billing

import "context"

// =============================================================================
// RATE STORE
// =============================================================================

// RateStore persists the append-only rate version history.
type RateStore interface {
	// InsertVersion appends a version. Inserting an open version while the
	// concept already has one fails with ErrOverlappingRate.
	InsertVersion(ctx context.Context, v RateVersion) error

	// CloseVersion sets the end date on a version and clears its active flag.
	// Returns ErrRateVersionNotFound for an unknown ID.
	CloseVersion(ctx context.Context, id VersionID, end Date) error

	// OpenVersion returns the concept's currently open active version,
	// or nil when there is none.
	OpenVersion(ctx context.Context, conceptName string) (*RateVersion, error)

	// VersionsByConcept returns the concept's full history, newest start first.
	VersionsByConcept(ctx context.Context, conceptName string) ([]RateVersion, error)
}

// TxRateStore wraps RateStore with transaction support. Used by
// SupersedeAndReplace so the close and the create commit together.
type TxRateStore interface {
	RateStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(RateStore) error) error
}

// =============================================================================
// DETAIL STORE
// =============================================================================

// DetailStore persists itemized fee details.
type DetailStore interface {
	// InsertDetail persists a single detail row.
	InsertDetail(ctx context.Context, d FeeDetail) error

	// InsertDetails persists a batch atomically. Either all rows become
	// visible or none do.
	InsertDetails(ctx context.Context, ds []FeeDetail) error

	// Detail returns one row by ID, or ErrDetailNotFound.
	Detail(ctx context.Context, id DetailID) (*FeeDetail, error)

	// DetailsByUnit returns all rows for a unit, oldest first.
	DetailsByUnit(ctx context.Context, unitID UnitID) ([]FeeDetail, error)

	// UpdateAmount replaces the applied amount of one row. The concept and
	// unit association never change.
	UpdateAmount(ctx context.Context, id DetailID, amount Money) error

	// DeleteDetail removes one row, or ErrDetailNotFound.
	DeleteDetail(ctx context.Context, id DetailID) error

	// DeleteDetailsByUnit removes all rows for a unit and returns the count.
	DeleteDetailsByUnit(ctx context.Context, unitID UnitID) (int, error)
}
