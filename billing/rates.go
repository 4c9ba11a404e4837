/*
rates.go - Rate history lookup and version mutations

PURPOSE:
  RateHistory answers "what is the effective value of concept X on date D"
  with no ambiguity. RateVersioningService is the mutation side: opening the
  first version of a concept and the supersede-and-replace operation used for
  "replace the current rate going forward".

VERSIONING MODEL:
  Each concept has a single linear timeline of versions. Exactly one version
  may be open (no end date) and active at a time. Superseding closes the open
  version at newStart-1day and creates the replacement in the same storage
  transaction, so there is never a window with zero or two open versions.

WHY APPEND-ONLY?
  Bills must be recomputable and auditable after the fact: the closed
  intervals give an exact trail of what a fee cost on any historical date.

SEE ALSO:
  - store.go: RateStore / TxRateStore contracts
  - ledger.go: RecordFromRate consuming FindEffective
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RATE HISTORY - Point-in-time reads
// =============================================================================

type RateHistory struct {
	Catalog *ConceptCatalog
	Store   RateStore
}

func NewRateHistory(catalog *ConceptCatalog, store RateStore) *RateHistory {
	return &RateHistory{Catalog: catalog, Store: store}
}

// FindEffective returns the version covering the given date: among active
// versions with StartDate <= on and (no end date or EndDate >= on), the one
// with the latest start. Under the no-overlap invariant at most one exists.
// A concept with no covering version yields NoActiveRateError - never zero.
func (h *RateHistory) FindEffective(ctx context.Context, conceptName string, on Date) (*RateVersion, error) {
	concept, err := h.Catalog.Resolve(conceptName)
	if err != nil {
		return nil, err
	}
	if concept.Kind == KindManual {
		return nil, &KindError{ConceptName: conceptName, Kind: concept.Kind, Operation: "rate lookup"}
	}

	versions, err := h.Store.VersionsByConcept(ctx, conceptName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var best *RateVersion
	for i := range versions {
		v := versions[i]
		if !v.Covers(on) {
			continue
		}
		if best == nil || v.StartDate.After(best.StartDate) {
			best = &v
		}
	}
	if best == nil {
		return nil, &NoActiveRateError{ConceptName: conceptName, On: on}
	}
	return best, nil
}

// History returns the concept's versions, newest start first.
func (h *RateHistory) History(ctx context.Context, conceptName string) ([]RateVersion, error) {
	if _, err := h.Catalog.Resolve(conceptName); err != nil {
		return nil, err
	}
	versions, err := h.Store.VersionsByConcept(ctx, conceptName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return versions, nil
}

// =============================================================================
// RATE VERSIONING SERVICE - Mutations
// =============================================================================

type RateVersioningService struct {
	Catalog *ConceptCatalog
	Store   TxRateStore
}

func NewRateVersioningService(catalog *ConceptCatalog, store TxRateStore) *RateVersioningService {
	return &RateVersioningService{Catalog: catalog, Store: store}
}

// OpenNewVersion creates the concept's open version. It only succeeds when
// the concept has no currently open version: an open-ended window always
// overlaps another open-ended window, so any existing open version is an
// OverlappingRateError regardless of the requested start. Use
// SupersedeAndReplace to close and replace in one step.
func (s *RateVersioningService) OpenNewVersion(ctx context.Context, conceptName string, value Money, start Date) (*RateVersion, error) {
	if err := s.validate(conceptName, value); err != nil {
		return nil, err
	}

	open, err := s.Store.OpenVersion(ctx, conceptName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if open != nil {
		return nil, &OverlappingRateError{ConceptName: conceptName, OpenStart: open.StartDate, RequestedStart: start}
	}

	v := newOpenVersion(conceptName, value, start)
	if err := s.Store.InsertVersion(ctx, v); err != nil {
		return nil, wrapInsertErr(err)
	}
	return &v, nil
}

// SupersedeAndReplace closes the currently open version (if any) at
// newStart-1day and creates a fresh open version starting at newStart.
// Both writes run in one storage transaction: either the close and the
// create are visible together, or neither is.
func (s *RateVersioningService) SupersedeAndReplace(ctx context.Context, conceptName string, newValue Money, newStart Date) (*RateVersion, error) {
	if err := s.validate(conceptName, newValue); err != nil {
		return nil, err
	}

	v := newOpenVersion(conceptName, newValue, newStart)
	err := s.Store.WithTx(ctx, func(tx RateStore) error {
		open, err := tx.OpenVersion(ctx, conceptName)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if open != nil {
			// The replacement must start after the window it closes.
			if !newStart.After(open.StartDate) {
				return &OverlappingRateError{ConceptName: conceptName, OpenStart: open.StartDate, RequestedStart: newStart}
			}
			if err := tx.CloseVersion(ctx, open.ID, newStart.AddDays(-1)); err != nil {
				return fmt.Errorf("%w: %v", ErrPersistence, err)
			}
		}
		return tx.InsertVersion(ctx, v)
	})
	if err != nil {
		return nil, wrapInsertErr(err)
	}
	return &v, nil
}

func (s *RateVersioningService) validate(conceptName string, value Money) error {
	concept, err := s.Catalog.Resolve(conceptName)
	if err != nil {
		return err
	}
	if concept.Kind == KindManual {
		return &KindError{ConceptName: conceptName, Kind: concept.Kind, Operation: "rate versioning"}
	}
	if !value.IsPositive() {
		return fmt.Errorf("%w: rate value %s", ErrInvalidAmount, value)
	}
	return nil
}

func newOpenVersion(conceptName string, value Money, start Date) RateVersion {
	return RateVersion{
		ID:          VersionID(uuid.NewString()),
		ConceptName: conceptName,
		Value:       value,
		StartDate:   start,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
}

// wrapInsertErr keeps domain errors intact and tags storage faults.
func wrapInsertErr(err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
