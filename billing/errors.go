/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to status codes via the helper predicates.

ERROR CATEGORIES:
  1. Not-found errors - concept, unit, rate version or detail absent
  2. Validation errors - business rule violations, caller-correctable
  3. Persistence errors - storage faults during atomic writes

USAGE:
  Callers match with errors.Is / errors.As:

    if errors.Is(err, billing.ErrNoActiveRate) {
        // concept exists but no rate covers the date - never treat as zero
    }

SEE ALSO:
  - rates.go: NoActiveRate / OverlappingRate producers
  - ledger.go: InvalidCalculationKind / InvalidAmount producers
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConceptNotFound is returned when a concept name or ID is not in the catalog.
	ErrConceptNotFound = errors.New("concept not found")

	// ErrUnitNotFound is returned when a referenced unit doesn't exist.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrDetailNotFound is returned when a referenced fee detail doesn't exist.
	ErrDetailNotFound = errors.New("fee detail not found")

	// ErrRateVersionNotFound is returned when a referenced rate version doesn't exist.
	ErrRateVersionNotFound = errors.New("rate version not found")

	// ErrNoActiveRate is returned when a concept exists but no rate version
	// covers the requested date. Distinct from not-found: the calculation must
	// abort with an explicit signal, never fall back to zero.
	ErrNoActiveRate = errors.New("no active rate for date")

	// ErrOverlappingRate is returned when a new rate version would overlap an
	// existing open version for the same concept.
	ErrOverlappingRate = errors.New("overlapping rate version")

	// ErrInvalidCalculationKind is returned when an operation is used against
	// a concept of the wrong calculation kind (e.g. a rate for a manual concept).
	ErrInvalidCalculationKind = errors.New("invalid calculation kind for operation")

	// ErrInvalidAmount is returned when a caller-supplied amount is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrMissingBaseValue is returned when a percentage concept is applied
	// without a base value to compute against.
	ErrMissingBaseValue = errors.New("percentage concept requires a base value")

	// ErrPersistence wraps unexpected storage faults during an atomic write.
	// The whole operation rolls back; nothing is partially visible.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoActiveRateError reports which concept had no rate on which date.
type NoActiveRateError struct {
	ConceptName string
	On          Date
}

func (e *NoActiveRateError) Error() string {
	return fmt.Sprintf("no active rate for %s on %s", e.ConceptName, e.On)
}

func (e *NoActiveRateError) Unwrap() error { return ErrNoActiveRate }

// OverlappingRateError reports the open version that blocks a new one.
type OverlappingRateError struct {
	ConceptName    string
	OpenStart      Date
	RequestedStart Date
}

func (e *OverlappingRateError) Error() string {
	return fmt.Sprintf("concept %s already has an open rate version starting %s; requested start %s overlaps it",
		e.ConceptName, e.OpenStart, e.RequestedStart)
}

func (e *OverlappingRateError) Unwrap() error { return ErrOverlappingRate }

// KindError reports a calculation-kind misuse with the concept involved.
type KindError struct {
	ConceptName string
	Kind        CalculationKind
	Operation   string
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s not allowed for %s concept %s", e.Operation, e.Kind, e.ConceptName)
}

func (e *KindError) Unwrap() error { return ErrInvalidCalculationKind }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConceptNotFound) ||
		errors.Is(err, ErrUnitNotFound) ||
		errors.Is(err, ErrDetailNotFound) ||
		errors.Is(err, ErrRateVersionNotFound) ||
		errors.Is(err, ErrNoActiveRate)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOverlappingRate) ||
		errors.Is(err, ErrInvalidCalculationKind) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingBaseValue)
}
