/*
manual.go - Operator-entered fee lines

PURPOSE:
  Thin validation wrapper in front of FeeDetailLedger.RecordManual. Rejects
  non-manual concepts and non-positive amounts before the write, and exposes
  which concepts are eligible for manual entry at all.
*/
package billing

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// MANUAL FEE SERVICE
// =============================================================================

type ManualFeeService struct {
	Catalog *ConceptCatalog
	Ledger  *FeeDetailLedger
}

func NewManualFeeService(catalog *ConceptCatalog, ledger *FeeDetailLedger) *ManualFeeService {
	return &ManualFeeService{Catalog: catalog, Ledger: ledger}
}

// RecordManualFee validates and records one ad-hoc fee line. When the caller
// supplies no source tag, a MANUAL_<timestamp> provenance tag is generated.
func (s *ManualFeeService) RecordManualFee(ctx context.Context, unitID UnitID, conceptName string, amount Money, sourceTag string) (*FeeDetail, error) {
	concept, err := s.Catalog.Resolve(conceptName)
	if err != nil {
		return nil, err
	}
	if concept.Kind != KindManual {
		return nil, &KindError{ConceptName: conceptName, Kind: concept.Kind, Operation: "manual entry"}
	}
	if !concept.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrConceptNotFound, conceptName)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if sourceTag == "" {
		sourceTag = "MANUAL_" + time.Now().UTC().Format("20060102T150405")
	}
	return s.Ledger.RecordManual(ctx, unitID, conceptName, amount, sourceTag)
}

// EligibleConcepts lists the active concepts open to manual entry.
func (s *ManualFeeService) EligibleConcepts() []FeeConcept {
	return s.Catalog.ManualConcepts()
}
