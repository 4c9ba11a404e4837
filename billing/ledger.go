/*
ledger.go - Fee-detail recording and aggregation

PURPOSE:
  FeeDetailLedger is the itemized charge ledger: one row per concept applied
  to one unit. It enforces the calculation-kind rules at write time (manual
  concepts take caller amounts, rate-driven concepts never do) and derives
  every aggregate - tax partition totals, per-concept sums, the legacy
  association-dues figure - from the rows. No aggregate is ever stored.

WRITE RULES:
  RecordManual:   MANUAL concepts only, caller amount must be positive.
  RecordFromRate: FIXED_AMOUNT takes the effective rate value; PERCENTAGE
                  additionally needs a base value (amount = base*rate/100).
                  A caller-supplied override that differs from the computed
                  amount is IGNORED and reported as a diagnostic note -
                  rate-driven concepts never honor caller-chosen amounts.

CORRECTIONS:
  Amounts are replaced explicitly via ReplaceAmount; the concept and unit
  association of a detail never change. Details are deletable individually
  or in bulk per unit (the unit owns its details in the aggregate sense).

SEE ALSO:
  - rates.go: Effective rate resolution
  - breakdown.go: Bulk detail production from legacy figures
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// FEE DETAIL LEDGER
// =============================================================================

type FeeDetailLedger struct {
	Catalog *ConceptCatalog
	Details DetailStore
	Rates   *RateHistory
	Config  ReconciliationConfig
}

func NewFeeDetailLedger(catalog *ConceptCatalog, details DetailStore, rates *RateHistory, cfg ReconciliationConfig) *FeeDetailLedger {
	return &FeeDetailLedger{Catalog: catalog, Details: details, Rates: rates, Config: cfg}
}

// =============================================================================
// RECORDING
// =============================================================================

// RecordManual persists an operator-entered fee line. Only MANUAL concepts
// may be recorded this way; everything else must go through the rate-driven
// path.
func (l *FeeDetailLedger) RecordManual(ctx context.Context, unitID UnitID, conceptName string, amount Money, sourceTag string) (*FeeDetail, error) {
	concept, err := l.Catalog.Resolve(conceptName)
	if err != nil {
		return nil, err
	}
	if concept.Kind != KindManual {
		return nil, &KindError{ConceptName: conceptName, Kind: concept.Kind, Operation: "manual recording"}
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s for %s", ErrInvalidAmount, amount, conceptName)
	}

	d := newDetail(unitID, conceptName, amount, sourceTag)
	if err := l.Details.InsertDetail(ctx, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return &d, nil
}

// RateRecordInput describes one rate-driven recording.
type RateRecordInput struct {
	UnitID        UnitID
	ConceptName   string
	EffectiveDate Date
	Base          *Money // required for percentage concepts
	Override      *Money // ignored if it differs from the computed amount
	SourceTag     string
}

// RateRecordResult carries the persisted detail plus diagnostic notes
// (e.g. an ignored override), so callers and tests can assert on them.
type RateRecordResult struct {
	Detail FeeDetail
	Notes  []string
}

// RecordFromRate resolves the concept's effective rate on the given date and
// persists the computed amount.
func (l *FeeDetailLedger) RecordFromRate(ctx context.Context, in RateRecordInput) (*RateRecordResult, error) {
	concept, err := l.Catalog.Resolve(in.ConceptName)
	if err != nil {
		return nil, err
	}
	if concept.Kind == KindManual {
		return nil, &KindError{ConceptName: in.ConceptName, Kind: concept.Kind, Operation: "rate-driven recording"}
	}

	rate, err := l.Rates.FindEffective(ctx, in.ConceptName, in.EffectiveDate)
	if err != nil {
		return nil, err
	}

	var amount Money
	switch concept.Kind {
	case KindFixedAmount:
		amount = rate.Value
	case KindPercentage:
		if in.Base == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingBaseValue, in.ConceptName)
		}
		amount = in.Base.Mul(rate.Value.Value).Div(decimal.NewFromInt(100)).Round2()
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: computed %s for %s", ErrInvalidAmount, amount, in.ConceptName)
	}

	res := &RateRecordResult{}
	if in.Override != nil && !in.Override.Equal(amount) {
		res.Notes = append(res.Notes, fmt.Sprintf(
			"override %s ignored for %s: rate-driven amount is %s", in.Override, in.ConceptName, amount))
	}

	d := newDetail(in.UnitID, in.ConceptName, amount, in.SourceTag)
	if err := l.Details.InsertDetail(ctx, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	res.Detail = d
	return res, nil
}

func newDetail(unitID UnitID, conceptName string, amount Money, sourceTag string) FeeDetail {
	return FeeDetail{
		ID:            DetailID(uuid.NewString()),
		UnitID:        unitID,
		ConceptName:   conceptName,
		AmountApplied: amount,
		SourceTag:     sourceTag,
		CreatedAt:     time.Now().UTC(),
	}
}

// =============================================================================
// AGGREGATION - Always derived from the rows
// =============================================================================

// SumByUnit returns the plain sum of applied amounts for a unit (pre-tax).
func (l *FeeDetailLedger) SumByUnit(ctx context.Context, unitID UnitID) (Money, error) {
	details, err := l.Details.DetailsByUnit(ctx, unitID)
	if err != nil {
		return ZeroMoney(), fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	total := ZeroMoney()
	for _, d := range details {
		total = total.Add(d.AmountApplied)
	}
	return total, nil
}

// SumByConcept returns the per-concept sums for a unit, keyed by concept name.
func (l *FeeDetailLedger) SumByConcept(ctx context.Context, unitID UnitID) (map[string]Money, error) {
	details, err := l.Details.DetailsByUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	sums := make(map[string]Money)
	for _, d := range details {
		current, ok := sums[d.ConceptName]
		if !ok {
			current = ZeroMoney()
		}
		sums[d.ConceptName] = current.Add(d.AmountApplied)
	}
	return sums, nil
}

// Totals partitions a unit's details by the concept's AppliesTax flag.
// Tax-applicable lines are summed tax-inclusive; the grand total is the sum
// of both partitions.
func (l *FeeDetailLedger) Totals(ctx context.Context, unitID UnitID) (UnitTotals, error) {
	details, err := l.Details.DetailsByUnit(ctx, unitID)
	if err != nil {
		return UnitTotals{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	totals := UnitTotals{TotalNoTax: ZeroMoney(), TotalWithTax: ZeroMoney(), GrandTotal: ZeroMoney()}
	for _, d := range details {
		concept, err := l.Catalog.Resolve(d.ConceptName)
		if err != nil {
			// A persisted detail referencing an unknown concept is a data
			// fault, not something to paper over with a zero-tax guess.
			return UnitTotals{}, err
		}
		if concept.AppliesTax {
			totals.TotalWithTax = totals.TotalWithTax.Add(d.AmountApplied.WithTax(l.Config.TaxRate))
		} else {
			totals.TotalNoTax = totals.TotalNoTax.Add(d.AmountApplied)
		}
	}
	totals.GrandTotal = totals.TotalNoTax.Add(totals.TotalWithTax)
	return totals, nil
}

// AssociationDuesTotal reproduces the legacy single-figure dues semantics:
// ADAVEC_* lines at face value plus ASOBENS_* lines tax-inclusive, so older
// consumers see one number comparable to the historical aggregate.
func (l *FeeDetailLedger) AssociationDuesTotal(ctx context.Context, unitID UnitID) (Money, error) {
	details, err := l.Details.DetailsByUnit(ctx, unitID)
	if err != nil {
		return ZeroMoney(), fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	total := ZeroMoney()
	for _, d := range details {
		switch {
		case strings.HasPrefix(d.ConceptName, "ADAVEC_"):
			total = total.Add(d.AmountApplied)
		case strings.HasPrefix(d.ConceptName, "ASOBENS_"):
			total = total.Add(d.AmountApplied.WithTax(l.Config.TaxRate))
		}
	}
	return total, nil
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// ReplaceAmount replaces the applied amount of one detail. The new amount
// must be positive; concept and unit association are untouched.
func (l *FeeDetailLedger) ReplaceAmount(ctx context.Context, id DetailID, newAmount Money) error {
	if !newAmount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, newAmount)
	}
	if err := l.Details.UpdateAmount(ctx, id, newAmount); err != nil {
		return wrapInsertErr(err)
	}
	return nil
}

// Delete removes one detail.
func (l *FeeDetailLedger) Delete(ctx context.Context, id DetailID) error {
	if err := l.Details.DeleteDetail(ctx, id); err != nil {
		return wrapInsertErr(err)
	}
	return nil
}

// DeleteByUnit removes all details of a unit and returns how many were removed.
func (l *FeeDetailLedger) DeleteByUnit(ctx context.Context, unitID UnitID) (int, error) {
	n, err := l.Details.DeleteDetailsByUnit(ctx, unitID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, nil
}

// DetailsByUnit returns the unit's historical detail listing, oldest first.
func (l *FeeDetailLedger) DetailsByUnit(ctx context.Context, unitID UnitID) ([]FeeDetail, error) {
	details, err := l.Details.DetailsByUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return details, nil
}
