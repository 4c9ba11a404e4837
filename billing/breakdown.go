/*
breakdown.go - Legacy figure decomposition

PURPOSE:
  Turns the handful of aggregated numbers a legacy import row carries for one
  unit into itemized fee details. Two known legacy constants are recognized
  and expanded deterministically:

    26564.00  tax-inclusive tariff lump sum -> normalized to its 22900.00 base
    17883.00  composite dues lump sum       -> five fixed sub-fee lines

  Anything that doesn't match a known constant within tolerance falls through
  to a single-line fallback. This is a deliberate, enumerated reconciliation -
  unknown values are never decomposed by guesswork.

STEP INDEPENDENCE:
  The four steps (insurance, tariff, dues, star fund) are logically
  independent. A missing or zero figure skips its step with a warning and the
  others still run; one absent legacy field never blocks the fields that are
  present. Only the final batch persistence can fail the run, and it fails
  all-or-nothing.

IDEMPOTENCE:
  The engine does not deduplicate against history. Each invocation is an
  explicit, auditable event: running the same figures twice produces two
  independent, identical sets of rows.

SEE ALSO:
  - config.go: The injected legacy constant table
  - ledger.go: Detail shape and aggregation
*/
package billing

import (
	"context"
	"fmt"
)

// =============================================================================
// BREAKDOWN ENGINE
// =============================================================================

type BreakdownEngine struct {
	Catalog *ConceptCatalog
	Details DetailStore
	Config  ReconciliationConfig
}

func NewBreakdownEngine(catalog *ConceptCatalog, details DetailStore, cfg ReconciliationConfig) *BreakdownEngine {
	return &BreakdownEngine{Catalog: catalog, Details: details, Config: cfg}
}

// Breakdown expands one unit's legacy figures into fee details and persists
// them atomically. A unit with no applicable figures is reported as exempt
// with success=true; only a persistence fault makes the run unsuccessful.
func (e *BreakdownEngine) Breakdown(ctx context.Context, unitID UnitID, fig LegacyFigures) BreakdownResult {
	res := BreakdownResult{TotalApplied: ZeroMoney()}
	tag := fig.BatchTag
	if tag == "" {
		tag = "IMPORT_" + fig.EffectiveDate.String()
	}

	var details []FeeDetail

	// Step 1: insurance, always attempted when a unit value is present.
	if fig.UnitValue.IsPositive() {
		e.step(&res, &details, unitID, tag, ConceptSeguroBroker, fig.UnitValue.Mul(e.Config.BrokerInsuranceRate).Round2())
		e.step(&res, &details, unitID, tag, ConceptSeguroAdavec, fig.UnitValue.Mul(e.Config.AdavecInsuranceRate).Round2())
	} else {
		res.Warnings = append(res.Warnings, "unit value missing or zero; insurance premiums skipped")
	}

	// Step 2: transfer tariff. The known tax-inclusive lump sum is normalized
	// to its tax-exclusive base before recording; anything else goes verbatim.
	if fig.Tariff.IsPositive() {
		amount := fig.Tariff
		if amount.WithinTolerance(e.Config.LegacyGrossTariff, e.Config.Tolerance) {
			amount = e.Config.NetTariff
		}
		e.step(&res, &details, unitID, tag, ConceptTarifaUnica, amount)
	} else {
		res.Warnings = append(res.Warnings, "unit exempt from transfer charges")
	}

	// Step 3: association dues. The known composite expands to its five
	// sub-fees; any other figure is one ADAVEC_ASOCIACION line.
	if fig.Dues.IsPositive() {
		if fig.Dues.WithinTolerance(e.Config.CompositeDues, e.Config.Tolerance) {
			if drift, err := e.Config.CompositeDrift(e.Catalog); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("composite dues check failed: %v", err))
			} else if !drift.IsZero() {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"composite dues table drifts from legacy constant by %s", drift))
			}
			for _, line := range e.Config.CompositeLines {
				e.step(&res, &details, unitID, tag, line.ConceptName, line.Amount)
			}
		} else {
			e.step(&res, &details, unitID, tag, ConceptAdavecAsociacion, fig.Dues)
		}
	} else {
		res.Warnings = append(res.Warnings, "association dues missing or zero; skipped")
	}

	// Step 4: star fund, recorded verbatim.
	if fig.StarFund.IsPositive() {
		e.step(&res, &details, unitID, tag, ConceptFondoEstrella, fig.StarFund)
	} else {
		res.Warnings = append(res.Warnings, "star fund missing or zero; skipped")
	}

	if len(details) == 0 {
		res.Success = true
		res.Exempt = true
		res.Reason = "no applicable legacy figures; unit has zero fees"
		return res
	}

	// All-or-nothing: either every row of this run becomes visible or none.
	if err := e.Details.InsertDetails(ctx, details); err != nil {
		res.Success = false
		res.Err = fmt.Errorf("%w: %v", ErrPersistence, err)
		res.Reason = "breakdown details could not be persisted"
		res.Details = nil
		res.TotalApplied = ZeroMoney()
		return res
	}

	res.Success = true
	res.Details = details
	for _, d := range details {
		res.TotalApplied = res.TotalApplied.Add(d.AmountApplied)
	}
	return res
}

// step builds one detail line. Per-step faults (unknown or inactive concept,
// non-positive amount) degrade to a warning; they never abort the run.
func (e *BreakdownEngine) step(res *BreakdownResult, details *[]FeeDetail, unitID UnitID, tag, conceptName string, amount Money) {
	concept, err := e.Catalog.Resolve(conceptName)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("step skipped: %v", err))
		return
	}
	if !concept.Active {
		res.Warnings = append(res.Warnings, fmt.Sprintf("step skipped: concept %s is inactive", conceptName))
		return
	}
	if !amount.IsPositive() {
		res.Warnings = append(res.Warnings, fmt.Sprintf("step skipped: non-positive amount %s for %s", amount, conceptName))
		return
	}
	*details = append(*details, newDetail(unitID, conceptName, amount, tag))
}
