/*
config.go - Named legacy reconciliation constants

PURPOSE:
  The breakdown heuristics hinge on a handful of legacy magic numbers
  (the tax-inclusive tariff lump sum, the composite dues figure, the two
  insurance percentages). They live here as one injected configuration
  table so the reconciliation rules stay auditable and swappable without
  touching control flow.

THE CONSTANTS:
  TaxRate              0.16     fixed tax rate applied to tax-carrying concepts
  Tolerance            0.01     absolute tolerance when matching legacy constants
  LegacyGrossTariff    26564.00 historical tax-inclusive tariff lump sum
  NetTariff            22900.00 its tax-exclusive base (26564 / 1.16)
  CompositeDues        17883.00 historical lump sum covering five sub-fees
  CompositeLines       the five sub-fees the composite expands to
  BrokerInsuranceRate  0.0134   broker premium as fraction of unit value
  AdavecInsuranceRate  0.0324   ADAVEC premium as fraction of unit value

  The composite sub-amounts are given business data. They are validated
  against CompositeDues (tax-adjusted), never re-derived; a drift is
  surfaced as a warning on every breakdown run, not silently corrected.

SEE ALSO:
  - breakdown.go: Consumes this table
  - factory/concepts.go: JSON overrides for the table
*/
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECONCILIATION CONFIG
// =============================================================================

// CompositeLine is one sub-fee of the known composite dues figure.
type CompositeLine struct {
	ConceptName string
	Amount      Money
}

// ReconciliationConfig bundles the legacy constant table injected into the
// breakdown engine and the fee-detail ledger.
type ReconciliationConfig struct {
	TaxRate             decimal.Decimal
	Tolerance           Money
	LegacyGrossTariff   Money
	NetTariff           Money
	CompositeDues       Money
	CompositeLines      []CompositeLine
	BrokerInsuranceRate decimal.Decimal
	AdavecInsuranceRate decimal.Decimal
}

// DefaultConfig returns the production legacy constant table.
func DefaultConfig() ReconciliationConfig {
	return ReconciliationConfig{
		TaxRate:           decimal.NewFromFloat(0.16),
		Tolerance:         NewMoney(0.01),
		LegacyGrossTariff: NewMoney(26564.00),
		NetTariff:         NewMoney(22900.00),
		CompositeDues:     NewMoney(17883.00),
		CompositeLines: []CompositeLine{
			{ConceptName: ConceptAdavecAsociacion, Amount: NewMoneyFromInt(1200)},
			{ConceptName: ConceptAdavecConvencion, Amount: NewMoneyFromInt(1500)},
			{ConceptName: ConceptAdavecAmda, Amount: NewMoneyFromInt(103)},
			{ConceptName: ConceptAsobensPublicidad, Amount: NewMoneyFromInt(8000)},
			{ConceptName: ConceptAsobensCapacitacion, Amount: NewMoneyFromInt(5000)},
		},
		BrokerInsuranceRate: decimal.NewFromFloat(0.0134),
		AdavecInsuranceRate: decimal.NewFromFloat(0.0324),
	}
}

// Validate checks that every concept the table references exists in the
// catalog, so a misconfigured table fails at startup rather than mid-import.
func (c ReconciliationConfig) Validate(catalog *ConceptCatalog) error {
	if !c.Tolerance.IsPositive() {
		return fmt.Errorf("reconciliation config: tolerance must be positive")
	}
	for _, line := range c.CompositeLines {
		if _, err := catalog.Resolve(line.ConceptName); err != nil {
			return fmt.Errorf("reconciliation config: composite line: %w", err)
		}
		if !line.Amount.IsPositive() {
			return fmt.Errorf("reconciliation config: composite line %s: amount must be positive", line.ConceptName)
		}
	}
	for _, name := range []string{ConceptTarifaUnica, ConceptSeguroBroker, ConceptSeguroAdavec, ConceptFondoEstrella, ConceptAdavecAsociacion} {
		if _, err := catalog.Resolve(name); err != nil {
			return fmt.Errorf("reconciliation config: %w", err)
		}
	}
	return nil
}

// CompositeDrift returns the difference between the composite dues constant
// and the tax-adjusted sum of the composite lines (tax-carrying lines counted
// tax-inclusive, mirroring the legacy single-figure semantics). A non-zero
// drift means the configured table no longer reconciles to the legacy lump
// sum; callers surface it as a warning.
func (c ReconciliationConfig) CompositeDrift(catalog *ConceptCatalog) (Money, error) {
	sum := ZeroMoney()
	for _, line := range c.CompositeLines {
		concept, err := catalog.Resolve(line.ConceptName)
		if err != nil {
			return ZeroMoney(), err
		}
		if concept.AppliesTax {
			sum = sum.Add(line.Amount.WithTax(c.TaxRate))
		} else {
			sum = sum.Add(line.Amount)
		}
	}
	return c.CompositeDues.Sub(sum), nil
}
