/*
Package factory provides JSON to Go catalog and config conversion.

PURPOSE:
  Converts a JSON billing configuration into a billing.ConceptCatalog and
  billing.ReconciliationConfig. This enables catalog changes without code
  changes - finance staff can amend the concept list or the legacy constant
  table in JSON, and the factory builds the proper Go structs.

JSON SCHEMA:
  {
    "concepts": [
      {"name": "TARIFA_UNICA", "description": "Transfer tariff",
       "kind": "fixed_amount", "applies_tax": true, "active": true}
    ],
    "reconciliation": {
      "tax_rate": 0.16,
      "tolerance": 0.01,
      "legacy_gross_tariff": 26564.00,
      "net_tariff": 22900.00,
      "composite_dues": 17883.00,
      "composite_lines": [
        {"concept": "ADAVEC_ASOCIACION", "amount": 1200}
      ],
      "broker_insurance_rate": 0.0134,
      "adavec_insurance_rate": 0.0324
    }
  }

KEY FEATURES:
  - Omitted sections fall back to the compiled-in defaults
  - Validates calculation kinds and cross-references composite concepts
  - Active defaults to true when omitted

USAGE:
  catalog, cfg, err := factory.Parse(jsonBytes)
  // or the compiled-in defaults:
  catalog, cfg, err := factory.Defaults()

SEE ALSO:
  - billing/catalog.go: Catalog type and seed set
  - billing/config.go: Reconciliation constant table
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/tariff-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of the whole billing configuration.
type ConfigJSON struct {
	Concepts       []ConceptJSON       `json:"concepts,omitempty"`
	Reconciliation *ReconciliationJSON `json:"reconciliation,omitempty"`
}

// ConceptJSON represents one fee concept.
type ConceptJSON struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	AppliesTax  bool   `json:"applies_tax,omitempty"`
	Active      *bool  `json:"active,omitempty"` // default true
}

// ReconciliationJSON represents the legacy constant table. Every field is
// optional; omitted fields keep their default.
type ReconciliationJSON struct {
	TaxRate             *float64            `json:"tax_rate,omitempty"`
	Tolerance           *float64            `json:"tolerance,omitempty"`
	LegacyGrossTariff   *float64            `json:"legacy_gross_tariff,omitempty"`
	NetTariff           *float64            `json:"net_tariff,omitempty"`
	CompositeDues       *float64            `json:"composite_dues,omitempty"`
	CompositeLines      []CompositeLineJSON `json:"composite_lines,omitempty"`
	BrokerInsuranceRate *float64            `json:"broker_insurance_rate,omitempty"`
	AdavecInsuranceRate *float64            `json:"adavec_insurance_rate,omitempty"`
}

// CompositeLineJSON is one sub-fee of the composite dues figure.
type CompositeLineJSON struct {
	Concept string  `json:"concept"`
	Amount  float64 `json:"amount"`
}

// =============================================================================
// PARSING
// =============================================================================

// Defaults returns the compiled-in catalog and constant table.
func Defaults() (*billing.ConceptCatalog, billing.ReconciliationConfig, error) {
	catalog, err := billing.NewCatalog(billing.DefaultConcepts())
	if err != nil {
		return nil, billing.ReconciliationConfig{}, err
	}
	cfg := billing.DefaultConfig()
	if err := cfg.Validate(catalog); err != nil {
		return nil, billing.ReconciliationConfig{}, err
	}
	return catalog, cfg, nil
}

// Parse builds the catalog and config from a JSON document. Sections the
// document omits keep the compiled-in defaults.
func Parse(data []byte) (*billing.ConceptCatalog, billing.ReconciliationConfig, error) {
	var doc ConfigJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, billing.ReconciliationConfig{}, fmt.Errorf("invalid billing config: %w", err)
	}

	concepts := billing.DefaultConcepts()
	if len(doc.Concepts) > 0 {
		concepts = make([]billing.FeeConcept, 0, len(doc.Concepts))
		for _, cj := range doc.Concepts {
			concept, err := parseConcept(cj)
			if err != nil {
				return nil, billing.ReconciliationConfig{}, err
			}
			concepts = append(concepts, concept)
		}
	}

	catalog, err := billing.NewCatalog(concepts)
	if err != nil {
		return nil, billing.ReconciliationConfig{}, err
	}

	cfg := billing.DefaultConfig()
	if doc.Reconciliation != nil {
		applyReconciliation(&cfg, *doc.Reconciliation)
	}
	if err := cfg.Validate(catalog); err != nil {
		return nil, billing.ReconciliationConfig{}, err
	}
	return catalog, cfg, nil
}

func parseConcept(cj ConceptJSON) (billing.FeeConcept, error) {
	if cj.Name == "" {
		return billing.FeeConcept{}, fmt.Errorf("concept with empty name")
	}
	kind := billing.CalculationKind(cj.Kind)
	switch kind {
	case billing.KindFixedAmount, billing.KindPercentage, billing.KindManual:
	default:
		return billing.FeeConcept{}, fmt.Errorf("concept %s: unknown kind %q", cj.Name, cj.Kind)
	}
	active := true
	if cj.Active != nil {
		active = *cj.Active
	}
	return billing.FeeConcept{
		Name:        cj.Name,
		Description: cj.Description,
		Kind:        kind,
		AppliesTax:  cj.AppliesTax,
		Active:      active,
	}, nil
}

func applyReconciliation(cfg *billing.ReconciliationConfig, rj ReconciliationJSON) {
	if rj.TaxRate != nil {
		cfg.TaxRate = decimal.NewFromFloat(*rj.TaxRate)
	}
	if rj.Tolerance != nil {
		cfg.Tolerance = billing.NewMoney(*rj.Tolerance)
	}
	if rj.LegacyGrossTariff != nil {
		cfg.LegacyGrossTariff = billing.NewMoney(*rj.LegacyGrossTariff)
	}
	if rj.NetTariff != nil {
		cfg.NetTariff = billing.NewMoney(*rj.NetTariff)
	}
	if rj.CompositeDues != nil {
		cfg.CompositeDues = billing.NewMoney(*rj.CompositeDues)
	}
	if len(rj.CompositeLines) > 0 {
		lines := make([]billing.CompositeLine, 0, len(rj.CompositeLines))
		for _, lj := range rj.CompositeLines {
			lines = append(lines, billing.CompositeLine{
				ConceptName: lj.Concept,
				Amount:      billing.NewMoney(lj.Amount),
			})
		}
		cfg.CompositeLines = lines
	}
	if rj.BrokerInsuranceRate != nil {
		cfg.BrokerInsuranceRate = decimal.NewFromFloat(*rj.BrokerInsuranceRate)
	}
	if rj.AdavecInsuranceRate != nil {
		cfg.AdavecInsuranceRate = decimal.NewFromFloat(*rj.AdavecInsuranceRate)
	}
}
