/*
catalog.go - Concept catalog: the closed registry of fee concepts

PURPOSE:
  Resolves fee concept names and IDs to their definitions. Concept names are
  used as lookup keys across the whole system, so every path goes through the
  catalog and fails fast on an unknown name instead of treating names as
  free-form strings.

LIFECYCLE:
  The catalog is built once at startup (from the compiled-in seed or a JSON
  config, see factory package) and is read-only afterwards. Concept creation
  and deactivation are administrative operations outside the hot path.

SEE ALSO:
  - config.go: Reconciliation constants referencing these concept names
  - factory/concepts.go: JSON catalog loading
*/
package billing

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// CONCEPT NAMES - Stable codes used across services
// =============================================================================

const (
	ConceptTarifaUnica         = "TARIFA_UNICA"
	ConceptSeguroBroker        = "SEGURO_BROKER"
	ConceptSeguroAdavec        = "SEGURO_ADAVEC"
	ConceptAdavecAsociacion    = "ADAVEC_ASOCIACION"
	ConceptAdavecConvencion    = "ADAVEC_CONVENCION"
	ConceptAdavecAmda          = "ADAVEC_AMDA"
	ConceptAsobensPublicidad   = "ASOBENS_PUBLICIDAD"
	ConceptAsobensCapacitacion = "ASOBENS_CAPACITACION"
	ConceptFondoEstrella       = "FONDO_ESTRELLA"
	ConceptOtrosCargos         = "OTROS_CARGOS"
)

// =============================================================================
// CONCEPT CATALOG
// =============================================================================

type ConceptCatalog struct {
	byName map[string]FeeConcept
	byID   map[ConceptID]FeeConcept
}

// NewCatalog builds a catalog from concept definitions. Names and IDs must be
// unique; an empty ID is derived from the name.
func NewCatalog(concepts []FeeConcept) (*ConceptCatalog, error) {
	c := &ConceptCatalog{
		byName: make(map[string]FeeConcept, len(concepts)),
		byID:   make(map[ConceptID]FeeConcept, len(concepts)),
	}
	for _, concept := range concepts {
		if concept.Name == "" {
			return nil, fmt.Errorf("concept with empty name")
		}
		if concept.ID == "" {
			concept.ID = deriveConceptID(concept.Name)
		}
		if _, dup := c.byName[concept.Name]; dup {
			return nil, fmt.Errorf("duplicate concept name %s", concept.Name)
		}
		if _, dup := c.byID[concept.ID]; dup {
			return nil, fmt.Errorf("duplicate concept id %s", concept.ID)
		}
		switch concept.Kind {
		case KindFixedAmount, KindPercentage, KindManual:
		default:
			return nil, fmt.Errorf("concept %s: unknown calculation kind %q", concept.Name, concept.Kind)
		}
		c.byName[concept.Name] = concept
		c.byID[concept.ID] = concept
	}
	return c, nil
}

func deriveConceptID(name string) ConceptID {
	return ConceptID("cpt-" + strings.ReplaceAll(strings.ToLower(name), "_", "-"))
}

// Resolve returns the concept for a stable name, or ErrConceptNotFound.
func (c *ConceptCatalog) Resolve(name string) (FeeConcept, error) {
	concept, ok := c.byName[name]
	if !ok {
		return FeeConcept{}, fmt.Errorf("%w: %s", ErrConceptNotFound, name)
	}
	return concept, nil
}

// ResolveID returns the concept for an ID, or ErrConceptNotFound.
func (c *ConceptCatalog) ResolveID(id ConceptID) (FeeConcept, error) {
	concept, ok := c.byID[id]
	if !ok {
		return FeeConcept{}, fmt.Errorf("%w: %s", ErrConceptNotFound, id)
	}
	return concept, nil
}

// ListActive returns all active concepts, sorted by name.
func (c *ConceptCatalog) ListActive() []FeeConcept {
	var out []FeeConcept
	for _, concept := range c.byName {
		if concept.Active {
			out = append(out, concept)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ManualConcepts returns the active concepts eligible for operator entry.
func (c *ConceptCatalog) ManualConcepts() []FeeConcept {
	var out []FeeConcept
	for _, concept := range c.byName {
		if concept.Active && concept.Kind == KindManual {
			out = append(out, concept)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// =============================================================================
// SEED SET
// =============================================================================

// DefaultConcepts is the compiled-in concept seed. TARIFA_UNICA and the
// ASOBENS lines carry tax (the legacy gross tariff 26564 is exactly
// 22900 * 1.16); ADAVEC lines, insurance premiums and the star fund are
// recorded at face value.
func DefaultConcepts() []FeeConcept {
	return []FeeConcept{
		{Name: ConceptTarifaUnica, Description: "Transfer tariff", Kind: KindFixedAmount, AppliesTax: true, Active: true},
		{Name: ConceptSeguroBroker, Description: "Broker insurance premium", Kind: KindPercentage, AppliesTax: false, Active: true},
		{Name: ConceptSeguroAdavec, Description: "ADAVEC insurance premium", Kind: KindPercentage, AppliesTax: false, Active: true},
		{Name: ConceptAdavecAsociacion, Description: "ADAVEC association dues", Kind: KindFixedAmount, AppliesTax: false, Active: true},
		{Name: ConceptAdavecConvencion, Description: "ADAVEC convention dues", Kind: KindFixedAmount, AppliesTax: false, Active: true},
		{Name: ConceptAdavecAmda, Description: "ADAVEC AMDA dues", Kind: KindFixedAmount, AppliesTax: false, Active: true},
		{Name: ConceptAsobensPublicidad, Description: "ASOBENS advertising fund", Kind: KindFixedAmount, AppliesTax: true, Active: true},
		{Name: ConceptAsobensCapacitacion, Description: "ASOBENS training fund", Kind: KindFixedAmount, AppliesTax: true, Active: true},
		{Name: ConceptFondoEstrella, Description: "Star fund contribution", Kind: KindFixedAmount, AppliesTax: false, Active: true},
		{Name: ConceptOtrosCargos, Description: "Ad-hoc operator-entered charge", Kind: KindManual, AppliesTax: false, Active: true},
	}
}
