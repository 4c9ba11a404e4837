/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Unit:
    UnitDTO, CreateUnitRequest

  Concept / Rates:
    ConceptDTO, RateVersionDTO, OpenRateRequest, SupersedeRateRequest

  Details:
    FeeDetailDTO, ManualFeeRequest, RateFeeRequest, ReplaceAmountRequest

  Breakdown:
    BreakdownRequest, BreakdownResultDTO, BreakdownRunDTO

  Totals:
    UnitTotalsDTO

MONEY REPRESENTATION:
  Amounts cross the wire as strings with two decimal places ("22900.00").
  Clients parse them with their own decimal library; float64 is never used
  for money in responses. Request bodies accept plain JSON numbers for
  convenience and are converted through the decimal type immediately.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/tariff-engine/billing"
	"github.com/warp/tariff-engine/store/sqlite"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// UnitDTO represents a transport unit in API responses.
type UnitDTO struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Plate       string `json:"plate,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateUnitRequest is the request to register a unit.
type CreateUnitRequest struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Plate       string `json:"plate,omitempty"`
}

// ConceptDTO represents a fee concept.
type ConceptDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	AppliesTax  bool   `json:"applies_tax"`
	Active      bool   `json:"active"`
}

// RateVersionDTO represents one version in a concept's rate history.
type RateVersionDTO struct {
	ID          string  `json:"id"`
	ConceptName string  `json:"concept"`
	Value       string  `json:"value"`
	StartDate   string  `json:"start_date"`
	EndDate     *string `json:"end_date,omitempty"`
	Active      bool    `json:"active"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// OpenRateRequest opens the first (or next) open-ended version for a concept.
type OpenRateRequest struct {
	Value     float64 `json:"value"`
	StartDate string  `json:"start_date"`
}

// SupersedeRateRequest closes the current open version and opens a new one.
type SupersedeRateRequest struct {
	Value     float64 `json:"value"`
	StartDate string  `json:"start_date"`
}

// FeeDetailDTO represents one ledger line.
type FeeDetailDTO struct {
	ID            string `json:"id"`
	UnitID        string `json:"unit_id"`
	ConceptName   string `json:"concept"`
	AmountApplied string `json:"amount_applied"`
	SourceTag     string `json:"source_tag,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// ManualFeeRequest records an operator-entered fee line.
type ManualFeeRequest struct {
	Concept   string  `json:"concept"`
	Amount    float64 `json:"amount"`
	SourceTag string  `json:"source_tag,omitempty"`
}

// RateFeeRequest records a rate-driven fee line for a unit.
type RateFeeRequest struct {
	Concept       string   `json:"concept"`
	EffectiveDate string   `json:"effective_date"`
	Base          *float64 `json:"base,omitempty"`
	Override      *float64 `json:"override,omitempty"`
	SourceTag     string   `json:"source_tag,omitempty"`
}

// RateFeeResponse wraps the recorded detail and any advisory notes
// (for example an ignored override).
type RateFeeResponse struct {
	Detail FeeDetailDTO `json:"detail"`
	Notes  []string     `json:"notes,omitempty"`
}

// ReplaceAmountRequest corrects the amount of an existing detail.
type ReplaceAmountRequest struct {
	Amount float64 `json:"amount"`
}

// BreakdownRequest carries the legacy aggregate figures for one unit.
type BreakdownRequest struct {
	UnitValue     float64 `json:"unit_value"`
	Tariff        float64 `json:"tariff"`
	Dues          float64 `json:"dues"`
	StarFund      float64 `json:"star_fund"`
	EffectiveDate string  `json:"effective_date"`
	BatchTag      string  `json:"batch_tag,omitempty"`
}

// BreakdownResultDTO is the outcome of one breakdown run.
type BreakdownResultDTO struct {
	Success      bool           `json:"success"`
	Exempt       bool           `json:"exempt"`
	Reason       string         `json:"reason,omitempty"`
	Details      []FeeDetailDTO `json:"details"`
	TotalApplied string         `json:"total_applied"`
	Warnings     []string       `json:"warnings,omitempty"`
}

// BreakdownRunDTO represents a persisted audit record of a breakdown run.
type BreakdownRunDTO struct {
	ID           string   `json:"id"`
	UnitID       string   `json:"unit_id"`
	Status       string   `json:"status"`
	Exempt       bool     `json:"exempt"`
	TotalApplied string   `json:"total_applied,omitempty"`
	DetailCount  int      `json:"detail_count"`
	Warnings     []string `json:"warnings,omitempty"`
	Error        string   `json:"error,omitempty"`
	SourceTag    string   `json:"source_tag,omitempty"`
	CreatedAt    string   `json:"created_at,omitempty"`
}

// UnitTotalsDTO aggregates a unit's ledger with tax split out.
type UnitTotalsDTO struct {
	UnitID       string            `json:"unit_id"`
	TotalNoTax   string            `json:"total_no_tax"`
	TotalWithTax string            `json:"total_with_tax"`
	GrandTotal   string            `json:"grand_total"`
	ByConcept    map[string]string `json:"by_concept,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toConceptDTO(c billing.FeeConcept) ConceptDTO {
	return ConceptDTO{
		ID:          string(c.ID),
		Name:        c.Name,
		Description: c.Description,
		Kind:        string(c.Kind),
		AppliesTax:  c.AppliesTax,
		Active:      c.Active,
	}
}

func toRateVersionDTO(v billing.RateVersion) RateVersionDTO {
	dto := RateVersionDTO{
		ID:          string(v.ID),
		ConceptName: v.ConceptName,
		Value:       v.Value.String(),
		StartDate:   v.StartDate.String(),
		Active:      v.Active,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
	if v.EndDate != nil {
		end := v.EndDate.String()
		dto.EndDate = &end
	}
	return dto
}

func toRateVersionDTOs(versions []billing.RateVersion) []RateVersionDTO {
	dtos := make([]RateVersionDTO, len(versions))
	for i, v := range versions {
		dtos[i] = toRateVersionDTO(v)
	}
	return dtos
}

func toFeeDetailDTO(d billing.FeeDetail) FeeDetailDTO {
	return FeeDetailDTO{
		ID:            string(d.ID),
		UnitID:        string(d.UnitID),
		ConceptName:   d.ConceptName,
		AmountApplied: d.AmountApplied.String(),
		SourceTag:     d.SourceTag,
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
	}
}

func toFeeDetailDTOs(details []billing.FeeDetail) []FeeDetailDTO {
	dtos := make([]FeeDetailDTO, len(details))
	for i, d := range details {
		dtos[i] = toFeeDetailDTO(d)
	}
	return dtos
}

func toUnitDTO(u sqlite.Unit) UnitDTO {
	return UnitDTO{
		ID:          u.ID,
		Description: u.Description,
		Plate:       u.Plate,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	}
}

func toBreakdownRunDTO(run sqlite.BreakdownRun) BreakdownRunDTO {
	return BreakdownRunDTO{
		ID:           run.ID,
		UnitID:       run.UnitID,
		Status:       run.Status,
		Exempt:       run.Exempt,
		TotalApplied: run.TotalApplied,
		DetailCount:  run.DetailCount,
		Warnings:     run.Warnings,
		Error:        run.Error,
		SourceTag:    run.SourceTag,
		CreatedAt:    run.CreatedAt.Format(time.RFC3339),
	}
}
