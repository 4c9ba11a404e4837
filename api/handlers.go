/*
handlers.go - HTTP API handlers for the tariff engine

PURPOSE:
  Exposes the tariff versioning and fee breakdown engine via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  billing domain logic.

ENDPOINTS:
  Units:
    GET    /api/units                    List all units
    POST   /api/units                    Register a unit
    GET    /api/units/{id}               Get unit details
    GET    /api/units/{id}/details       Ledger lines for a unit
    GET    /api/units/{id}/totals        Totals with tax split
    GET    /api/units/{id}/dues-total    Association dues total
    POST   /api/units/{id}/breakdown     Break legacy figures into details
    POST   /api/units/{id}/manual-fees   Record an operator-entered fee
    POST   /api/units/{id}/rate-fees     Record a rate-driven fee
    DELETE /api/units/{id}/details       Remove all of a unit's details

  Details:
    PUT    /api/details/{id}             Correct a line's amount
    DELETE /api/details/{id}             Remove one line

  Concepts:
    GET    /api/concepts                 Active fee concepts
    GET    /api/concepts/manual          Concepts open to manual entry

  Rates:
    GET    /api/rates/{concept}            Version history
    GET    /api/rates/{concept}/effective  Rate in effect on a date
    POST   /api/rates/{concept}            Open a new open-ended version
    POST   /api/rates/{concept}/supersede  Close current and open replacement

  Audit:
    GET    /api/breakdown-runs           Breakdown run history

ERROR HANDLING:
  Domain errors map to HTTP status by category:
  - 400: Validation errors (invalid amount, wrong kind, missing base)
  - 404: Unknown concept/unit/detail, no rate in effect
  - 409: Overlapping rate version
  - 500: Persistence and unexpected errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - billing: Domain logic this layer delegates to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/tariff-engine/billing"
	"github.com/warp/tariff-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Catalog *billing.ConceptCatalog
	Config  billing.ReconciliationConfig

	Rates      *billing.RateHistory
	Versioning *billing.RateVersioningService
	Ledger     *billing.FeeDetailLedger
	Engine     *billing.BreakdownEngine
	Manual     *billing.ManualFeeService
}

// NewHandler wires the domain services around one store.
func NewHandler(store *sqlite.Store, catalog *billing.ConceptCatalog, cfg billing.ReconciliationConfig) *Handler {
	rates := billing.NewRateHistory(catalog, store)
	ledger := billing.NewFeeDetailLedger(catalog, store, rates, cfg)
	return &Handler{
		Store:      store,
		Catalog:    catalog,
		Config:     cfg,
		Rates:      rates,
		Versioning: billing.NewRateVersioningService(catalog, store),
		Ledger:     ledger,
		Engine:     billing.NewBreakdownEngine(catalog, store, cfg),
		Manual:     billing.NewManualFeeService(catalog, ledger),
	}
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// ListUnits returns all registered units.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Store.ListUnits(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list units", err)
		return
	}

	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUnit registers a new unit.
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Unit id is required", nil)
		return
	}

	unit := sqlite.Unit{
		ID:          req.ID,
		Description: req.Description,
		Plate:       req.Plate,
		Active:      true,
	}
	if err := h.Store.SaveUnit(r.Context(), unit); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create unit", err)
		return
	}

	unit.CreatedAt = time.Now().UTC()
	writeJSON(w, http.StatusCreated, toUnitDTO(unit))
}

// GetUnit returns a single unit.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	unit, err := h.Store.GetUnit(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get unit", err)
		return
	}
	if unit == nil {
		writeError(w, http.StatusNotFound, "Unit not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(*unit))
}

// GetUnitDetails returns a unit's ledger lines, oldest first.
func (h *Handler) GetUnitDetails(w http.ResponseWriter, r *http.Request) {
	unitID := billing.UnitID(chi.URLParam(r, "id"))

	details, err := h.Ledger.DetailsByUnit(r.Context(), unitID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list details", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeDetailDTOs(details))
}

// GetUnitTotals returns the unit's totals with the taxable portion split out.
func (h *Handler) GetUnitTotals(w http.ResponseWriter, r *http.Request) {
	unitID := billing.UnitID(chi.URLParam(r, "id"))
	ctx := r.Context()

	totals, err := h.Ledger.Totals(ctx, unitID)
	if err != nil {
		writeDomainError(w, "Failed to compute totals", err)
		return
	}
	byConcept, err := h.Ledger.SumByConcept(ctx, unitID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute totals", err)
		return
	}

	dto := UnitTotalsDTO{
		UnitID:       string(unitID),
		TotalNoTax:   totals.TotalNoTax.String(),
		TotalWithTax: totals.TotalWithTax.String(),
		GrandTotal:   totals.GrandTotal.String(),
	}
	if len(byConcept) > 0 {
		dto.ByConcept = make(map[string]string, len(byConcept))
		for concept, sum := range byConcept {
			dto.ByConcept[concept] = sum.String()
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetUnitDuesTotal returns the association dues total for a unit.
func (h *Handler) GetUnitDuesTotal(w http.ResponseWriter, r *http.Request) {
	unitID := billing.UnitID(chi.URLParam(r, "id"))

	total, err := h.Ledger.AssociationDuesTotal(r.Context(), unitID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute dues total", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"unit_id":    string(unitID),
		"dues_total": total.String(),
	})
}

// DeleteUnitDetails removes every ledger line of a unit.
func (h *Handler) DeleteUnitDetails(w http.ResponseWriter, r *http.Request) {
	unitID := billing.UnitID(chi.URLParam(r, "id"))

	count, err := h.Ledger.DeleteByUnit(r.Context(), unitID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete details", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

// =============================================================================
// BREAKDOWN HANDLERS
// =============================================================================

// RunBreakdown decomposes a unit's legacy figures into fee details and
// persists an audit record of the run.
func (h *Handler) RunBreakdown(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "id")
	ctx := r.Context()

	unit, err := h.Store.GetUnit(ctx, unitID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get unit", err)
		return
	}
	if unit == nil {
		writeError(w, http.StatusNotFound, "Unit not found", nil)
		return
	}

	var req BreakdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	effective := billing.Today()
	if req.EffectiveDate != "" {
		effective, err = billing.ParseDate(req.EffectiveDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_date format (use YYYY-MM-DD)", err)
			return
		}
	}

	fig := billing.LegacyFigures{
		UnitValue:     billing.NewMoney(req.UnitValue),
		Tariff:        billing.NewMoney(req.Tariff),
		Dues:          billing.NewMoney(req.Dues),
		StarFund:      billing.NewMoney(req.StarFund),
		EffectiveDate: effective,
		BatchTag:      req.BatchTag,
	}

	result := h.Engine.Breakdown(ctx, billing.UnitID(unitID), fig)
	h.saveRun(r, unitID, req.BatchTag, result)

	dto := BreakdownResultDTO{
		Success:      result.Success,
		Exempt:       result.Exempt,
		Reason:       result.Reason,
		Details:      toFeeDetailDTOs(result.Details),
		TotalApplied: result.TotalApplied.String(),
		Warnings:     result.Warnings,
	}
	if !result.Success {
		writeJSON(w, http.StatusInternalServerError, dto)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// saveRun records the audit row for a breakdown run. Audit persistence is
// best effort; a failure here never alters the run's outcome.
func (h *Handler) saveRun(r *http.Request, unitID, tag string, result billing.BreakdownResult) {
	status := "success"
	switch {
	case !result.Success:
		status = "failed"
	case result.Exempt:
		status = "exempt"
	}
	run := sqlite.BreakdownRun{
		ID:           uuid.NewString(),
		UnitID:       unitID,
		Status:       status,
		Exempt:       result.Exempt,
		TotalApplied: result.TotalApplied.String(),
		DetailCount:  len(result.Details),
		Warnings:     result.Warnings,
		SourceTag:    tag,
	}
	if result.Err != nil {
		run.Error = result.Err.Error()
	}
	_ = h.Store.SaveBreakdownRun(r.Context(), run)
}

// ListBreakdownRuns returns the run history, newest first.
func (h *Handler) ListBreakdownRuns(w http.ResponseWriter, r *http.Request) {
	unitID := r.URL.Query().Get("unit_id")

	runs, err := h.Store.ListBreakdownRuns(r.Context(), unitID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list breakdown runs", err)
		return
	}

	dtos := make([]BreakdownRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toBreakdownRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// FEE DETAIL HANDLERS
// =============================================================================

// RecordManualFee records an operator-entered fee line for a unit.
func (h *Handler) RecordManualFee(w http.ResponseWriter, r *http.Request) {
	unitID := billing.UnitID(chi.URLParam(r, "id"))

	var req ManualFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	detail, err := h.Manual.RecordManualFee(r.Context(), unitID, req.Concept, billing.NewMoney(req.Amount), req.SourceTag)
	if err != nil {
		writeDomainError(w, "Failed to record manual fee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFeeDetailDTO(*detail))
}

// RecordRateFee records a rate-driven fee line, resolving the amount from
// the rate in effect on the given date.
func (h *Handler) RecordRateFee(w http.ResponseWriter, r *http.Request) {
	unitID := billing.UnitID(chi.URLParam(r, "id"))

	var req RateFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	effective, err := billing.ParseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date format (use YYYY-MM-DD)", err)
		return
	}

	in := billing.RateRecordInput{
		UnitID:        unitID,
		ConceptName:   req.Concept,
		EffectiveDate: effective,
		SourceTag:     req.SourceTag,
	}
	if req.Base != nil {
		base := billing.NewMoney(*req.Base)
		in.Base = &base
	}
	if req.Override != nil {
		override := billing.NewMoney(*req.Override)
		in.Override = &override
	}

	result, err := h.Ledger.RecordFromRate(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to record fee", err)
		return
	}
	writeJSON(w, http.StatusCreated, RateFeeResponse{
		Detail: toFeeDetailDTO(result.Detail),
		Notes:  result.Notes,
	})
}

// ReplaceDetailAmount corrects the amount on an existing line.
func (h *Handler) ReplaceDetailAmount(w http.ResponseWriter, r *http.Request) {
	id := billing.DetailID(chi.URLParam(r, "id"))

	var req ReplaceAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Ledger.ReplaceAmount(r.Context(), id, billing.NewMoney(req.Amount)); err != nil {
		writeDomainError(w, "Failed to update detail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteDetail removes one ledger line.
func (h *Handler) DeleteDetail(w http.ResponseWriter, r *http.Request) {
	id := billing.DetailID(chi.URLParam(r, "id"))

	if err := h.Ledger.Delete(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete detail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// CONCEPT HANDLERS
// =============================================================================

// ListConcepts returns the active fee concepts.
func (h *Handler) ListConcepts(w http.ResponseWriter, r *http.Request) {
	concepts := h.Catalog.ListActive()
	dtos := make([]ConceptDTO, len(concepts))
	for i, c := range concepts {
		dtos[i] = toConceptDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListManualConcepts returns the concepts open to manual entry.
func (h *Handler) ListManualConcepts(w http.ResponseWriter, r *http.Request) {
	concepts := h.Manual.EligibleConcepts()
	dtos := make([]ConceptDTO, len(concepts))
	for i, c := range concepts {
		dtos[i] = toConceptDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// GetRateHistory returns every version of a concept's rate, newest first.
func (h *Handler) GetRateHistory(w http.ResponseWriter, r *http.Request) {
	concept := chi.URLParam(r, "concept")

	versions, err := h.Rates.History(r.Context(), concept)
	if err != nil {
		writeDomainError(w, "Failed to load rate history", err)
		return
	}
	writeJSON(w, http.StatusOK, toRateVersionDTOs(versions))
}

// GetEffectiveRate returns the version in effect on a date (?on=YYYY-MM-DD,
// default today).
func (h *Handler) GetEffectiveRate(w http.ResponseWriter, r *http.Request) {
	concept := chi.URLParam(r, "concept")

	on := billing.Today()
	if raw := r.URL.Query().Get("on"); raw != "" {
		var err error
		on, err = billing.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}

	version, err := h.Rates.FindEffective(r.Context(), concept, on)
	if err != nil {
		writeDomainError(w, "No rate in effect", err)
		return
	}
	writeJSON(w, http.StatusOK, toRateVersionDTO(*version))
}

// OpenRate opens a new open-ended version for a concept.
func (h *Handler) OpenRate(w http.ResponseWriter, r *http.Request) {
	concept := chi.URLParam(r, "concept")

	var req OpenRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	version, err := h.Versioning.OpenNewVersion(r.Context(), concept, billing.NewMoney(req.Value), start)
	if err != nil {
		writeDomainError(w, "Failed to open rate version", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRateVersionDTO(*version))
}

// SupersedeRate closes the open version and opens a replacement atomically.
func (h *Handler) SupersedeRate(w http.ResponseWriter, r *http.Request) {
	concept := chi.URLParam(r, "concept")

	var req SupersedeRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	version, err := h.Versioning.SupersedeAndReplace(r.Context(), concept, billing.NewMoney(req.Value), start)
	if err != nil {
		writeDomainError(w, "Failed to supersede rate version", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRateVersionDTO(*version))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a billing error to an HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, domainStatus(err), message, err)
}

func domainStatus(err error) int {
	switch {
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrOverlappingRate):
		return http.StatusConflict
	case billing.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
