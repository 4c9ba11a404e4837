package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tariff-engine/api"
	"github.com/warp/tariff-engine/factory"
	"github.com/warp/tariff-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalog, cfg, err := factory.Defaults()
	require.NoError(t, err)

	return api.NewRouter(api.NewHandler(store, catalog, cfg))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

func createUnit(t *testing.T, h http.Handler, id string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/units", api.CreateUnitRequest{ID: id, Description: "test unit"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// UNIT ENDPOINT TESTS
// =============================================================================

func TestAPI_CreateAndGetUnit(t *testing.T) {
	h := newTestServer(t)

	createUnit(t, h, "unit-1")

	rec := doJSON(t, h, http.MethodGet, "/api/units/unit-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	unit := decode[api.UnitDTO](t, rec)
	assert.Equal(t, "unit-1", unit.ID)
	assert.True(t, unit.Active)

	rec = doJSON(t, h, http.MethodGet, "/api/units/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CreateUnit_MissingID(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/units", api.CreateUnitRequest{Description: "no id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RATE ENDPOINT TESTS
// =============================================================================

func TestAPI_RateLifecycle(t *testing.T) {
	h := newTestServer(t)

	// Open the first version.
	rec := doJSON(t, h, http.MethodPost, "/api/rates/TARIFA_UNICA",
		api.OpenRateRequest{Value: 22900, StartDate: "2024-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode[api.RateVersionDTO](t, rec)
	assert.Equal(t, "22900.00", opened.Value)
	assert.Nil(t, opened.EndDate)

	// A second open version conflicts.
	rec = doJSON(t, h, http.MethodPost, "/api/rates/TARIFA_UNICA",
		api.OpenRateRequest{Value: 25000, StartDate: "2025-01-01"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Superseding closes and replaces.
	rec = doJSON(t, h, http.MethodPost, "/api/rates/TARIFA_UNICA/supersede",
		api.SupersedeRateRequest{Value: 25000, StartDate: "2025-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/rates/TARIFA_UNICA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]api.RateVersionDTO](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, "25000.00", history[0].Value)
	require.NotNil(t, history[1].EndDate)
	assert.Equal(t, "2024-12-31", *history[1].EndDate)

	// Effective lookup on each side of the boundary.
	rec = doJSON(t, h, http.MethodGet, "/api/rates/TARIFA_UNICA/effective?on=2024-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "22900.00", decode[api.RateVersionDTO](t, rec).Value)

	rec = doJSON(t, h, http.MethodGet, "/api/rates/TARIFA_UNICA/effective?on=2025-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "25000.00", decode[api.RateVersionDTO](t, rec).Value)

	// Before the first version there is no rate.
	rec = doJSON(t, h, http.MethodGet, "/api/rates/TARIFA_UNICA/effective?on=2023-06-01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_OpenRate_UnknownConcept(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/rates/NO_SUCH_CONCEPT",
		api.OpenRateRequest{Value: 100, StartDate: "2024-01-01"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_OpenRate_ManualConcept(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/rates/OTROS_CARGOS",
		api.OpenRateRequest{Value: 100, StartDate: "2024-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BREAKDOWN ENDPOINT TESTS
// =============================================================================

func TestAPI_Breakdown_FullLegacyFigures(t *testing.T) {
	h := newTestServer(t)
	createUnit(t, h, "unit-1")

	rec := doJSON(t, h, http.MethodPost, "/api/units/unit-1/breakdown", api.BreakdownRequest{
		UnitValue:     500000,
		Tariff:        26564,
		Dues:          17883,
		StarFund:      100,
		EffectiveDate: "2024-03-01",
		BatchTag:      "BATCH-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[api.BreakdownResultDTO](t, rec)
	assert.True(t, result.Success)
	assert.False(t, result.Exempt)
	// 2 insurance + 1 tariff + 5 dues + 1 star fund
	assert.Len(t, result.Details, 9)

	amounts := make(map[string]string)
	for _, d := range result.Details {
		amounts[d.ConceptName] = d.AmountApplied
		assert.Equal(t, "BATCH-1", d.SourceTag)
	}
	assert.Equal(t, "22900.00", amounts["TARIFA_UNICA"])
	assert.Equal(t, "6700.00", amounts["SEGURO_BROKER"])
	assert.Equal(t, "16200.00", amounts["SEGURO_ADAVEC"])
	assert.Equal(t, "103.00", amounts["ADAVEC_AMDA"])

	// The run is audited.
	rec = doJSON(t, h, http.MethodGet, "/api/breakdown-runs?unit_id=unit-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]api.BreakdownRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].Status)
	assert.Equal(t, 9, runs[0].DetailCount)
}

func TestAPI_Breakdown_AllZero_Exempt(t *testing.T) {
	h := newTestServer(t)
	createUnit(t, h, "unit-1")

	rec := doJSON(t, h, http.MethodPost, "/api/units/unit-1/breakdown", api.BreakdownRequest{
		EffectiveDate: "2024-03-01",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[api.BreakdownResultDTO](t, rec)
	assert.True(t, result.Success)
	assert.True(t, result.Exempt)
	assert.Empty(t, result.Details)

	rec = doJSON(t, h, http.MethodGet, "/api/breakdown-runs?unit_id=unit-1", nil)
	runs := decode[[]api.BreakdownRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "exempt", runs[0].Status)
}

func TestAPI_Breakdown_UnknownUnit(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/units/ghost/breakdown", api.BreakdownRequest{Tariff: 26564})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// FEE ENDPOINT TESTS
// =============================================================================

func TestAPI_ManualFee_RecordAndTotals(t *testing.T) {
	h := newTestServer(t)
	createUnit(t, h, "unit-1")

	rec := doJSON(t, h, http.MethodPost, "/api/units/unit-1/manual-fees",
		api.ManualFeeRequest{Concept: "OTROS_CARGOS", Amount: 450, SourceTag: "TICKET-7"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.FeeDetailDTO](t, rec)
	assert.Equal(t, "450.00", created.AmountApplied)

	// Manual entry on a rate-driven concept is a client error.
	rec = doJSON(t, h, http.MethodPost, "/api/units/unit-1/manual-fees",
		api.ManualFeeRequest{Concept: "TARIFA_UNICA", Amount: 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Zero amount is a client error.
	rec = doJSON(t, h, http.MethodPost, "/api/units/unit-1/manual-fees",
		api.ManualFeeRequest{Concept: "OTROS_CARGOS", Amount: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/units/unit-1/totals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decode[api.UnitTotalsDTO](t, rec)
	assert.Equal(t, "450.00", totals.TotalNoTax)
	assert.Equal(t, "450.00", totals.GrandTotal)
}

func TestAPI_RateFee_OverrideIgnored(t *testing.T) {
	h := newTestServer(t)
	createUnit(t, h, "unit-1")

	rec := doJSON(t, h, http.MethodPost, "/api/rates/TARIFA_UNICA",
		api.OpenRateRequest{Value: 22900, StartDate: "2024-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code)

	override := 18000.0
	rec = doJSON(t, h, http.MethodPost, "/api/units/unit-1/rate-fees", api.RateFeeRequest{
		Concept:       "TARIFA_UNICA",
		EffectiveDate: "2024-06-01",
		Override:      &override,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[api.RateFeeResponse](t, rec)
	assert.Equal(t, "22900.00", resp.Detail.AmountApplied)
	require.Len(t, resp.Notes, 1)
	assert.Contains(t, resp.Notes[0], "override")
}

func TestAPI_DetailCorrections(t *testing.T) {
	h := newTestServer(t)
	createUnit(t, h, "unit-1")

	rec := doJSON(t, h, http.MethodPost, "/api/units/unit-1/manual-fees",
		api.ManualFeeRequest{Concept: "OTROS_CARGOS", Amount: 450})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[api.FeeDetailDTO](t, rec)

	rec = doJSON(t, h, http.MethodPut, fmt.Sprintf("/api/details/%s", created.ID),
		api.ReplaceAmountRequest{Amount: 500})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/units/unit-1/details", nil)
	details := decode[[]api.FeeDetailDTO](t, rec)
	require.Len(t, details, 1)
	assert.Equal(t, "500.00", details[0].AmountApplied)

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/details/%s", created.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/details/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_DuesTotal(t *testing.T) {
	h := newTestServer(t)
	createUnit(t, h, "unit-1")

	rec := doJSON(t, h, http.MethodPost, "/api/units/unit-1/breakdown", api.BreakdownRequest{
		Dues:          17883,
		EffectiveDate: "2024-03-01",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/units/unit-1/dues-total", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]string](t, rec)
	assert.Equal(t, "17883.00", resp["dues_total"], "itemized dues must add back to the legacy figure")
}

// =============================================================================
// CONCEPT ENDPOINT TESTS
// =============================================================================

func TestAPI_ListConcepts(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/concepts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	concepts := decode[[]api.ConceptDTO](t, rec)
	assert.Len(t, concepts, 10)

	rec = doJSON(t, h, http.MethodGet, "/api/concepts/manual", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	manual := decode[[]api.ConceptDTO](t, rec)
	require.Len(t, manual, 1)
	assert.Equal(t, "OTROS_CARGOS", manual[0].Name)
	assert.Equal(t, "manual", manual[0].Kind)
}
