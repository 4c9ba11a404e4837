package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/tariff-engine/billing"
	"github.com/warp/tariff-engine/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine(t *testing.T) (*billing.BreakdownEngine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return billing.NewBreakdownEngine(newTestCatalog(t), mem, billing.DefaultConfig()), mem
}

func figures(unitValue, tariff, dues, starFund float64) billing.LegacyFigures {
	return billing.LegacyFigures{
		UnitValue:     billing.NewMoney(unitValue),
		Tariff:        billing.NewMoney(tariff),
		Dues:          billing.NewMoney(dues),
		StarFund:      billing.NewMoney(starFund),
		EffectiveDate: billing.NewDate(2024, time.March, 1),
	}
}

func amountsByConcept(details []billing.FeeDetail) map[string]string {
	out := make(map[string]string, len(details))
	for _, d := range details {
		out[d.ConceptName] = d.AmountApplied.String()
	}
	return out
}

// failingDetailStore rejects batch inserts to simulate a persistence fault.
type failingDetailStore struct {
	*store.Memory
}

func (f *failingDetailStore) InsertDetails(_ context.Context, _ []billing.FeeDetail) error {
	return errors.New("disk full")
}

// =============================================================================
// TARIFF NORMALIZATION TESTS
// =============================================================================

func TestBreakdown_LegacyGrossTariff_NormalizedToNet(t *testing.T) {
	// GIVEN: The legacy tax-inclusive tariff figure 26564.00
	// WHEN: Breaking it down
	// THEN: One TARIFA_UNICA line at the tax-exclusive base 22900.00

	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 26564.00, 0, 0))
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err)
	}
	if len(res.Details) != 1 {
		t.Fatalf("expected 1 detail, got %d", len(res.Details))
	}
	d := res.Details[0]
	if d.ConceptName != billing.ConceptTarifaUnica {
		t.Errorf("expected TARIFA_UNICA, got %s", d.ConceptName)
	}
	if d.AmountApplied.String() != "22900.00" {
		t.Errorf("expected 22900.00, got %s", d.AmountApplied)
	}
}

func TestBreakdown_GrossTariffWithinTolerance_StillNormalized(t *testing.T) {
	// GIVEN: A tariff one cent off the legacy constant
	// WHEN: Breaking it down
	// THEN: Still recognized and normalized

	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 26564.01, 0, 0))
	if !res.Success || len(res.Details) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Details[0].AmountApplied.String() != "22900.00" {
		t.Errorf("expected 22900.00, got %s", res.Details[0].AmountApplied)
	}
}

func TestBreakdown_UnknownTariff_RecordedVerbatim(t *testing.T) {
	// GIVEN: A tariff that matches no known constant
	// WHEN: Breaking it down
	// THEN: Recorded as-is, never decomposed by guesswork

	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 15000.00, 0, 0))
	if !res.Success || len(res.Details) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Details[0].AmountApplied.String() != "15000.00" {
		t.Errorf("expected 15000.00 verbatim, got %s", res.Details[0].AmountApplied)
	}
}

// =============================================================================
// COMPOSITE DUES TESTS
// =============================================================================

func TestBreakdown_CompositeDues_ExpandsToFiveLines(t *testing.T) {
	// GIVEN: The legacy composite dues figure 17883.00
	// WHEN: Breaking it down
	// THEN: Exactly the five fixed sub-fee lines

	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 0, 17883.00, 0))
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err)
	}
	if len(res.Details) != 5 {
		t.Fatalf("expected 5 details, got %d", len(res.Details))
	}

	want := map[string]string{
		billing.ConceptAdavecAsociacion:    "1200.00",
		billing.ConceptAdavecConvencion:    "1500.00",
		billing.ConceptAdavecAmda:          "103.00",
		billing.ConceptAsobensPublicidad:   "8000.00",
		billing.ConceptAsobensCapacitacion: "5000.00",
	}
	got := amountsByConcept(res.Details)
	for concept, amount := range want {
		if got[concept] != amount {
			t.Errorf("%s: expected %s, got %s", concept, amount, got[concept])
		}
	}
}

func TestBreakdown_OtherDues_SingleAssociationLine(t *testing.T) {
	// GIVEN: A dues figure that is not the known composite
	// WHEN: Breaking it down
	// THEN: One ADAVEC_ASOCIACION line carrying the full figure

	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 0, 2000.00, 0))
	if !res.Success || len(res.Details) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	d := res.Details[0]
	if d.ConceptName != billing.ConceptAdavecAsociacion {
		t.Errorf("expected ADAVEC_ASOCIACION, got %s", d.ConceptName)
	}
	if d.AmountApplied.String() != "2000.00" {
		t.Errorf("expected 2000.00, got %s", d.AmountApplied)
	}
}

// =============================================================================
// INSURANCE AND STAR FUND TESTS
// =============================================================================

func TestBreakdown_InsurancePremiums_FromUnitValue(t *testing.T) {
	// GIVEN: A unit valued at 500000.00
	// WHEN: Breaking down with only the unit value present
	// THEN: Broker premium 6700.00 (1.34%) and association premium 16200.00 (3.24%)

	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(500000.00, 0, 0, 0))
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err)
	}
	got := amountsByConcept(res.Details)
	if got[billing.ConceptSeguroBroker] != "6700.00" {
		t.Errorf("broker premium: expected 6700.00, got %s", got[billing.ConceptSeguroBroker])
	}
	if got[billing.ConceptSeguroAdavec] != "16200.00" {
		t.Errorf("association premium: expected 16200.00, got %s", got[billing.ConceptSeguroAdavec])
	}
}

func TestBreakdown_StarFund_RecordedVerbatim(t *testing.T) {
	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 0, 0, 350.50))
	if !res.Success || len(res.Details) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Details[0].ConceptName != billing.ConceptFondoEstrella {
		t.Errorf("expected FONDO_ESTRELLA, got %s", res.Details[0].ConceptName)
	}
	if res.Details[0].AmountApplied.String() != "350.50" {
		t.Errorf("expected 350.50, got %s", res.Details[0].AmountApplied)
	}
}

// =============================================================================
// EXEMPTION AND STEP INDEPENDENCE TESTS
// =============================================================================

func TestBreakdown_AllFiguresZero_ExemptSuccess(t *testing.T) {
	// GIVEN: A unit with every legacy figure at zero
	// WHEN: Breaking it down
	// THEN: Success with exempt status and no rows written

	engine, mem := newTestEngine(t)
	ctx := context.Background()

	res := engine.Breakdown(ctx, "unit-1", figures(0, 0, 0, 0))
	if !res.Success {
		t.Fatalf("exempt run must succeed: %v", res.Err)
	}
	if !res.Exempt {
		t.Error("expected exempt status")
	}
	if len(res.Details) != 0 {
		t.Errorf("expected no details, got %d", len(res.Details))
	}
	if !res.TotalApplied.IsZero() {
		t.Errorf("expected zero total, got %s", res.TotalApplied)
	}

	stored, _ := mem.DetailsByUnit(ctx, "unit-1")
	if len(stored) != 0 {
		t.Errorf("exempt run must not persist rows, found %d", len(stored))
	}
}

func TestBreakdown_MissingTariff_OtherStepsStillRun(t *testing.T) {
	// GIVEN: No tariff figure but dues and star fund present
	// WHEN: Breaking it down
	// THEN: Missing step warns, the others still produce lines

	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 0, 2000.00, 500.00))
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err)
	}
	if len(res.Details) != 2 {
		t.Fatalf("expected 2 details, got %d", len(res.Details))
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning for the missing tariff")
	}
}

func TestBreakdown_TotalApplied_SumsAllLines(t *testing.T) {
	engine, _ := newTestEngine(t)

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 26564.00, 17883.00, 100.00))
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err)
	}
	// 22900 + (1200 + 1500 + 103 + 8000 + 5000) + 100
	if res.TotalApplied.String() != "38803.00" {
		t.Errorf("expected 38803.00, got %s", res.TotalApplied)
	}
}

// =============================================================================
// IDEMPOTENCE AND PERSISTENCE TESTS
// =============================================================================

func TestBreakdown_RepeatedRun_ProducesTwoIdenticalRowSets(t *testing.T) {
	// GIVEN: One successful breakdown of a unit's figures
	// WHEN: Running the identical figures again
	// THEN: A second, independent set of identical rows is appended

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	fig := figures(0, 26564.00, 17883.00, 0)

	first := engine.Breakdown(ctx, "unit-1", fig)
	second := engine.Breakdown(ctx, "unit-1", fig)
	if !first.Success || !second.Success {
		t.Fatalf("both runs should succeed: %v / %v", first.Err, second.Err)
	}
	if len(first.Details) != len(second.Details) {
		t.Fatalf("runs differ in size: %d vs %d", len(first.Details), len(second.Details))
	}

	stored, _ := mem.DetailsByUnit(ctx, "unit-1")
	if len(stored) != len(first.Details)*2 {
		t.Errorf("expected %d rows after two runs, got %d", len(first.Details)*2, len(stored))
	}

	firstAmounts := amountsByConcept(first.Details)
	for concept, amount := range amountsByConcept(second.Details) {
		if firstAmounts[concept] != amount {
			t.Errorf("%s: runs disagree (%s vs %s)", concept, firstAmounts[concept], amount)
		}
	}
}

func TestBreakdown_PersistenceFailure_NoPartialResult(t *testing.T) {
	// GIVEN: A store that rejects batch inserts
	// WHEN: Breaking down valid figures
	// THEN: Run reports failure, no details and a zero total

	mem := store.NewMemory()
	engine := billing.NewBreakdownEngine(newTestCatalog(t), &failingDetailStore{mem}, billing.DefaultConfig())

	res := engine.Breakdown(context.Background(), "unit-1", figures(0, 26564.00, 0, 0))
	if res.Success {
		t.Fatal("run must fail when persistence fails")
	}
	if !errors.Is(res.Err, billing.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", res.Err)
	}
	if len(res.Details) != 0 {
		t.Errorf("failed run must expose no details, got %d", len(res.Details))
	}
	if !res.TotalApplied.IsZero() {
		t.Errorf("failed run must have zero total, got %s", res.TotalApplied)
	}
}
