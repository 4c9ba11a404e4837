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

func newTestCatalog(t *testing.T) *billing.ConceptCatalog {
	t.Helper()
	catalog, err := billing.NewCatalog(billing.DefaultConcepts())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return catalog
}

func newVersioning(t *testing.T) (*billing.RateVersioningService, *billing.RateHistory, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	catalog := newTestCatalog(t)
	return billing.NewRateVersioningService(catalog, mem), billing.NewRateHistory(catalog, mem), mem
}

func date(year int, month time.Month, day int) billing.Date {
	return billing.NewDate(year, month, day)
}

// =============================================================================
// VERSION LIFECYCLE TESTS
// =============================================================================

func TestOpenNewVersion_FindEffective_RoundTrip(t *testing.T) {
	// GIVEN: An empty history for TARIFA_UNICA
	// WHEN: Opening a version starting 2024-01-01 and looking up any later date
	// THEN: The lookup returns that version with the opened value

	svc, history, _ := newVersioning(t)
	ctx := context.Background()

	opened, err := svc.OpenNewVersion(ctx, billing.ConceptTarifaUnica, billing.NewMoney(22900), date(2024, time.January, 1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened.EndDate != nil || !opened.Active {
		t.Fatalf("opened version should be open-ended and active, got %+v", opened)
	}

	got, err := history.FindEffective(ctx, billing.ConceptTarifaUnica, date(2025, time.June, 15))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != opened.ID {
		t.Errorf("expected version %s, got %s", opened.ID, got.ID)
	}
	if !got.Value.Equal(billing.NewMoney(22900)) {
		t.Errorf("expected value 22900.00, got %s", got.Value)
	}
}

func TestFindEffective_BeforeFirstVersion_NoActiveRate(t *testing.T) {
	// GIVEN: A version starting 2024-01-01
	// WHEN: Looking up a date before the version starts
	// THEN: NoActiveRateError naming the concept and date

	svc, history, _ := newVersioning(t)
	ctx := context.Background()

	if _, err := svc.OpenNewVersion(ctx, billing.ConceptTarifaUnica, billing.NewMoney(22900), date(2024, time.January, 1)); err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err := history.FindEffective(ctx, billing.ConceptTarifaUnica, date(2023, time.December, 31))
	if !errors.Is(err, billing.ErrNoActiveRate) {
		t.Fatalf("expected ErrNoActiveRate, got %v", err)
	}
	var nar *billing.NoActiveRateError
	if !errors.As(err, &nar) {
		t.Fatalf("expected NoActiveRateError, got %T", err)
	}
	if nar.ConceptName != billing.ConceptTarifaUnica {
		t.Errorf("error should name the concept, got %q", nar.ConceptName)
	}
}

func TestOpenNewVersion_SecondOpenVersion_Rejected(t *testing.T) {
	// GIVEN: TARIFA_UNICA already has an open version
	// WHEN: Opening another open-ended version
	// THEN: Rejected with OverlappingRateError; history still has one version

	svc, history, _ := newVersioning(t)
	ctx := context.Background()

	if _, err := svc.OpenNewVersion(ctx, billing.ConceptTarifaUnica, billing.NewMoney(22900), date(2024, time.January, 1)); err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err := svc.OpenNewVersion(ctx, billing.ConceptTarifaUnica, billing.NewMoney(25000), date(2025, time.January, 1))
	if !errors.Is(err, billing.ErrOverlappingRate) {
		t.Fatalf("expected ErrOverlappingRate, got %v", err)
	}

	versions, err := history.History(ctx, billing.ConceptTarifaUnica)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("expected 1 version after rejected open, got %d", len(versions))
	}
}

func TestSupersedeAndReplace_ClosesPredecessorDayBefore(t *testing.T) {
	// GIVEN: An open version starting 2024-01-01 at 22900
	// WHEN: Superseding with 25000 effective 2025-01-01
	// THEN: Old version closed at 2024-12-31, lookups split at the boundary

	svc, history, _ := newVersioning(t)
	ctx := context.Background()

	old, err := svc.OpenNewVersion(ctx, billing.ConceptTarifaUnica, billing.NewMoney(22900), date(2024, time.January, 1))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	replacement, err := svc.SupersedeAndReplace(ctx, billing.ConceptTarifaUnica, billing.NewMoney(25000), date(2025, time.January, 1))
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if replacement.EndDate != nil {
		t.Fatal("replacement should be open-ended")
	}

	versions, err := history.History(ctx, billing.ConceptTarifaUnica)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}

	// Newest first
	var closed *billing.RateVersion
	for i := range versions {
		if versions[i].ID == old.ID {
			closed = &versions[i]
		}
	}
	if closed == nil || closed.EndDate == nil {
		t.Fatal("old version should be closed")
	}
	if !closed.EndDate.Equal(date(2024, time.December, 31)) {
		t.Errorf("old version should end 2024-12-31, got %s", closed.EndDate)
	}

	// Boundary lookups
	before, err := history.FindEffective(ctx, billing.ConceptTarifaUnica, date(2024, time.December, 31))
	if err != nil {
		t.Fatalf("find before: %v", err)
	}
	if before.ID != old.ID {
		t.Errorf("2024-12-31 should resolve to the old version")
	}
	after, err := history.FindEffective(ctx, billing.ConceptTarifaUnica, date(2025, time.January, 1))
	if err != nil {
		t.Fatalf("find after: %v", err)
	}
	if after.ID != replacement.ID {
		t.Errorf("2025-01-01 should resolve to the replacement")
	}
}

func TestSupersedeAndReplace_StartNotAfterOpen_Rejected(t *testing.T) {
	// GIVEN: An open version starting 2024-06-01
	// WHEN: Superseding with a start on or before that date
	// THEN: Rejected with OverlappingRateError and nothing changes

	svc, history, _ := newVersioning(t)
	ctx := context.Background()

	if _, err := svc.OpenNewVersion(ctx, billing.ConceptTarifaUnica, billing.NewMoney(22900), date(2024, time.June, 1)); err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err := svc.SupersedeAndReplace(ctx, billing.ConceptTarifaUnica, billing.NewMoney(25000), date(2024, time.June, 1))
	if !errors.Is(err, billing.ErrOverlappingRate) {
		t.Fatalf("expected ErrOverlappingRate, got %v", err)
	}

	versions, err := history.History(ctx, billing.ConceptTarifaUnica)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("rejected supersede must not mutate history, got %d versions", len(versions))
	}
	if versions[0].EndDate != nil {
		t.Error("open version must stay open after a rejected supersede")
	}
}

func TestSupersedeAndReplace_NoOpenVersion_OpensFresh(t *testing.T) {
	// GIVEN: No versions for SEGURO_BROKER
	// WHEN: Superseding
	// THEN: Behaves as a plain open

	svc, history, _ := newVersioning(t)
	ctx := context.Background()

	v, err := svc.SupersedeAndReplace(ctx, billing.ConceptSeguroBroker, billing.NewMoney(1.34), date(2024, time.January, 1))
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if v.EndDate != nil || !v.Active {
		t.Fatalf("expected a fresh open version, got %+v", v)
	}

	versions, _ := history.History(ctx, billing.ConceptSeguroBroker)
	if len(versions) != 1 {
		t.Errorf("expected 1 version, got %d", len(versions))
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestOpenNewVersion_ManualConcept_Rejected(t *testing.T) {
	// GIVEN: OTROS_CARGOS is a manual-entry concept
	// WHEN: Trying to open a rate version for it
	// THEN: Rejected; manual concepts carry no rate history

	svc, _, _ := newVersioning(t)

	_, err := svc.OpenNewVersion(context.Background(), billing.ConceptOtrosCargos, billing.NewMoney(100), date(2024, time.January, 1))
	if !errors.Is(err, billing.ErrInvalidCalculationKind) {
		t.Fatalf("expected ErrInvalidCalculationKind, got %v", err)
	}
}

func TestOpenNewVersion_NonPositiveValue_Rejected(t *testing.T) {
	svc, _, _ := newVersioning(t)
	ctx := context.Background()

	for _, value := range []float64{0, -5} {
		_, err := svc.OpenNewVersion(ctx, billing.ConceptTarifaUnica, billing.NewMoney(value), date(2024, time.January, 1))
		if !errors.Is(err, billing.ErrInvalidAmount) {
			t.Errorf("value %v: expected ErrInvalidAmount, got %v", value, err)
		}
	}
}

func TestOpenNewVersion_UnknownConcept_NotFound(t *testing.T) {
	svc, _, _ := newVersioning(t)

	_, err := svc.OpenNewVersion(context.Background(), "NO_SUCH_CONCEPT", billing.NewMoney(100), date(2024, time.January, 1))
	if !billing.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestFindEffective_ManualConcept_Rejected(t *testing.T) {
	// GIVEN: OTROS_CARGOS is manual
	// WHEN: Asking for its effective rate
	// THEN: KindError; manual fees have no derived amount

	_, history, _ := newVersioning(t)

	_, err := history.FindEffective(context.Background(), billing.ConceptOtrosCargos, date(2024, time.June, 1))
	var kindErr *billing.KindError
	if !errors.As(err, &kindErr) {
		t.Fatalf("expected KindError, got %v", err)
	}
	if kindErr.ConceptName != billing.ConceptOtrosCargos {
		t.Errorf("error should name the concept, got %q", kindErr.ConceptName)
	}
}
