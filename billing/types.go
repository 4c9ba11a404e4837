/*
Package billing provides the tariff versioning and fee breakdown engine.

PURPOSE:
  This package contains the domain types and algorithms for billing transport
  units: a versioned rate history answering "what did concept X cost on date D",
  a catalog describing how each fee concept is computed, an itemized fee-detail
  ledger with tax-aware aggregation, and a breakdown engine that expands legacy
  aggregated import figures into auditable fee lines.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount backed by decimal.Decimal
  - Date: A day-granular point in time (rate windows are date ranges)
  - FeeConcept: A named fee type with a calculation rule
  - RateVersion: A time-boxed value assigned to a concept
  - FeeDetail: One itemized charge of a concept against a unit
  - LegacyFigures: The aggregated values of one unit's legacy import row

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Auditability: Rate history is append-only; details carry a source tag
  3. Type Safety: Strong typing for IDs prevents mixing unit/concept/detail IDs
  4. Derived values: Tax-inclusive amounts are computed, never stored

SEE ALSO:
  - catalog.go: Concept catalog and seed set
  - rates.go: Rate history lookup and versioning mutations
  - ledger.go: Fee-detail recording and aggregation
  - breakdown.go: Legacy figure decomposition
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount in the ledger's single currency
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int) Money {
	return Money{Value: decimal.NewFromInt(int64(value))}
}

func ZeroMoney() Money {
	return Money{Value: decimal.Zero}
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney()
	}
	return Money{Value: d}
}

func (m Money) Add(b Money) Money             { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money             { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Mul(s decimal.Decimal) Money   { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(s decimal.Decimal) Money   { return Money{Value: m.Value.Div(s)} }
func (m Money) Neg() Money                    { return Money{Value: m.Value.Neg()} }
func (m Money) Round2() Money                 { return Money{Value: m.Value.Round(2)} }
func (m Money) IsZero() bool                  { return m.Value.IsZero() }
func (m Money) IsPositive() bool              { return m.Value.IsPositive() }
func (m Money) IsNegative() bool              { return m.Value.IsNegative() }
func (m Money) GreaterThan(b Money) bool      { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool         { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool            { return m.Value.Equal(b.Value) }
func (m Money) Float64() float64              { f, _ := m.Value.Float64(); return f }
func (m Money) String() string                { return m.Value.StringFixed(2) }

// WithinTolerance reports whether m is within a fixed absolute tolerance of b.
// Used to detect known legacy constants despite rounding in the source feed.
func (m Money) WithinTolerance(b Money, tolerance Money) bool {
	return m.Value.Sub(b.Value).Abs().LessThanOrEqual(tolerance.Value)
}

// WithTax returns the tax-inclusive amount for the given rate (e.g. 0.16).
// Tax-inclusive amounts are always derived, never stored.
func (m Money) WithTax(taxRate decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(decimal.NewFromInt(1).Add(taxRate))}
}

// =============================================================================
// DATE - Day-granular point in time
// =============================================================================

type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func Today() Date {
	now := time.Now()
	return NewDate(now.Year(), now.Month(), now.Day())
}

// Comparison
func (d Date) Before(other Date) bool        { return d.normalize().Before(other.normalize()) }
func (d Date) Equal(other Date) bool         { return d.normalize().Equal(other.normalize()) }
func (d Date) After(other Date) bool         { return d.normalize().After(other.normalize()) }
func (d Date) BeforeOrEqual(other Date) bool { return d.Before(other) || d.Equal(other) }
func (d Date) AfterOrEqual(other Date) bool  { return d.After(other) || d.Equal(other) }

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }
func (d Date) AddYears(n int) Date  { return Date{Time: d.Time.AddDate(n, 0, 0)} }

func (d Date) IsZero() bool   { return d.Time.IsZero() }
func (d Date) String() string { return d.Time.Format("2006-01-02") }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type ConceptID string
type VersionID string
type DetailID string

// =============================================================================
// FEE CONCEPT - Named fee type with a calculation rule
// =============================================================================

type CalculationKind string

const (
	// KindFixedAmount: the effective rate version IS the amount to apply.
	KindFixedAmount CalculationKind = "fixed_amount"

	// KindPercentage: amount = base value * effective rate / 100.
	KindPercentage CalculationKind = "percentage"

	// KindManual: operator-entered amounts only. Manual concepts never have
	// a rate history; rate lookups against them fail fast.
	KindManual CalculationKind = "manual"
)

// FeeConcept describes one fee type. The Name is the stable code used across
// the system (e.g. "TARIFA_UNICA") and is immutable once created. Concepts
// are never hard-deleted; retirement is Active=false.
type FeeConcept struct {
	ID          ConceptID
	Name        string
	Description string
	Kind        CalculationKind
	AppliesTax  bool
	Active      bool
}

// =============================================================================
// RATE VERSION - Time-boxed value assigned to a concept
// =============================================================================

// RateVersion is one window in a concept's rate history. EndDate == nil means
// the version is open-ended ("the current rate"). For a given concept at most
// one version may be open and active at a time; closed versions keep their
// end date and Active=false. Versions are append-only, never deleted.
type RateVersion struct {
	ID          VersionID
	ConceptName string
	Value       Money
	StartDate   Date
	EndDate     *Date
	Active      bool
	CreatedAt   time.Time
}

// Covers reports whether this version's window contains the given date.
func (v RateVersion) Covers(on Date) bool {
	if !v.Active || v.StartDate.After(on) {
		return false
	}
	return v.EndDate == nil || v.EndDate.AfterOrEqual(on)
}

// =============================================================================
// FEE DETAIL - One itemized charge against a unit
// =============================================================================

// FeeDetail is one persisted charge of a concept against a unit.
// AmountApplied is the pre-tax base amount; the tax-inclusive amount is
// derived from the concept's AppliesTax flag at aggregation time.
type FeeDetail struct {
	ID            DetailID
	UnitID        UnitID
	ConceptName   string
	AmountApplied Money
	SourceTag     string
	CreatedAt     time.Time
}

// =============================================================================
// LEGACY FIGURES - One unit's aggregated values from the legacy feed
// =============================================================================

// LegacyFigures carries the handful of aggregated totals the legacy import
// format provides for one unit. It exists only for the duration of one
// breakdown invocation and is never persisted as its own entity.
type LegacyFigures struct {
	UnitValue     Money
	Tariff        Money
	Dues          Money
	StarFund      Money
	EffectiveDate Date
	BatchTag      string
}

// =============================================================================
// BREAKDOWN RESULT - Outcome of one breakdown invocation
// =============================================================================

// BreakdownResult reports what one breakdown run produced. Warnings accumulate
// per skipped or degraded step; they never make the run unsuccessful. A unit
// with no applicable figures is Exempt, not an error.
type BreakdownResult struct {
	Success      bool
	Exempt       bool
	Reason       string
	Details      []FeeDetail
	TotalApplied Money
	Warnings     []string
	Err          error
}

// =============================================================================
// UNIT TOTALS - Tax-partitioned aggregate for one unit
// =============================================================================

type UnitTotals struct {
	TotalNoTax   Money
	TotalWithTax Money
	GrandTotal   Money
}
