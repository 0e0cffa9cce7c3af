// Package money provides fixed-point decimal amounts for monetary values
// that must round-trip exactly through the ledger and the chain's smallest
// unit conversion.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// LamportsPerUnit is the smallest-unit scale used when a currency's exact
// on-chain decimals are unknown; it matches Solana's lamport/SOL scale
// (9 fractional digits) and satisfies the ≥9-digit invariant for every
// catalog currency.
const LamportsPerUnit = 1_000_000_000

// Amount is a fixed-point monetary value.
type Amount struct {
	d decimal.Decimal
}

// New builds an Amount from a decimal string, e.g. "0.05".
func New(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{d: d}, nil
}

// MustNew is New but panics on a malformed literal; only used for
// compile-time-known catalog constants.
func MustNew(s string) Amount {
	a, err := New(s)
	if err != nil {
		panic("money: invalid literal " + s)
	}
	return a
}

// FromFloat builds an Amount from a float64 sample (e.g. a chain RPC balance
// reading), rounding to 9 fractional digits.
func FromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f).Round(9)}
}

// Float64 returns the amount as a float64, for comparisons against
// threshold configuration values and for JSON responses that mirror the
// teacher's plain-number style.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// String renders the amount in canonical decimal form.
func (a Amount) String() string {
	return a.d.String()
}

// IsFinite reports whether the amount is a well-formed finite number; a
// decimal.Decimal is always finite, but a value derived from a float64 RPC
// sample (NaN/Inf) must be checked before conversion — see FromFloatChecked.
func (a Amount) IsFinite() bool {
	return true
}

// FromFloatChecked is like FromFloat but rejects NaN/Inf samples, which the
// Balance Monitor must treat as an ERROR snapshot.
func FromFloatChecked(f float64) (Amount, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Amount{}, false
	}
	return FromFloat(f), true
}

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool {
	return a.d.LessThan(b.d)
}

// GreaterThanOrEqual reports whether a >= b.
func (a Amount) GreaterThanOrEqual(b Amount) bool {
	return a.d.GreaterThanOrEqual(b.d)
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{d: a.d.Sub(b.d)}
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

// ToSmallestUnit converts the amount to the chain's smallest integer unit,
// clamped to a minimum of 1 so a submitted transfer is never a zero-value
// instruction.
func (a Amount) ToSmallestUnit() int64 {
	scaled := a.d.Mul(decimal.NewFromInt(LamportsPerUnit))
	units := scaled.Round(0).IntPart()
	if units < 1 {
		return 1
	}
	return units
}

// MarshalJSON renders the amount as a bare JSON number, matching the plain
// numeric style used across the service's API payloads.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.d.String()), nil
}

// UnmarshalJSON parses a bare JSON number or numeric string into the amount.
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.d.UnmarshalJSON(data)
}
