// Package fixedpoint implements the scale-7 decimal arithmetic used for every
// monetary and rate value in the lending core. Amounts are big.Int values
// times Scale; there is no floating point anywhere in this package.
package fixedpoint

import (
	"errors"
	"math/big"
)

// Decimals is the number of implicit decimal places carried by every Fp
// value (scale S = 10^7).
const Decimals = 7

// Round selects the rounding discipline applied by MulDivRound. Debt-side
// calculations round up; user-claim calculations round down.
type Round int

const (
	RoundDown Round = iota
	RoundUp
)

// ErrOverflow is returned when a checked operation does not fit in a signed
// 128-bit integer, or a division by zero is attempted.
var ErrOverflow = errors.New("fixedpoint: math overflow")

var (
	// Scale is S = 10^7, the fixed-point unit.
	Scale = big.NewInt(10_000_000)

	int128Bound = new(big.Int).Lsh(big.NewInt(1), 127) // 2^127
	int128Min   = new(big.Int).Neg(int128Bound)
	int128Max   = new(big.Int).Sub(int128Bound, big.NewInt(1))
)

// New returns an Fp from an integer number of whole units (e.g. New(4) is
// 4.0 in scale-S terms, stored as 4*S).
func New(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), Scale)
}

// Raw wraps an already-scaled integer value as an Fp without rescaling.
func Raw(v int64) *big.Int {
	return big.NewInt(v)
}

// Zero returns the additive identity.
func Zero() *big.Int { return big.NewInt(0) }

// fitsInt128 reports whether v fits in a signed 128-bit integer.
func fitsInt128(v *big.Int) bool {
	return v.Cmp(int128Min) >= 0 && v.Cmp(int128Max) <= 0
}

// checked validates that v is representable in 128 bits, returning
// ErrOverflow otherwise.
func checked(v *big.Int) (*big.Int, error) {
	if !fitsInt128(v) {
		return nil, ErrOverflow
	}
	return v, nil
}

// MulDivRound computes a*b/c with a 256-bit-safe big.Int intermediate,
// rounding according to round, and fails with ErrOverflow if c is zero or
// the result does not fit in 128 bits.
func MulDivRound(a, b, c *big.Int, round Round) (*big.Int, error) {
	if c == nil || c.Sign() == 0 {
		return nil, ErrOverflow
	}
	if a == nil {
		a = Zero()
	}
	if b == nil {
		b = Zero()
	}
	product := new(big.Int).Mul(a, b)

	// big.Int.Quo truncates toward zero. Negative divisors are never used in
	// this domain (prices, indices, and amounts are non-negative), so
	// truncation toward zero and flooring coincide; we still handle the
	// general case defensively.
	quo, rem := new(big.Int).QuoRem(product, c, new(big.Int))
	if round == RoundUp && rem.Sign() != 0 {
		if (product.Sign() < 0) == (c.Sign() < 0) {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return checked(quo)
}

// MulDiv computes a*b/c rounding down (truncating). Fails with ErrOverflow
// if c = 0 or the result overflows 128 bits.
func MulDiv(a, b, c *big.Int) (*big.Int, error) {
	return MulDivRound(a, b, c, RoundDown)
}

// Mul computes a*b/S rounding down.
func Mul(a, b *big.Int) (*big.Int, error) {
	return MulDivRound(a, b, Scale, RoundDown)
}

// MulUp computes a*b/S rounding up.
func MulUp(a, b *big.Int) (*big.Int, error) {
	return MulDivRound(a, b, Scale, RoundUp)
}

// Div computes a*S/b rounding down.
func Div(a, b *big.Int) (*big.Int, error) {
	return MulDivRound(a, Scale, b, RoundDown)
}

// DivUp computes a*S/b rounding up.
func DivUp(a, b *big.Int) (*big.Int, error) {
	return MulDivRound(a, Scale, b, RoundUp)
}

// Add computes a+b, failing with ErrOverflow if the result does not fit in
// 128 bits.
func Add(a, b *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Add(a, b))
}

// Sub computes a-b, failing with ErrOverflow if the result does not fit in
// 128 bits.
func Sub(a, b *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Sub(a, b))
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Clamp restricts v to the closed interval [lo, hi].
func Clamp(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(v)
}

// SaturatingMax returns the maximum representable 128-bit value, used to
// represent a health factor of +infinity when a borrower carries no debt.
func SaturatingMax() *big.Int {
	return new(big.Int).Set(int128Max)
}

// IsZero reports whether v is the zero value (nil is treated as zero).
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
