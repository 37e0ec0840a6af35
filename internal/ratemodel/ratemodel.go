// Package ratemodel implements the pure utilization-to-rate function of
// spec.md §4.3: a linear region below the kink and a six-segment weighted
// curve above it. The model is deterministic and side-effect free; the pool
// invokes it synchronously at every accrual.
package ratemodel

import (
	"errors"
	"math/big"

	"github.com/apogeefi/lendcore/internal/fixedpoint"
)

var ErrInvalidParams = errors.New("ratemodel: invalid parameters")

// segment describes one of the six weighted sub-segments above U_star. width
// and lowOffset are both expressed as an offset from U_star in scale-S units;
// weight is out of a total of 1000 across all six segments.
type segment struct {
	lowOffset *big.Int
	width     *big.Int
	weight    int64
	wPrev     int64
}

// segments encodes the table in spec.md §4.3: boundaries 80/85/90/95/99/99.5/100%
// with weights 50,100,150,200,250,250 (summing to 1000).
var segments = buildSegments()

func buildSegments() []segment {
	widths := []int64{500_000, 500_000, 500_000, 400_000, 50_000, 50_000}
	weights := []int64{50, 100, 150, 200, 250, 250}
	out := make([]segment, len(widths))
	offset := int64(0)
	wPrev := int64(0)
	for i := range widths {
		out[i] = segment{
			lowOffset: big.NewInt(offset),
			width:     big.NewInt(widths[i]),
			weight:    weights[i],
			wPrev:     wPrev,
		}
		offset += widths[i]
		wPrev += weights[i]
	}
	return out
}

// Params are the annualized, scale-S rate-model parameters: RMin is the
// floor borrow rate, ROpt is the rate at U_star, DeltaR is the additional
// rate accrued between U_star and U=S (so RMax = ROpt + DeltaR), and UStar
// is the kink utilization.
type Params struct {
	RMin   *big.Int
	ROpt   *big.Int
	DeltaR *big.Int
	UStar  *big.Int
}

// DefaultParams mirrors the reference configuration of spec.md §6:
// r_min=0, slope1=400_000 (r_opt), slope2=7_500_000 (delta to r_max=7_900_000),
// U_star=8_000_000 (80%).
func DefaultParams() Params {
	return Params{
		RMin:   big.NewInt(0),
		ROpt:   big.NewInt(400_000),
		DeltaR: big.NewInt(7_500_000),
		UStar:  big.NewInt(8_000_000),
	}
}

// Validate checks that the parameters describe a sane, monotonic curve.
func (p Params) Validate() error {
	if p.RMin == nil || p.ROpt == nil || p.DeltaR == nil || p.UStar == nil {
		return ErrInvalidParams
	}
	if p.RMin.Sign() < 0 || p.DeltaR.Sign() < 0 {
		return ErrInvalidParams
	}
	if p.UStar.Sign() <= 0 || p.UStar.Cmp(fixedpoint.Scale) > 0 {
		return ErrInvalidParams
	}
	if p.ROpt.Cmp(p.RMin) < 0 {
		return ErrInvalidParams
	}
	return nil
}

// RMax returns r_opt + delta_r, the rate at U = S.
func (p Params) RMax() *big.Int {
	return new(big.Int).Add(p.ROpt, p.DeltaR)
}

// BorrowRate computes the annualized, scale-S borrow rate for utilization U.
// U is clamped to [0, S] per spec.md §4.3 edge cases.
func BorrowRate(u *big.Int, p Params) (*big.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	u = fixedpoint.Clamp(u, fixedpoint.Zero(), fixedpoint.Scale)

	if u.Cmp(p.UStar) <= 0 {
		rate, err := fixedpoint.MulDivRound(p.ROpt, u, p.UStar, fixedpoint.RoundDown)
		if err != nil {
			return nil, err
		}
		return fixedpoint.Max(rate, p.RMin), nil
	}

	excess := new(big.Int).Sub(u, p.UStar)
	seg := segmentFor(excess)
	local := new(big.Int).Sub(excess, seg.lowOffset)

	// rate = r_opt + deltaR * (wPrev*width + weight*local) / (width*1000)
	numerator := new(big.Int).Mul(big.NewInt(seg.wPrev), seg.width)
	numerator.Add(numerator, new(big.Int).Mul(big.NewInt(seg.weight), local))
	denominator := new(big.Int).Mul(seg.width, big.NewInt(1000))

	increment, err := fixedpoint.MulDivRound(p.DeltaR, numerator, denominator, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	rate, err := fixedpoint.Add(p.ROpt, increment)
	if err != nil {
		return nil, err
	}
	return rate, nil
}

// segmentFor returns the sub-segment containing excess (an offset from
// U_star, in scale-S units, already known to be > 0 and <= S-U_star by
// construction of the caller).
func segmentFor(excess *big.Int) segment {
	for i, seg := range segments {
		upper := new(big.Int).Add(seg.lowOffset, seg.width)
		if excess.Cmp(upper) <= 0 || i == len(segments)-1 {
			return seg
		}
	}
	return segments[len(segments)-1]
}

// SupplyRate computes supply_rate(U) = borrow_rate(U) * U * (1 - reserve_factor),
// scale-S throughout, rounded down at each step.
func SupplyRate(u, reserveFactor *big.Int, p Params) (*big.Int, error) {
	borrow, err := BorrowRate(u, p)
	if err != nil {
		return nil, err
	}
	uClamped := fixedpoint.Clamp(u, fixedpoint.Zero(), fixedpoint.Scale)

	perUnit, err := fixedpoint.Mul(borrow, uClamped)
	if err != nil {
		return nil, err
	}
	oneMinusReserve, err := fixedpoint.Sub(fixedpoint.Scale, reserveFactor)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Mul(perUnit, oneMinusReserve)
}

// Utilization computes U = totalDebt / (totalLiquidity + totalDebt),
// defined as zero when totalDebt = 0 (spec.md §3 invariant 5).
func Utilization(totalLiquidity, totalDebt *big.Int) (*big.Int, error) {
	if fixedpoint.IsZero(totalDebt) {
		return fixedpoint.Zero(), nil
	}
	denom := new(big.Int).Add(totalLiquidity, totalDebt)
	if denom.Sign() <= 0 {
		return fixedpoint.Zero(), nil
	}
	u, err := fixedpoint.Div(totalDebt, denom)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Clamp(u, fixedpoint.Zero(), fixedpoint.Scale), nil
}
