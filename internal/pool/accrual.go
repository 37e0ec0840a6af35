package pool

import (
	"math/big"

	"github.com/apogeefi/lendcore/internal/fixedpoint"
	"github.com/apogeefi/lendcore/internal/ratemodel"
)

func utilization(totalLiquidity, totalDebt *big.Int) (*big.Int, error) {
	return ratemodel.Utilization(totalLiquidity, totalDebt)
}

// SecondsPerYear is the denominator used for simple (non-compounding)
// interest, chosen for determinism and cheap arithmetic (spec.md §4.4).
const SecondsPerYear = 31_536_000

// accrualResult is the projected post-accrual state of a reserve. It is
// computed without mutating the reserve so read-only accessors can report
// up-to-date values without violating the "reads observe only post-commit
// values" rule of spec.md §5.
type accrualResult struct {
	BorrowIndex    *big.Int
	SupplyIndex    *big.Int
	TotalDebt      *big.Int
	ReserveBalance *big.Int
	LastUpdateTime int64
	InterestApplied bool
}

// computeAccrual implements spec.md §4.4 steps 1-10 against a snapshot of
// the reserve, without mutating it.
func (p *Pool) computeAccrual(r *Reserve, now int64) (accrualResult, error) {
	last := r.LastUpdateTime
	dt := now - last
	if dt < 0 {
		dt = 0
	}
	if dt == 0 || fixedpoint.IsZero(r.TotalDebt) {
		return accrualResult{
			BorrowIndex:    new(big.Int).Set(r.BorrowIndex),
			SupplyIndex:    new(big.Int).Set(r.SupplyIndex),
			TotalDebt:      new(big.Int).Set(r.TotalDebt),
			ReserveBalance: new(big.Int).Set(r.ReserveBalance),
			LastUpdateTime: now,
		}, nil
	}

	u, err := p.rate.Utilization(r)
	if err != nil {
		return accrualResult{}, err
	}
	rb, err := p.rate.source.BorrowRate(u)
	if err != nil {
		return accrualResult{}, err
	}

	// factor = S + R_b * dt / SECONDS_PER_YEAR, rounded up (debt side).
	rbDt, err := checkedMulDivRound(rb, big.NewInt(dt), big.NewInt(SecondsPerYear), fixedpoint.RoundUp)
	if err != nil {
		return accrualResult{}, err
	}
	factor, err := checkedAdd(fixedpoint.Scale, rbDt)
	if err != nil {
		return accrualResult{}, err
	}

	// new_borrow_index = borrow_index * factor / S, rounded up.
	newBorrowIndex, err := checkedMulDivRound(r.BorrowIndex, factor, fixedpoint.Scale, fixedpoint.RoundUp)
	if err != nil {
		return accrualResult{}, err
	}

	// interest = total_debt * (new_borrow_index - borrow_index) / borrow_index, rounded up.
	indexDelta, err := checkedSub(newBorrowIndex, r.BorrowIndex)
	if err != nil {
		return accrualResult{}, err
	}
	interest, err := checkedMulDivRound(r.TotalDebt, indexDelta, r.BorrowIndex, fixedpoint.RoundUp)
	if err != nil {
		return accrualResult{}, err
	}

	// reserve_cut = interest * reserve_factor / S, rounded down.
	reserveCut, err := checkedMulDivRound(interest, p.cfg.ReserveFactor, fixedpoint.Scale, fixedpoint.RoundDown)
	if err != nil {
		return accrualResult{}, err
	}

	newTotalDebt, err := checkedAdd(r.TotalDebt, interest)
	if err != nil {
		return accrualResult{}, err
	}
	newReserveBalance, err := checkedAdd(r.ReserveBalance, reserveCut)
	if err != nil {
		return accrualResult{}, err
	}

	supplierGain, err := checkedSub(interest, reserveCut)
	if err != nil {
		return accrualResult{}, err
	}

	// SupplyIndex tracks growth of the suppliers' claim on the reserve:
	// total_liquidity + total_debt - reserve_balance, the quantity invariant
	// 3 of spec.md §3 prices shares against. Driving it off that quantity
	// directly (rather than the literal total_liquidity+total_debt ratio of
	// spec.md §4.4 step 9, which omits the reserve_balance carve-out and can
	// drift from the share price it is meant to report) keeps SupplyIndex and
	// the share-price ratio used by Supply/Withdraw in exact agreement; see
	// DESIGN.md.
	newSupplyIndex := new(big.Int).Set(r.SupplyIndex)
	if !fixedpoint.IsZero(supplierGain) && r.TotalShares.Cmp(r.LockedShares) > 0 {
		suppliedBeforeSum, err := checkedAdd(r.TotalLiquidity, r.TotalDebt)
		if err != nil {
			return accrualResult{}, err
		}
		assetsBefore, err := checkedSub(suppliedBeforeSum, r.ReserveBalance)
		if err != nil {
			return accrualResult{}, err
		}
		assetsAfter, err := checkedAdd(assetsBefore, supplierGain)
		if err != nil {
			return accrualResult{}, err
		}
		if assetsBefore.Sign() > 0 {
			newSupplyIndex, err = checkedMulDivRound(r.SupplyIndex, assetsAfter, assetsBefore, fixedpoint.RoundDown)
			if err != nil {
				return accrualResult{}, err
			}
		}
	}

	return accrualResult{
		BorrowIndex:     newBorrowIndex,
		SupplyIndex:     newSupplyIndex,
		TotalDebt:       newTotalDebt,
		ReserveBalance:  newReserveBalance,
		LastUpdateTime:  now,
		InterestApplied: true,
	}, nil
}

// accrue applies computeAccrual's projection back onto the reserve. It is
// the only accrual entry point that mutates state, invoked by every write
// operation that reads or changes a reserve's liquidity or debt, before it
// does so. DepositCollateral and the fee withdrawals do not accrue.
func (p *Pool) accrue(r *Reserve, now int64) error {
	res, err := p.computeAccrual(r, now)
	if err != nil {
		return err
	}
	r.BorrowIndex = res.BorrowIndex
	r.SupplyIndex = res.SupplyIndex
	r.TotalDebt = res.TotalDebt
	r.ReserveBalance = res.ReserveBalance
	r.LastUpdateTime = res.LastUpdateTime
	return nil
}

// rateAdapter bundles the rate model and the utilization helper so
// computeAccrual does not need direct access to Pool's other fields.
type rateAdapter struct {
	source RateSource
}

func (a rateAdapter) Utilization(r *Reserve) (*big.Int, error) {
	return utilization(r.TotalLiquidity, r.TotalDebt)
}
