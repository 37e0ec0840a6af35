// Package pool implements the peer-to-pool lending state machine: reserves,
// user positions, and the supply/withdraw/collateral/borrow/repay/liquidate
// operations of spec.md §4.5, enforcing the loan-to-value and health-factor
// invariants of §3 in a single fixed-point domain.
package pool

import (
	"math/big"

	"github.com/apogeefi/lendcore/internal/fixedpoint"
	"github.com/apogeefi/lendcore/internal/ratemodel"
)

// MinimumLiquidity is permanently locked out of the first supplier's shares
// to defend against the donate-then-mint inflation attack described in
// spec.md §9 Open Question (i): rather than minting the first depositor's
// shares 1:1 with no floor, a small amount is burned into the reserve so a
// griefer cannot donate dust, mint a single wei of shares, then inflate the
// share price against the next real depositor.
var MinimumLiquidity = big.NewInt(1_000)

// Config is the immutable global configuration of spec.md §3, frozen at
// Initialize. Any change requires re-initializing a new Pool.
//
// OriginationFee, FeeCollector and the three BonusShare fields are additive
// beyond spec.md's literal contract (see SPEC_FULL.md §4): they let Borrow
// skim a fee at disbursement time and let Liquidate route part of the
// liquidation bonus to the protocol and a developer fee collector instead of
// paying it entirely to the liquidator. Leaving OriginationFee at zero and
// LiquidatorBonusShare at Scale (the DefaultConfig values) reproduces
// spec.md's literal behavior exactly.
type Config struct {
	Admin                string
	CollateralAsset      string
	BorrowAsset          string
	LTV                  *big.Int
	LiquidationThreshold *big.Int
	LiquidationBonus     *big.Int
	CloseFactor          *big.Int
	ReserveFactor        *big.Int

	OriginationFee *big.Int // scale-S fraction of borrowed amount skimmed at Borrow time
	FeeCollector   string   // recipient of record for developer fees; withdrawals are admin-only and do not consult it

	// LiquidatorBonusShare, DeveloperBonusShare and ProtocolBonusShare split
	// the liquidation bonus (the collateral seized above its 1:1 repay
	// value) three ways. They are scale-S fractions that must sum to Scale.
	LiquidatorBonusShare *big.Int
	DeveloperBonusShare  *big.Int
	ProtocolBonusShare   *big.Int
}

// DefaultConfig returns the reference configuration values of spec.md §6,
// with fees disabled and the entire liquidation bonus routed to the
// liquidator, matching spec.md's literal payout exactly.
func DefaultConfig(admin, collateralAsset, borrowAsset string) Config {
	return Config{
		Admin:                admin,
		CollateralAsset:      collateralAsset,
		BorrowAsset:          borrowAsset,
		LTV:                  big.NewInt(7_500_000),
		LiquidationThreshold: big.NewInt(8_000_000),
		LiquidationBonus:     big.NewInt(500_000),
		CloseFactor:          big.NewInt(5_000_000),
		ReserveFactor:        big.NewInt(1_000_000),

		OriginationFee:       big.NewInt(0),
		FeeCollector:         admin,
		LiquidatorBonusShare: new(big.Int).Set(fixedpoint.Scale),
		DeveloperBonusShare:  big.NewInt(0),
		ProtocolBonusShare:   big.NewInt(0),
	}
}

// Reserve is the per-asset accounting state of spec.md §3.
//
// ProtocolFeeBalance and DeveloperFeeBalance accumulate, respectively, the
// origination fee skimmed on Borrow plus the protocol's share of liquidation
// bonuses, and the developer's share of liquidation bonuses. Both are held
// in the pool's ledger custody until withdrawn via WithdrawProtocolFees /
// WithdrawDeveloperFees; neither participates in TotalLiquidity, share
// pricing, or accrual.
type Reserve struct {
	Asset               string
	TotalLiquidity      *big.Int
	TotalDebt           *big.Int
	TotalShares         *big.Int
	LockedShares        *big.Int // permanently burned MinimumLiquidity, counted in TotalShares
	BorrowIndex         *big.Int
	SupplyIndex         *big.Int
	LastUpdateTime      int64
	ReserveBalance      *big.Int
	ProtocolFeeBalance  *big.Int
	DeveloperFeeBalance *big.Int
}

func newReserve(asset string, now int64) *Reserve {
	return &Reserve{
		Asset:               asset,
		TotalLiquidity:      big.NewInt(0),
		TotalDebt:           big.NewInt(0),
		TotalShares:         big.NewInt(0),
		LockedShares:        big.NewInt(0),
		BorrowIndex:         new(big.Int).Set(fixedpoint.Scale),
		SupplyIndex:         new(big.Int).Set(fixedpoint.Scale),
		LastUpdateTime:      now,
		ReserveBalance:      big.NewInt(0),
		ProtocolFeeBalance:  big.NewInt(0),
		DeveloperFeeBalance: big.NewInt(0),
	}
}

func (r *Reserve) clone() *Reserve {
	c := *r
	c.TotalLiquidity = new(big.Int).Set(r.TotalLiquidity)
	c.TotalDebt = new(big.Int).Set(r.TotalDebt)
	c.TotalShares = new(big.Int).Set(r.TotalShares)
	c.LockedShares = new(big.Int).Set(r.LockedShares)
	c.BorrowIndex = new(big.Int).Set(r.BorrowIndex)
	c.SupplyIndex = new(big.Int).Set(r.SupplyIndex)
	c.ReserveBalance = new(big.Int).Set(r.ReserveBalance)
	c.ProtocolFeeBalance = new(big.Int).Set(r.ProtocolFeeBalance)
	c.DeveloperFeeBalance = new(big.Int).Set(r.DeveloperFeeBalance)
	return &c
}

// UserPosition is the per (user, asset) state of spec.md §3. Shares may be
// held on either reserve, since Supply accepts both assets; CollateralAmount
// is only meaningful on the collateral-asset reserve; DebtPrincipal is only
// meaningful on the borrow-asset reserve. Keeping all three on one struct
// mirrors the spec's data model directly rather than splitting into three
// parallel maps.
type UserPosition struct {
	User             string
	Asset            string
	Shares           *big.Int
	DebtPrincipal    *big.Int
	CollateralAmount *big.Int
}

func newUserPosition(user, asset string) *UserPosition {
	return &UserPosition{
		User:             user,
		Asset:            asset,
		Shares:           big.NewInt(0),
		DebtPrincipal:    big.NewInt(0),
		CollateralAmount: big.NewInt(0),
	}
}

func (u *UserPosition) clone() *UserPosition {
	c := *u
	c.Shares = new(big.Int).Set(u.Shares)
	c.DebtPrincipal = new(big.Int).Set(u.DebtPrincipal)
	c.CollateralAmount = new(big.Int).Set(u.CollateralAmount)
	return &c
}

// IsEmpty reports the Empty state of the four-state summary in spec.md §4.5.
func (u *UserPosition) IsEmpty() bool {
	return fixedpoint.IsZero(u.Shares) && fixedpoint.IsZero(u.DebtPrincipal) && fixedpoint.IsZero(u.CollateralAmount)
}

// PriceSource is the boundary interface to the price oracle (spec.md §6).
type PriceSource interface {
	GetPrice(asset string) (*big.Int, error)
}

// TokenLedger is the boundary interface to the host ledger's token transfer
// primitive (spec.md §6). Implementations are assumed atomic: a non-nil
// error means no balances changed.
type TokenLedger interface {
	Transfer(asset, from, to string, amount *big.Int) error
	Balance(asset, who string) (*big.Int, error)
}

// RateSource is the boundary interface to the interest rate model
// (spec.md §4.3 / §6).
type RateSource interface {
	BorrowRate(u *big.Int) (*big.Int, error)
}

type kinkedRateSource struct{ params ratemodel.Params }

func (k kinkedRateSource) BorrowRate(u *big.Int) (*big.Int, error) {
	return ratemodel.BorrowRate(u, k.params)
}
