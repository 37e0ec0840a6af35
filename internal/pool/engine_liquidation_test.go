package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/apogeefi/lendcore/internal/fixedpoint"
	"github.com/apogeefi/lendcore/internal/ledger"
	"github.com/apogeefi/lendcore/internal/oracle"
)

func setupBorrowerPosition(t *testing.T, supplyAmount, collateralAmount, borrowAmount int64) (*Pool, *oracle.Oracle, *ledger.Book) {
	t.Helper()
	p, ora, book := newTestPool(t)
	if err := book.Credit(debtAsset, "alice", fixedpoint.New(supplyAmount)); err != nil {
		t.Fatalf("credit supplier: %v", err)
	}
	if _, err := p.Supply("alice", "alice", debtAsset, fixedpoint.New(supplyAmount), 0); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := book.Credit(collAsset, "bob", fixedpoint.New(collateralAmount)); err != nil {
		t.Fatalf("credit collateral: %v", err)
	}
	if err := p.DepositCollateral("bob", "bob", collAsset, fixedpoint.New(collateralAmount), 0); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := p.Borrow("bob", "bob", debtAsset, fixedpoint.New(borrowAmount), 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return p, ora, book
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	p, _, book := setupBorrowerPosition(t, 10_000, 1_000, 500)
	if err := book.Credit(debtAsset, "liquidator", fixedpoint.New(100)); err != nil {
		t.Fatalf("credit liquidator: %v", err)
	}
	if _, _, err := p.Liquidate("liquidator", "bob", debtAsset, fixedpoint.New(100), collAsset, 0); !errors.Is(err, ErrPositionHealthy) {
		t.Fatalf("expected ErrPositionHealthy, got %v", err)
	}
}

// TestLiquidateSeizesCollateralWithBonus walks the worked example of
// spec.md §4.5: a collateral price drop makes a 700-debt position
// unhealthy, a liquidator repays 300 of it, and receives collateral worth
// exactly repay*price(repay)*(1+bonus)/price(collateral).
func TestLiquidateSeizesCollateralWithBonus(t *testing.T) {
	p, ora, book := setupBorrowerPosition(t, 10_000, 1_000, 700)

	// Drop collateral price from 1.0 to 0.5: collateral_value 500, debt_value
	// 700, health_factor = 500*0.8/700 ~= 0.571 < 1.
	if err := ora.SetPrice(admin, collAsset, big.NewInt(5_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	if err := book.Credit(debtAsset, "liquidator", fixedpoint.New(300)); err != nil {
		t.Fatalf("credit liquidator: %v", err)
	}

	repaid, seized, err := p.Liquidate("liquidator", "bob", debtAsset, fixedpoint.New(300), collAsset, 0)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if repaid.Cmp(fixedpoint.New(300)) != 0 {
		t.Fatalf("repaid %s, want 300", repaid)
	}
	// seized = 300 * 1.0 * 1.05 / 0.5 = 630.
	wantSeized := fixedpoint.New(630)
	if seized.Cmp(wantSeized) != 0 {
		t.Fatalf("seized %s, want %s", seized, wantSeized)
	}

	remainingCollateral, err := p.GetUserCollateral("bob", collAsset)
	if err != nil {
		t.Fatalf("get collateral: %v", err)
	}
	wantRemaining := new(big.Int).Sub(fixedpoint.New(1_000), wantSeized)
	if remainingCollateral.Cmp(wantRemaining) != 0 {
		t.Fatalf("remaining collateral %s, want %s", remainingCollateral, wantRemaining)
	}

	liquidatorCollateral, err := book.Balance(collAsset, "liquidator")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if liquidatorCollateral.Cmp(wantSeized) != 0 {
		t.Fatalf("liquidator collateral balance %s, want %s", liquidatorCollateral, wantSeized)
	}
}

func TestLiquidateCapsRepayAtCloseFactor(t *testing.T) {
	p, ora, book := setupBorrowerPosition(t, 10_000, 1_000, 700)
	if err := ora.SetPrice(admin, collAsset, big.NewInt(5_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := book.Credit(debtAsset, "liquidator", fixedpoint.New(10_000)); err != nil {
		t.Fatalf("credit liquidator: %v", err)
	}

	// close_factor is 50%, so at most 350 of the 700 owed may be repaid in
	// one call even though the liquidator offers to repay all of it.
	repaid, _, err := p.Liquidate("liquidator", "bob", debtAsset, fixedpoint.New(700), collAsset, 0)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if repaid.Cmp(fixedpoint.New(350)) != 0 {
		t.Fatalf("repaid %s, want 350 (close factor ceiling)", repaid)
	}
}

// TestLiquidateBackSolvesWhenCollateralInsufficient covers the cap-and-
// back-solve branch of spec.md §4.5: the liquidation bonus formula would
// seize more collateral than the borrower has, so the seize is capped at
// the full remaining collateral and actual_repay is reduced to match.
func TestLiquidateBackSolvesWhenCollateralInsufficient(t *testing.T) {
	p, ora, book := setupBorrowerPosition(t, 10_000, 300, 225)
	// Crash collateral price to 0.2: collateral_value 60, debt_value 225,
	// health_factor = 60*0.8/225 ~= 0.213 < 1. close_factor caps repay at
	// 112.5, which at this crashed price would want to seize far more
	// collateral than the borrower holds.
	if err := ora.SetPrice(admin, collAsset, big.NewInt(2_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := book.Credit(debtAsset, "liquidator", fixedpoint.New(10_000)); err != nil {
		t.Fatalf("credit liquidator: %v", err)
	}

	repaid, seized, err := p.Liquidate("liquidator", "bob", debtAsset, fixedpoint.New(112), collAsset, 0)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Cmp(fixedpoint.New(300)) != 0 {
		t.Fatalf("seized %s, want the full 300 remaining collateral", seized)
	}
	if repaid.Sign() <= 0 || repaid.Cmp(fixedpoint.New(112)) >= 0 {
		t.Fatalf("repaid %s should be reduced below the requested 112 once back-solved", repaid)
	}

	remaining, err := p.GetUserCollateral("bob", collAsset)
	if err != nil {
		t.Fatalf("get collateral: %v", err)
	}
	if remaining.Sign() != 0 {
		t.Fatalf("remaining collateral %s, want 0", remaining)
	}
}
