package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/apogeefi/lendcore/internal/fixedpoint"
	"github.com/apogeefi/lendcore/internal/ledger"
	"github.com/apogeefi/lendcore/internal/oracle"
	"github.com/apogeefi/lendcore/internal/ratemodel"
)

// newFeeTestPool builds a pool with a 1% origination fee and a 70/20/10
// liquidation bonus split across liquidator/developer/protocol, so the fee
// and bonus-routing arithmetic can be exercised independently of the
// DefaultConfig's fees-disabled defaults used by the rest of this package's
// tests.
func newFeeTestPool(t *testing.T) (*Pool, *oracle.Oracle, *ledger.Book) {
	t.Helper()
	ora := oracle.New()
	if err := ora.Initialize(admin); err != nil {
		t.Fatalf("oracle init: %v", err)
	}
	if err := ora.SetPrice(admin, collAsset, fixedpoint.New(1)); err != nil {
		t.Fatalf("set coll price: %v", err)
	}
	if err := ora.SetPrice(admin, debtAsset, fixedpoint.New(1)); err != nil {
		t.Fatalf("set debt price: %v", err)
	}

	book := ledger.New()
	p := New()
	cfg := DefaultConfig(admin, collAsset, debtAsset)
	cfg.OriginationFee = big.NewInt(100_000) // 1%
	cfg.FeeCollector = "dev-treasury"
	cfg.LiquidatorBonusShare = big.NewInt(7_000_000) // 70%
	cfg.DeveloperBonusShare = big.NewInt(2_000_000)  // 20%
	cfg.ProtocolBonusShare = big.NewInt(1_000_000)   // 10%
	if err := p.Initialize(cfg, ora, ratemodel.DefaultParams(), book, 0); err != nil {
		t.Fatalf("pool init: %v", err)
	}
	return p, ora, book
}

func TestBorrowSkimsOriginationFeeFromDisbursementOnly(t *testing.T) {
	p, _, book := newFeeTestPool(t)
	if err := book.Credit(debtAsset, "alice", fixedpoint.New(10_000)); err != nil {
		t.Fatalf("credit supplier: %v", err)
	}
	if _, err := p.Supply("alice", "alice", debtAsset, fixedpoint.New(10_000), 0); err != nil {
		t.Fatalf("supply: %v", err)
	}
	// 2000 collateral at price 1.0 puts the 75% LTV ceiling at 1500, so the
	// 1000 borrow below is allowed.
	if err := book.Credit(collAsset, "bob", fixedpoint.New(2_000)); err != nil {
		t.Fatalf("credit collateral: %v", err)
	}
	if err := p.DepositCollateral("bob", "bob", collAsset, fixedpoint.New(2_000), 0); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}

	if err := p.Borrow("bob", "bob", debtAsset, fixedpoint.New(1_000), 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// 1% of 1000 = 10, so bob should only receive 990 even though he owes
	// the full 1000.
	balance, err := book.Balance(debtAsset, "bob")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(fixedpoint.New(990)) != 0 {
		t.Fatalf("disbursed %s, want 990", balance)
	}

	owed, err := p.GetUserDebt("bob", debtAsset, 0)
	if err != nil {
		t.Fatalf("get debt: %v", err)
	}
	if owed.Cmp(fixedpoint.New(1_000)) != 0 {
		t.Fatalf("owed %s, want the full 1000 regardless of the fee", owed)
	}

	balanceFee, err := p.reserveFeeBalanceForTest(debtAsset, protocolFee)
	if err != nil {
		t.Fatalf("protocol fee balance: %v", err)
	}
	if balanceFee.Cmp(fixedpoint.New(10)) != 0 {
		t.Fatalf("protocol fee balance %s, want 10", balanceFee)
	}
}

func TestWithdrawProtocolFeesRequiresAdmin(t *testing.T) {
	p, _, book := newFeeTestPool(t)
	if err := book.Credit(debtAsset, "alice", fixedpoint.New(10_000)); err != nil {
		t.Fatalf("credit supplier: %v", err)
	}
	if _, err := p.Supply("alice", "alice", debtAsset, fixedpoint.New(10_000), 0); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := book.Credit(collAsset, "bob", fixedpoint.New(2_000)); err != nil {
		t.Fatalf("credit collateral: %v", err)
	}
	if err := p.DepositCollateral("bob", "bob", collAsset, fixedpoint.New(2_000), 0); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := p.Borrow("bob", "bob", debtAsset, fixedpoint.New(1_000), 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := p.WithdrawProtocolFees("mallory", debtAsset, fixedpoint.New(10), "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := p.WithdrawProtocolFees(admin, debtAsset, fixedpoint.New(10), "treasury"); err != nil {
		t.Fatalf("withdraw protocol fees: %v", err)
	}
	balance, err := book.Balance(debtAsset, "treasury")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(fixedpoint.New(10)) != 0 {
		t.Fatalf("treasury balance %s, want 10", balance)
	}

	if err := p.WithdrawProtocolFees(admin, debtAsset, fixedpoint.New(1), "treasury"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance on an already-drained balance, got %v", err)
	}
}

func TestWithdrawDeveloperFeesPaysOutLiquidationBonusShare(t *testing.T) {
	p, ora, book := newFeeTestPool(t)
	if err := book.Credit(debtAsset, "alice", fixedpoint.New(10_000)); err != nil {
		t.Fatalf("credit supplier: %v", err)
	}
	if _, err := p.Supply("alice", "alice", debtAsset, fixedpoint.New(10_000), 0); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := book.Credit(collAsset, "bob", fixedpoint.New(1_000)); err != nil {
		t.Fatalf("credit collateral: %v", err)
	}
	if err := p.DepositCollateral("bob", "bob", collAsset, fixedpoint.New(1_000), 0); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := p.Borrow("bob", "bob", debtAsset, fixedpoint.New(700), 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Crash collateral price so the position becomes liquidatable, exactly
	// as in TestLiquidateSeizesCollateralWithBonus.
	if err := ora.SetPrice(admin, collAsset, big.NewInt(5_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := book.Credit(debtAsset, "liquidator", fixedpoint.New(300)); err != nil {
		t.Fatalf("credit liquidator: %v", err)
	}

	_, seized, err := p.Liquidate("liquidator", "bob", debtAsset, fixedpoint.New(300), collAsset, 0)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if seized.Sign() <= 0 {
		t.Fatalf("seized %s, want a positive amount", seized)
	}

	liquidatorBalance, err := book.Balance(collAsset, "liquidator")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if liquidatorBalance.Sign() <= 0 || liquidatorBalance.Cmp(seized) >= 0 {
		t.Fatalf("liquidator collateral %s should be a partial share of seized %s", liquidatorBalance, seized)
	}

	developerFeeBalance, err := p.reserveFeeBalanceForTest(collAsset, developerFee)
	if err != nil {
		t.Fatalf("developer fee balance: %v", err)
	}
	if developerFeeBalance.Sign() <= 0 {
		t.Fatalf("developer fee balance should be positive after a liquidation with a nonzero developer bonus share")
	}

	if err := p.WithdrawDeveloperFees(admin, collAsset, developerFeeBalance, "dev-treasury"); err != nil {
		t.Fatalf("withdraw developer fees: %v", err)
	}
	devBalance, err := book.Balance(collAsset, "dev-treasury")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if devBalance.Cmp(developerFeeBalance) != 0 {
		t.Fatalf("dev-treasury balance %s, want %s", devBalance, developerFeeBalance)
	}
}

func TestSplitLiquidationBonusDefaultsEntirelyToLiquidator(t *testing.T) {
	cfg := DefaultConfig(admin, collAsset, debtAsset)
	actualRepay := fixedpoint.New(300)
	repayPrice := fixedpoint.New(1)
	collateralPrice := big.NewInt(5_000_000) // 0.5
	seized := fixedpoint.New(630)

	liquidatorShare, developerShare, protocolShare, err := splitLiquidationBonus(actualRepay, repayPrice, collateralPrice, seized, cfg)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if liquidatorShare.Cmp(seized) != 0 {
		t.Fatalf("liquidator share %s, want the full seized amount %s", liquidatorShare, seized)
	}
	if developerShare.Sign() != 0 || protocolShare.Sign() != 0 {
		t.Fatalf("developer/protocol shares should be zero by default, got %s/%s", developerShare, protocolShare)
	}
}

// reserveFeeBalanceForTest reads a reserve's accumulated fee balance
// directly, bypassing the ledger, so tests can assert on accounting state
// without a prior withdrawal.
func (p *Pool) reserveFeeBalanceForTest(asset string, kind feeKind) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.reserveFor(asset)
	if err != nil {
		return nil, err
	}
	switch kind {
	case protocolFee:
		return new(big.Int).Set(r.ProtocolFeeBalance), nil
	case developerFee:
		return new(big.Int).Set(r.DeveloperFeeBalance), nil
	}
	return nil, nil
}
