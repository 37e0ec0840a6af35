package pool

import (
	"math/big"
	"sync"

	"github.com/apogeefi/lendcore/internal/fixedpoint"
	"github.com/apogeefi/lendcore/internal/ratemodel"
)

// PoolAccount is the ledger identity representing tokens held in custody by
// the pool itself (cf. moduleAddress / collateralAddress in the teacher's
// native/lending engine).
const PoolAccount = "pool"

type positionKey struct {
	User  string
	Asset string
}

// Pool is the peer-to-pool lending state machine of spec.md §4.5. Exported
// methods that mutate state check the caller against the identity they act
// for (the user, or the admin for fee withdrawals; Liquidate takes the
// liquidator identity as given), accrue the reserve whose liquidity or debt
// they read or change, validate and health-check the operation, and pull
// tokens in through the token ledger before updating positions and reserve
// totals.
type Pool struct {
	mu          sync.Mutex
	initialized bool
	cfg         Config
	oracle      PriceSource
	rate        rateAdapter
	ledger      TokenLedger
	reserves    map[string]*Reserve
	positions   map[positionKey]*UserPosition
}

// New returns an uninitialized Pool. Call Initialize before use.
func New() *Pool {
	return &Pool{
		reserves:  make(map[string]*Reserve),
		positions: make(map[positionKey]*UserPosition),
	}
}

// Initialize wires the pool's collaborators and freezes its configuration.
// It is idempotent-guarded: a second call fails with ErrAlreadyInitialized.
func (p *Pool) Initialize(cfg Config, oracle PriceSource, rateParams ratemodel.Params, ledger TokenLedger, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return ErrAlreadyInitialized
	}
	if cfg.Admin == "" || cfg.CollateralAsset == "" || cfg.BorrowAsset == "" {
		return ErrInvalidArgument
	}
	if cfg.CollateralAsset == cfg.BorrowAsset {
		return ErrInvalidArgument
	}
	if err := rateParams.Validate(); err != nil {
		return err
	}
	if oracle == nil || ledger == nil {
		return ErrInvalidArgument
	}
	p.cfg = cfg
	p.oracle = oracle
	p.rate = rateAdapter{source: kinkedRateSource{params: rateParams}}
	p.ledger = ledger
	p.reserves[cfg.CollateralAsset] = newReserve(cfg.CollateralAsset, now)
	p.reserves[cfg.BorrowAsset] = newReserve(cfg.BorrowAsset, now)
	p.initialized = true
	return nil
}

func (p *Pool) requireInitialized() error {
	if !p.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (p *Pool) reserveFor(asset string) (*Reserve, error) {
	r, ok := p.reserves[asset]
	if !ok {
		return nil, ErrInvalidArgument
	}
	return r, nil
}

func (p *Pool) positionFor(user, asset string) *UserPosition {
	key := positionKey{User: user, Asset: asset}
	pos, ok := p.positions[key]
	if !ok {
		pos = newUserPosition(user, asset)
		p.positions[key] = pos
	}
	return pos
}

// totalLiquiditySupplied is the pool's total value owed to suppliers: cash
// on hand plus outstanding debt receivable, net of the protocol's reserve
// cut. Invariant 3 of spec.md §3 ("price per share = total_liquidity_supplied
// / total_shares") is defined directly against this quantity, and share
// minting/burning and the SupplyIndex reported to callers are both derived
// from it (see DESIGN.md for why this supersedes the literal, and slightly
// inconsistent, step-9 wording in spec.md §4.4).
func totalLiquiditySupplied(r *Reserve) (*big.Int, error) {
	sum, err := checkedAdd(r.TotalLiquidity, r.TotalDebt)
	if err != nil {
		return nil, err
	}
	return checkedSub(sum, r.ReserveBalance)
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidArgument
	}
	return nil
}

func requireCaller(caller, user string) error {
	if caller != user {
		return ErrUnauthorized
	}
	return nil
}

// Supply transfers amount of asset from user into the pool and mints
// supplier shares against the current share price (spec.md §4.5).
func (p *Pool) Supply(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	if err := requireCaller(caller, user); err != nil {
		return nil, err
	}
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	r, err := p.reserveFor(asset)
	if err != nil {
		return nil, err
	}
	if err := p.accrue(r, now); err != nil {
		return nil, err
	}

	supplied, err := totalLiquiditySupplied(r)
	if err != nil {
		return nil, err
	}

	var sharesOut *big.Int
	if fixedpoint.IsZero(r.TotalShares) {
		if amount.Cmp(MinimumLiquidity) <= 0 {
			return nil, ErrInvalidArgument
		}
		sharesOut = new(big.Int).Sub(amount, MinimumLiquidity)
		r.LockedShares = new(big.Int).Set(MinimumLiquidity)
		r.TotalShares, err = checkedAdd(r.TotalShares, MinimumLiquidity)
		if err != nil {
			return nil, err
		}
	} else {
		sharesOut, err = checkedMulDivRound(amount, r.TotalShares, supplied, fixedpoint.RoundDown)
		if err != nil {
			return nil, err
		}
	}
	if sharesOut.Sign() <= 0 {
		return nil, ErrInvalidArgument
	}

	if err := p.ledger.Transfer(asset, user, PoolAccount, amount); err != nil {
		return nil, ErrInsufficientBalance
	}

	r.TotalLiquidity, err = checkedAdd(r.TotalLiquidity, amount)
	if err != nil {
		return nil, err
	}
	r.TotalShares, err = checkedAdd(r.TotalShares, sharesOut)
	if err != nil {
		return nil, err
	}

	pos := p.positionFor(user, asset)
	pos.Shares, err = checkedAdd(pos.Shares, sharesOut)
	if err != nil {
		return nil, err
	}

	return new(big.Int).Set(sharesOut), nil
}

// Withdraw burns shares_in supplier shares and releases the underlying
// amount back to user.
func (p *Pool) Withdraw(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	if err := requireCaller(caller, user); err != nil {
		return nil, err
	}
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	r, err := p.reserveFor(asset)
	if err != nil {
		return nil, err
	}
	if err := p.accrue(r, now); err != nil {
		return nil, err
	}

	supplied, err := totalLiquiditySupplied(r)
	if err != nil {
		return nil, err
	}
	if fixedpoint.IsZero(r.TotalShares) || supplied.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	sharesIn, err := checkedMulDivRound(amount, r.TotalShares, supplied, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}

	pos := p.positionFor(user, asset)
	if pos.Shares.Cmp(sharesIn) < 0 {
		return nil, ErrInsufficientBalance
	}
	if amount.Cmp(r.TotalLiquidity) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	if err := p.ledger.Transfer(asset, PoolAccount, user, amount); err != nil {
		return nil, ErrInsufficientLiquidity
	}

	r.TotalLiquidity, err = checkedSub(r.TotalLiquidity, amount)
	if err != nil {
		return nil, err
	}
	r.TotalShares, err = checkedSub(r.TotalShares, sharesIn)
	if err != nil {
		return nil, err
	}
	pos.Shares, err = checkedSub(pos.Shares, sharesIn)
	if err != nil {
		return nil, err
	}

	return new(big.Int).Set(amount), nil
}

// DepositCollateral locks amount of the designated collateral asset for
// user. It strictly improves health, so no health-factor check is needed.
func (p *Pool) DepositCollateral(caller, user, asset string, amount *big.Int, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return err
	}
	if err := requireCaller(caller, user); err != nil {
		return err
	}
	if asset != p.cfg.CollateralAsset {
		return ErrInvalidArgument
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	if err := p.ledger.Transfer(asset, user, PoolAccount, amount); err != nil {
		return ErrInsufficientBalance
	}

	pos := p.positionFor(user, asset)
	sum, err := checkedAdd(pos.CollateralAmount, amount)
	if err != nil {
		return err
	}
	pos.CollateralAmount = sum
	return nil
}

// WithdrawCollateral releases amount of collateral back to user, failing
// HealthFactorViolation if the resulting position would be unsafe.
func (p *Pool) WithdrawCollateral(caller, user, asset string, amount *big.Int, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return err
	}
	if err := requireCaller(caller, user); err != nil {
		return err
	}
	if asset != p.cfg.CollateralAsset {
		return ErrInvalidArgument
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	borrowReserve, err := p.reserveFor(p.cfg.BorrowAsset)
	if err != nil {
		return err
	}
	if err := p.accrue(borrowReserve, now); err != nil {
		return err
	}

	pos := p.positionFor(user, asset)
	if pos.CollateralAmount.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	remaining := new(big.Int).Sub(pos.CollateralAmount, amount)

	debtPos := p.positionFor(user, p.cfg.BorrowAsset)
	owed, err := owedAmount(debtPos, borrowReserve)
	if err != nil {
		return err
	}
	hf, err := p.healthFactorFor(remaining, owed)
	if err != nil {
		return err
	}
	if !fixedpoint.IsZero(owed) && hf.Cmp(fixedpoint.Scale) < 0 {
		return ErrHealthFactorViolation
	}

	if err := p.ledger.Transfer(asset, PoolAccount, user, amount); err != nil {
		return ErrInsufficientLiquidity
	}
	pos.CollateralAmount = remaining
	return nil
}

// Borrow draws amount of the borrow asset against user's collateral,
// failing LtvExceeded if the resulting debt would exceed the LTV ceiling.
func (p *Pool) Borrow(caller, user, asset string, amount *big.Int, now int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return err
	}
	if err := requireCaller(caller, user); err != nil {
		return err
	}
	if asset != p.cfg.BorrowAsset {
		return ErrInvalidArgument
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	r, err := p.reserveFor(asset)
	if err != nil {
		return err
	}
	if err := p.accrue(r, now); err != nil {
		return err
	}
	if amount.Cmp(r.TotalLiquidity) > 0 {
		return ErrInsufficientLiquidity
	}

	debtPos := p.positionFor(user, asset)
	currentOwed, err := owedAmount(debtPos, r)
	if err != nil {
		return err
	}
	projectedDebt, err := checkedAdd(currentOwed, amount)
	if err != nil {
		return err
	}

	collateralPos := p.positionFor(user, p.cfg.CollateralAsset)
	collateralValue, err := p.collateralValue(collateralPos.CollateralAmount)
	if err != nil {
		return err
	}
	debtValue, err := p.debtValue(projectedDebt)
	if err != nil {
		return err
	}
	// debt_value <= ltv * collateral_value / S
	ceiling, err := checkedMulDivRound(p.cfg.LTV, collateralValue, fixedpoint.Scale, fixedpoint.RoundDown)
	if err != nil {
		return err
	}
	if debtValue.Cmp(ceiling) > 0 {
		return ErrLTVExceeded
	}

	// The borrower owes the full amount regardless of the origination fee:
	// only the amount disbursed by the ledger is reduced by it, so the fee
	// never changes the LTV/health-factor arithmetic above.
	fee, err := checkedMulDivRound(amount, p.cfg.OriginationFee, fixedpoint.Scale, fixedpoint.RoundUp)
	if err != nil {
		return err
	}
	disbursed, err := checkedSub(amount, fee)
	if err != nil {
		return err
	}

	if err := p.ledger.Transfer(asset, PoolAccount, user, disbursed); err != nil {
		return ErrInsufficientLiquidity
	}

	r.TotalDebt, err = checkedAdd(r.TotalDebt, amount)
	if err != nil {
		return err
	}
	r.TotalLiquidity, err = checkedSub(r.TotalLiquidity, amount)
	if err != nil {
		return err
	}
	if !fixedpoint.IsZero(fee) {
		r.ProtocolFeeBalance, err = checkedAdd(r.ProtocolFeeBalance, fee)
		if err != nil {
			return err
		}
	}

	principalDelta, err := checkedMulDivRound(amount, fixedpoint.Scale, r.BorrowIndex, fixedpoint.RoundUp)
	if err != nil {
		return err
	}
	debtPos.DebtPrincipal, err = checkedAdd(debtPos.DebtPrincipal, principalDelta)
	if err != nil {
		return err
	}
	return nil
}

// Repay transfers min(amount, owed(user)) from user to the pool and reduces
// their outstanding debt by exactly that amount.
func (p *Pool) Repay(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	if err := requireCaller(caller, user); err != nil {
		return nil, err
	}
	if asset != p.cfg.BorrowAsset {
		return nil, ErrInvalidArgument
	}
	if err := requirePositive(amount); err != nil {
		return nil, err
	}

	r, err := p.reserveFor(asset)
	if err != nil {
		return nil, err
	}
	if err := p.accrue(r, now); err != nil {
		return nil, err
	}

	debtPos := p.positionFor(user, asset)
	owed, err := owedAmount(debtPos, r)
	if err != nil {
		return nil, err
	}
	if fixedpoint.IsZero(owed) {
		return nil, ErrInvalidArgument
	}

	effective := fixedpoint.Min(amount, owed)
	if err := p.ledger.Transfer(asset, user, PoolAccount, effective); err != nil {
		return nil, ErrInsufficientBalance
	}
	if err := p.applyRepayment(debtPos, r, effective, owed); err != nil {
		return nil, err
	}
	return new(big.Int).Set(effective), nil
}

// applyRepayment reduces the reserve's total debt and the user's scaled
// principal by effective. When effective fully settles owed, the principal
// is zeroed directly rather than converted back through the index, so
// rounding dust never leaves an unrepayable residue (see DESIGN.md).
func (p *Pool) applyRepayment(pos *UserPosition, r *Reserve, effective, owed *big.Int) error {
	var err error
	r.TotalDebt, err = checkedSub(r.TotalDebt, effective)
	if err != nil {
		return err
	}
	if effective.Cmp(owed) == 0 {
		pos.DebtPrincipal = big.NewInt(0)
		return nil
	}
	principalDelta, err := checkedMulDivRound(effective, fixedpoint.Scale, r.BorrowIndex, fixedpoint.RoundDown)
	if err != nil {
		return err
	}
	pos.DebtPrincipal = fixedpoint.Max(big.NewInt(0), new(big.Int).Sub(pos.DebtPrincipal, principalDelta))
	return nil
}

// Liquidate lets liquidator repay part of borrower's debt in exchange for a
// bonus-discounted amount of their collateral, per spec.md §4.5.
func (p *Pool) Liquidate(liquidator, borrower, repayAsset string, repayAmount *big.Int, collateralAsset string, now int64) (*big.Int, *big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if repayAsset != p.cfg.BorrowAsset || collateralAsset != p.cfg.CollateralAsset {
		return nil, nil, ErrInvalidArgument
	}
	if err := requirePositive(repayAmount); err != nil {
		return nil, nil, err
	}

	r, err := p.reserveFor(repayAsset)
	if err != nil {
		return nil, nil, err
	}
	if err := p.accrue(r, now); err != nil {
		return nil, nil, err
	}

	debtPos := p.positionFor(borrower, repayAsset)
	collateralPos := p.positionFor(borrower, collateralAsset)

	owed, err := owedAmount(debtPos, r)
	if err != nil {
		return nil, nil, err
	}
	if fixedpoint.IsZero(owed) {
		return nil, nil, ErrPositionHealthy
	}
	hf, err := p.healthFactorFor(collateralPos.CollateralAmount, owed)
	if err != nil {
		return nil, nil, err
	}
	if hf.Cmp(fixedpoint.Scale) >= 0 {
		return nil, nil, ErrPositionHealthy
	}

	maxRepay, err := checkedMulDivRound(p.cfg.CloseFactor, owed, fixedpoint.Scale, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, err
	}
	actualRepay := fixedpoint.Min(repayAmount, maxRepay)

	repayPrice, err := p.oracle.GetPrice(repayAsset)
	if err != nil {
		return nil, nil, ErrPriceMissing
	}
	collateralPrice, err := p.oracle.GetPrice(collateralAsset)
	if err != nil {
		return nil, nil, ErrPriceMissing
	}
	if collateralPrice.Sign() <= 0 {
		return nil, nil, ErrPriceMissing
	}

	bonusFactor, err := checkedAdd(fixedpoint.Scale, p.cfg.LiquidationBonus)
	if err != nil {
		return nil, nil, err
	}

	seized, err := seizeAmount(actualRepay, repayPrice, bonusFactor, collateralPrice)
	if err != nil {
		return nil, nil, err
	}

	if seized.Cmp(collateralPos.CollateralAmount) > 0 {
		seized = new(big.Int).Set(collateralPos.CollateralAmount)
		// Back-solve actual_repay so the liquidator never receives more than
		// the borrower's remaining collateral: actual_repay =
		// seized * S * price(collateral) / (price(repay) * bonusFactor),
		// rounded down so the debt side is never credited more repayment
		// than the seized collateral actually supports.
		scaledCollateralValue := new(big.Int).Mul(fixedpoint.Scale, collateralPrice)
		repayBonusDenom := new(big.Int).Mul(repayPrice, bonusFactor)
		backSolved, err := checkedMulDivRound(seized, scaledCollateralValue, repayBonusDenom, fixedpoint.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		actualRepay = fixedpoint.Min(actualRepay, backSolved)
	}

	if err := p.ledger.Transfer(repayAsset, liquidator, PoolAccount, actualRepay); err != nil {
		return nil, nil, ErrInsufficientBalance
	}
	if err := p.applyRepayment(debtPos, r, actualRepay, owed); err != nil {
		return nil, nil, err
	}
	collateralPos.CollateralAmount = new(big.Int).Sub(collateralPos.CollateralAmount, seized)

	liquidatorShare, developerShare, protocolShare, err := splitLiquidationBonus(actualRepay, repayPrice, collateralPrice, seized, p.cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := p.ledger.Transfer(collateralAsset, PoolAccount, liquidator, liquidatorShare); err != nil {
		return nil, nil, ErrInsufficientLiquidity
	}
	if !fixedpoint.IsZero(developerShare) || !fixedpoint.IsZero(protocolShare) {
		collateralReserve, err := p.reserveFor(collateralAsset)
		if err != nil {
			return nil, nil, err
		}
		if !fixedpoint.IsZero(developerShare) {
			collateralReserve.DeveloperFeeBalance, err = checkedAdd(collateralReserve.DeveloperFeeBalance, developerShare)
			if err != nil {
				return nil, nil, err
			}
		}
		if !fixedpoint.IsZero(protocolShare) {
			collateralReserve.ProtocolFeeBalance, err = checkedAdd(collateralReserve.ProtocolFeeBalance, protocolShare)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	return new(big.Int).Set(actualRepay), new(big.Int).Set(seized), nil
}

// splitLiquidationBonus divides seized collateral into the base 1:1 repay
// value (which always goes to the liquidator) plus the bonus above it,
// itself split liquidator/developer/protocol per cfg's BonusShare fields.
// With the DefaultConfig shares (100% liquidator) this reduces to paying the
// full seized amount to the liquidator, matching spec.md exactly.
func splitLiquidationBonus(actualRepay, repayPrice, collateralPrice, seized *big.Int, cfg Config) (liquidatorShare, developerShare, protocolShare *big.Int, err error) {
	baseValue, err := checkedMul(actualRepay, repayPrice)
	if err != nil {
		return nil, nil, nil, err
	}
	baseSeize, err := checkedDiv(baseValue, collateralPrice)
	if err != nil {
		return nil, nil, nil, err
	}
	baseSeize = fixedpoint.Min(baseSeize, seized)

	bonus, err := checkedSub(seized, baseSeize)
	if err != nil {
		return nil, nil, nil, err
	}
	if fixedpoint.IsZero(bonus) {
		return new(big.Int).Set(seized), big.NewInt(0), big.NewInt(0), nil
	}

	developerShare, err = checkedMulDivRound(bonus, cfg.DeveloperBonusShare, fixedpoint.Scale, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, nil, err
	}
	protocolShare, err = checkedMulDivRound(bonus, cfg.ProtocolBonusShare, fixedpoint.Scale, fixedpoint.RoundDown)
	if err != nil {
		return nil, nil, nil, err
	}
	nonLiquidator, err := checkedAdd(developerShare, protocolShare)
	if err != nil {
		return nil, nil, nil, err
	}
	liquidatorShare, err = checkedSub(seized, nonLiquidator)
	if err != nil {
		return nil, nil, nil, err
	}
	return liquidatorShare, developerShare, protocolShare, nil
}

// seizeAmount computes actual_repay * price(repay) * (S + bonus) /
// (price(collateral) * S), rounded up so the liquidator's bonus is never
// shorted by truncation.
func seizeAmount(actualRepay, repayPrice, bonusFactor, collateralPrice *big.Int) (*big.Int, error) {
	numerator, err := checkedMul(actualRepay, repayPrice)
	if err != nil {
		return nil, err
	}
	numerator, err = checkedMulDivRound(numerator, bonusFactor, fixedpoint.Scale, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	return checkedDivUp(numerator, collateralPrice)
}

// owedAmount projects the user's current debt (principal * borrow_index /
// S, rounded up) without mutating the reserve.
func owedAmount(pos *UserPosition, r *Reserve) (*big.Int, error) {
	if fixedpoint.IsZero(pos.DebtPrincipal) {
		return big.NewInt(0), nil
	}
	return checkedMulDivRound(pos.DebtPrincipal, r.BorrowIndex, fixedpoint.Scale, fixedpoint.RoundUp)
}

func (p *Pool) collateralValue(collateralAmount *big.Int) (*big.Int, error) {
	price, err := p.oracle.GetPrice(p.cfg.CollateralAsset)
	if err != nil {
		return nil, ErrPriceMissing
	}
	return checkedMul(collateralAmount, price)
}

func (p *Pool) debtValue(owed *big.Int) (*big.Int, error) {
	price, err := p.oracle.GetPrice(p.cfg.BorrowAsset)
	if err != nil {
		return nil, ErrPriceMissing
	}
	return checkedMulUp(owed, price)
}

// healthFactorFor computes collateral_value * liquidation_threshold /
// (debt_value * S), returning the saturating maximum when debt is zero.
func (p *Pool) healthFactorFor(collateralAmount, owed *big.Int) (*big.Int, error) {
	if fixedpoint.IsZero(owed) {
		return fixedpoint.SaturatingMax(), nil
	}
	collateralValue, err := p.collateralValue(collateralAmount)
	if err != nil {
		return nil, err
	}
	debtValue, err := p.debtValue(owed)
	if err != nil {
		return nil, err
	}
	if fixedpoint.IsZero(debtValue) {
		return fixedpoint.SaturatingMax(), nil
	}
	numerator, err := checkedMul(collateralValue, p.cfg.LiquidationThreshold)
	if err != nil {
		return nil, err
	}
	return checkedDiv(numerator, debtValue)
}

// HealthFactor computes the caller's current health factor, projecting
// accrual without mutating stored state.
func (p *Pool) HealthFactor(user string, now int64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	r, err := p.reserveFor(p.cfg.BorrowAsset)
	if err != nil {
		return nil, err
	}
	projected, err := p.computeAccrual(r, now)
	if err != nil {
		return nil, err
	}
	debtPos := p.positionFor(user, p.cfg.BorrowAsset)
	owed, err := owedAmountFromIndex(debtPos, projected.BorrowIndex)
	if err != nil {
		return nil, err
	}
	collateralPos := p.positionFor(user, p.cfg.CollateralAsset)
	return p.healthFactorFor(collateralPos.CollateralAmount, owed)
}

func owedAmountFromIndex(pos *UserPosition, borrowIndex *big.Int) (*big.Int, error) {
	if fixedpoint.IsZero(pos.DebtPrincipal) {
		return big.NewInt(0), nil
	}
	return checkedMulDivRound(pos.DebtPrincipal, borrowIndex, fixedpoint.Scale, fixedpoint.RoundUp)
}

// GetUserCollateral returns the raw collateral tokens locked for user.
func (p *Pool) GetUserCollateral(user, asset string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(p.positionFor(user, asset).CollateralAmount), nil
}

// GetUserDebt returns user's current owed amount, including interest
// accrued since the reserve's last mutation.
func (p *Pool) GetUserDebt(user, asset string, now int64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	r, err := p.reserveFor(asset)
	if err != nil {
		return nil, err
	}
	projected, err := p.computeAccrual(r, now)
	if err != nil {
		return nil, err
	}
	return owedAmountFromIndex(p.positionFor(user, asset), projected.BorrowIndex)
}

// GetUserShares returns user's outstanding supplier shares.
func (p *Pool) GetUserShares(user, asset string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(p.positionFor(user, asset).Shares), nil
}

// GetTotalSupply returns the reserve's total liquidity supplied (cash +
// receivable debt, net of the protocol's reserve cut).
func (p *Pool) GetTotalSupply(asset string, now int64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	r, err := p.reserveFor(asset)
	if err != nil {
		return nil, err
	}
	projected, err := p.computeAccrual(r, now)
	if err != nil {
		return nil, err
	}
	sum, err := checkedAdd(r.TotalLiquidity, projected.TotalDebt)
	if err != nil {
		return nil, err
	}
	return checkedSub(sum, projected.ReserveBalance)
}

// GetTotalBorrow returns the reserve's total outstanding debt, including
// interest accrued since the last mutation.
func (p *Pool) GetTotalBorrow(asset string, now int64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	r, err := p.reserveFor(asset)
	if err != nil {
		return nil, err
	}
	projected, err := p.computeAccrual(r, now)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(projected.TotalDebt), nil
}

// GetUtilizationRate returns U = total_debt / (total_liquidity + total_debt).
func (p *Pool) GetUtilizationRate(asset string, now int64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	r, err := p.reserveFor(asset)
	if err != nil {
		return nil, err
	}
	projected, err := p.computeAccrual(r, now)
	if err != nil {
		return nil, err
	}
	return utilization(r.TotalLiquidity, projected.TotalDebt)
}

// GetBorrowRate returns the current annualized borrow rate for asset.
func (p *Pool) GetBorrowRate(asset string, now int64) (*big.Int, error) {
	u, err := p.GetUtilizationRate(asset, now)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate.source.BorrowRate(u)
}

// GetSupplyRate returns the current annualized supply rate for asset.
func (p *Pool) GetSupplyRate(asset string, now int64) (*big.Int, error) {
	u, err := p.GetUtilizationRate(asset, now)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	borrowRate, err := p.rate.source.BorrowRate(u)
	reserveFactor := new(big.Int).Set(p.cfg.ReserveFactor)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	perUnit, err := checkedMul(borrowRate, u)
	if err != nil {
		return nil, err
	}
	oneMinusReserve, err := checkedSub(fixedpoint.Scale, reserveFactor)
	if err != nil {
		return nil, err
	}
	return checkedMul(perUnit, oneMinusReserve)
}

// Config returns the pool's immutable configuration.
func (p *Pool) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// WithdrawProtocolFees pays out amount of the asset reserve's accumulated
// protocol fee balance (origination fees plus the protocol's share of
// liquidation bonuses) to recipient. Only the pool admin may call this.
func (p *Pool) WithdrawProtocolFees(caller, asset string, amount *big.Int, recipient string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withdrawFeeBalance(caller, asset, amount, recipient, protocolFee)
}

// WithdrawDeveloperFees pays out amount of the asset reserve's accumulated
// developer fee balance (the developer's share of liquidation bonuses) to
// recipient. Only the pool admin may call this; cfg.FeeCollector records who
// the withdrawn funds are meant for, but custody is admin-gated like every
// other privileged operation in this package.
func (p *Pool) WithdrawDeveloperFees(caller, asset string, amount *big.Int, recipient string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withdrawFeeBalance(caller, asset, amount, recipient, developerFee)
}

type feeKind int

const (
	protocolFee feeKind = iota
	developerFee
)

func (p *Pool) withdrawFeeBalance(caller, asset string, amount *big.Int, recipient string, kind feeKind) error {
	if err := p.requireInitialized(); err != nil {
		return err
	}
	if caller != p.cfg.Admin {
		return ErrUnauthorized
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	r, err := p.reserveFor(asset)
	if err != nil {
		return err
	}

	var balance *big.Int
	switch kind {
	case protocolFee:
		balance = r.ProtocolFeeBalance
	case developerFee:
		balance = r.DeveloperFeeBalance
	}
	if amount.Cmp(balance) > 0 {
		return ErrInsufficientBalance
	}

	remaining, err := checkedSub(balance, amount)
	if err != nil {
		return err
	}
	if err := p.ledger.Transfer(asset, PoolAccount, recipient, amount); err != nil {
		return ErrInsufficientLiquidity
	}

	switch kind {
	case protocolFee:
		r.ProtocolFeeBalance = remaining
	case developerFee:
		r.DeveloperFeeBalance = remaining
	}
	return nil
}
