package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/apogeefi/lendcore/internal/fixedpoint"
)

// Error kinds, one sentinel per spec.md §7. The HTTP layer (server/errors.go)
// maps these to status codes with errors.Is, mirroring the teacher's
// native/lending engine.go error block and services/lending/server/errors.go
// dispatch table.
var (
	ErrNotInitialized         = errors.New("pool: not initialized")
	ErrAlreadyInitialized     = errors.New("pool: already initialized")
	ErrUnauthorized           = errors.New("pool: caller does not match required identity")
	ErrInvalidArgument        = errors.New("pool: invalid argument")
	ErrInsufficientBalance    = errors.New("pool: insufficient balance")
	ErrInsufficientLiquidity  = errors.New("pool: insufficient liquidity")
	ErrInsufficientCollateral = errors.New("pool: insufficient collateral")
	ErrLTVExceeded            = errors.New("pool: borrow would exceed loan-to-value ceiling")
	ErrHealthFactorViolation  = errors.New("pool: operation would drop health factor below 1")
	ErrPositionHealthy        = errors.New("pool: liquidate invoked on a healthy position")
	ErrPriceMissing           = errors.New("pool: oracle has no price for asset")
	ErrMathOverflow           = errors.New("pool: checked arithmetic overflow")
)

// checkedAdd, checkedSub and checkedMulDivRound wrap the fixedpoint package's
// checked arithmetic, translating fixedpoint.ErrOverflow into ErrMathOverflow
// so callers (and the HTTP layer's errors.Is(err, ErrMathOverflow) dispatch)
// see a pool-level error kind rather than reaching into internal/fixedpoint.
func checkedAdd(a, b *big.Int) (*big.Int, error) {
	v, err := fixedpoint.Add(a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	return v, nil
}

func checkedSub(a, b *big.Int) (*big.Int, error) {
	v, err := fixedpoint.Sub(a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	return v, nil
}

func checkedMulDivRound(a, b, c *big.Int, round fixedpoint.Round) (*big.Int, error) {
	v, err := fixedpoint.MulDivRound(a, b, c, round)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	return v, nil
}

func checkedMul(a, b *big.Int) (*big.Int, error) {
	v, err := fixedpoint.Mul(a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	return v, nil
}

func checkedDiv(a, b *big.Int) (*big.Int, error) {
	v, err := fixedpoint.Div(a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	return v, nil
}

func checkedDivUp(a, b *big.Int) (*big.Int, error) {
	v, err := fixedpoint.DivUp(a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	return v, nil
}

func checkedMulUp(a, b *big.Int) (*big.Int, error) {
	v, err := fixedpoint.MulUp(a, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMathOverflow, err)
	}
	return v, nil
}
