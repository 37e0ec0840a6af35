package server

import (
	"errors"
	"net/http"

	"github.com/apogeefi/lendcore/internal/pool"
)

// statusForError maps a pool operation error to the HTTP status code the
// handler should respond with, mirroring the teacher's errors.Is switch over
// engine sentinel errors translated to gRPC codes.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, pool.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrLTVExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrHealthFactorViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pool.ErrPositionHealthy):
		return http.StatusConflict
	case errors.Is(err, pool.ErrPriceMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrMathOverflow):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errorCode returns the stable machine-readable code carried in an error
// response body, independent of the HTTP status chosen for it.
func errorCode(err error) string {
	switch {
	case errors.Is(err, pool.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, pool.ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, pool.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, pool.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, pool.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, pool.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, pool.ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, pool.ErrLTVExceeded):
		return "ltv_exceeded"
	case errors.Is(err, pool.ErrHealthFactorViolation):
		return "health_factor_violation"
	case errors.Is(err, pool.ErrPositionHealthy):
		return "position_healthy"
	case errors.Is(err, pool.ErrPriceMissing):
		return "price_missing"
	case errors.Is(err, pool.ErrMathOverflow):
		return "math_overflow"
	default:
		return "internal_error"
	}
}
