// Package server exposes a pool.Pool as an authenticated JSON/HTTP API,
// the network-facing layer a poold process runs in front of the engine. It
// plays the role the teacher's services/lending/server package plays for the
// gRPC lending service, adapted to net/http and github.com/go-chi/chi/v5
// since this daemon speaks REST rather than gRPC.
package server

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apogeefi/lendcore/internal/pool"
)

// poolEngine is the subset of *pool.Pool the HTTP layer depends on, narrowed
// to a testable interface the way the teacher's Service depends on
// engine.Engine rather than a concrete type.
type poolEngine interface {
	Supply(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error)
	Withdraw(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error)
	DepositCollateral(caller, user, asset string, amount *big.Int, now int64) error
	WithdrawCollateral(caller, user, asset string, amount *big.Int, now int64) error
	Borrow(caller, user, asset string, amount *big.Int, now int64) error
	Repay(caller, user, asset string, amount *big.Int, now int64) (*big.Int, error)
	Liquidate(liquidator, borrower, repayAsset string, repayAmount *big.Int, collateralAsset string, now int64) (*big.Int, *big.Int, error)
	HealthFactor(user string, now int64) (*big.Int, error)
	GetUserCollateral(user, asset string) (*big.Int, error)
	GetUserDebt(user, asset string, now int64) (*big.Int, error)
	GetUserShares(user, asset string) (*big.Int, error)
	GetTotalSupply(asset string, now int64) (*big.Int, error)
	GetTotalBorrow(asset string, now int64) (*big.Int, error)
	GetUtilizationRate(asset string, now int64) (*big.Int, error)
	GetBorrowRate(asset string, now int64) (*big.Int, error)
	GetSupplyRate(asset string, now int64) (*big.Int, error)
	Config() pool.Config
}

// Service wires a poolEngine up to an HTTP router.
type Service struct {
	engine poolEngine
	logger *slog.Logger
	auth   *authenticator
	limit  *requestRateLimiter
	clock  func() int64
}

// Option configures a Service constructed by New.
type Option func(*Service)

// WithClock overrides the wall-clock source operations are timestamped with,
// for deterministic tests.
func WithClock(clock func() int64) Option {
	return func(s *Service) { s.clock = clock }
}

// New constructs a Service in front of engine.
func New(engine poolEngine, logger *slog.Logger, auth AuthConfig, rateLimitPerMin int, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		engine: engine,
		logger: logger,
		auth:   newAuthenticator(auth),
		limit:  newRequestRateLimiter(rateLimitPerMin),
		clock:  func() int64 { return time.Now().Unix() },
	}
	s.auth.logger = logger
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi.Mux exposing every pool operation over JSON, with
// request id, logging, recovery, rate limiting, auth, and metrics middleware
// installed in that order, mirroring the ordering of the teacher's chained
// gRPC interceptors (logging and recovery first, auth last before the
// handler).
func (s *Service) Router(reg prometheus.Registerer) http.Handler {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := newMetrics(reg)
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogging(s.logger))
	r.Use(recoverPanic(s.logger))
	if s.limit != nil {
		r.Use(s.limit.Middleware)
	}

	r.Get("/healthz", m.instrument("healthz", s.handleHealthz))
	r.Handle("/metrics", promhttp.HandlerFor(prometheusGatherer(reg), promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/v1/supply", m.instrument("supply", s.handleSupply))
		r.Post("/v1/withdraw", m.instrument("withdraw", s.handleWithdraw))
		r.Post("/v1/collateral/deposit", m.instrument("collateral_deposit", s.handleDepositCollateral))
		r.Post("/v1/collateral/withdraw", m.instrument("collateral_withdraw", s.handleWithdrawCollateral))
		r.Post("/v1/borrow", m.instrument("borrow", s.handleBorrow))
		r.Post("/v1/repay", m.instrument("repay", s.handleRepay))
		r.Post("/v1/liquidate", m.instrument("liquidate", s.handleLiquidate))
		r.Get("/v1/positions/{user}/health", m.instrument("health_factor", s.handleHealthFactor))
		r.Get("/v1/positions/{user}/collateral/{asset}", m.instrument("get_collateral", s.handleGetCollateral))
		r.Get("/v1/positions/{user}/debt/{asset}", m.instrument("get_debt", s.handleGetDebt))
		r.Get("/v1/positions/{user}/shares/{asset}", m.instrument("get_shares", s.handleGetShares))
		r.Get("/v1/markets/{asset}", m.instrument("get_market", s.handleGetMarket))
		r.Get("/v1/config", m.instrument("get_config", s.handleGetConfig))
	})

	return r
}

func prometheusGatherer(reg prometheus.Registerer) prometheus.Gatherer {
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		return gatherer
	}
	return prometheus.DefaultGatherer
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type amountRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Service) handleSupply(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	shares, err := s.engine.Supply(CallerFromContext(r.Context()), req.User, req.Asset, amount, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares_minted": shares.String()})
}

func (s *Service) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	withdrawn, err := s.engine.Withdraw(CallerFromContext(r.Context()), req.User, req.Asset, amount, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount_withdrawn": withdrawn.String()})
}

func (s *Service) handleDepositCollateral(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	err := s.engine.DepositCollateral(CallerFromContext(r.Context()), req.User, req.Asset, amount, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleWithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	err := s.engine.WithdrawCollateral(CallerFromContext(r.Context()), req.User, req.Asset, amount, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	err := s.engine.Borrow(CallerFromContext(r.Context()), req.User, req.Asset, amount, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	repaid, err := s.engine.Repay(CallerFromContext(r.Context()), req.User, req.Asset, amount, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount_repaid": repaid.String()})
}

type liquidateRequest struct {
	Borrower        string `json:"borrower"`
	RepayAsset      string `json:"repay_asset"`
	RepayAmount     string `json:"repay_amount"`
	CollateralAsset string `json:"collateral_asset"`
}

func (s *Service) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, ok := s.parseAmount(w, req.RepayAmount)
	if !ok {
		return
	}
	repaid, seized, err := s.engine.Liquidate(CallerFromContext(r.Context()), req.Borrower, req.RepayAsset, amount, req.CollateralAsset, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_repaid":     repaid.String(),
		"collateral_seized": seized.String(),
	})
}

func (s *Service) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	hf, err := s.engine.HealthFactor(user, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"health_factor": hf.String()})
}

func (s *Service) handleGetCollateral(w http.ResponseWriter, r *http.Request) {
	user, asset := chi.URLParam(r, "user"), chi.URLParam(r, "asset")
	amount, err := s.engine.GetUserCollateral(user, asset)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collateral": amount.String()})
}

func (s *Service) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	user, asset := chi.URLParam(r, "user"), chi.URLParam(r, "asset")
	amount, err := s.engine.GetUserDebt(user, asset, s.clock())
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"debt": amount.String()})
}

func (s *Service) handleGetShares(w http.ResponseWriter, r *http.Request) {
	user, asset := chi.URLParam(r, "user"), chi.URLParam(r, "asset")
	amount, err := s.engine.GetUserShares(user, asset)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": amount.String()})
}

func (s *Service) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	now := s.clock()
	totalSupply, err := s.engine.GetTotalSupply(asset, now)
	if !s.handleErr(w, err) {
		return
	}
	totalBorrow, err := s.engine.GetTotalBorrow(asset, now)
	if !s.handleErr(w, err) {
		return
	}
	utilization, err := s.engine.GetUtilizationRate(asset, now)
	if !s.handleErr(w, err) {
		return
	}
	borrowRate, err := s.engine.GetBorrowRate(asset, now)
	if !s.handleErr(w, err) {
		return
	}
	supplyRate, err := s.engine.GetSupplyRate(asset, now)
	if !s.handleErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"total_supply":     totalSupply.String(),
		"total_borrow":     totalBorrow.String(),
		"utilization_rate": utilization.String(),
		"borrow_rate":      borrowRate.String(),
		"supply_rate":      supplyRate.String(),
	})
}

func (s *Service) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	writeJSON(w, http.StatusOK, map[string]string{
		"admin":                 cfg.Admin,
		"collateral_asset":      cfg.CollateralAsset,
		"borrow_asset":          cfg.BorrowAsset,
		"ltv":                   cfg.LTV.String(),
		"liquidation_threshold": cfg.LiquidationThreshold.String(),
		"liquidation_bonus":     cfg.LiquidationBonus.String(),
		"close_factor":          cfg.CloseFactor.String(),
		"reserve_factor":        cfg.ReserveFactor.String(),
	})
}

func (s *Service) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "malformed request body")
		return false
	}
	return true
}

func (s *Service) parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_argument", "amount must be a base-10 integer in scale-7 units")
		return nil, false
	}
	return amount, true
}

func (s *Service) handleErr(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("pool operation failed", "error", err)
	}
	writeError(w, status, errorCode(err), err.Error())
	return false
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}
