// Package config loads the two configuration layers of the lending daemon:
// risk.go's RiskParameters is the frozen, TOML-defined on-chain-style pool
// configuration (loan-to-value, liquidation, rate model), and daemon.go's
// DaemonConfig is the YAML-defined, env-overridable process configuration
// (listen address, TLS, auth, rate limiting) — split the way the teacher
// splits native/lending's on-chain Config from services/lending's process
// Config.
package config

import (
	"fmt"
	"math/big"

	"github.com/BurntSushi/toml"

	"github.com/apogeefi/lendcore/internal/pool"
	"github.com/apogeefi/lendcore/internal/ratemodel"
)

// RiskParameters is the TOML-serializable form of the pool's immutable
// configuration plus its interest rate model, loaded once at startup.
type RiskParameters struct {
	Admin                string `toml:"Admin"`
	CollateralAsset      string `toml:"CollateralAsset"`
	BorrowAsset          string `toml:"BorrowAsset"`
	LTVBps               uint64 `toml:"LTVBps"`
	LiquidationThreshBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps  uint64 `toml:"LiquidationBonusBps"`
	CloseFactorBps       uint64 `toml:"CloseFactorBps"`
	ReserveFactorBps     uint64 `toml:"ReserveFactorBps"`

	RMinBps   uint64 `toml:"RMinBps"`
	ROptBps   uint64 `toml:"ROptBps"`
	DeltaRBps uint64 `toml:"DeltaRBps"`
	UStarBps  uint64 `toml:"UStarBps"`

	// OriginationFeeBps and the bonus-share fields are additive beyond
	// spec.md's literal contract (SPEC_FULL.md §4). Leaving them at zero
	// (OriginationFeeBps) and 10000/0/0 (the bonus shares) reproduces
	// spec.md's literal payout exactly; DefaultRiskParameters does so.
	OriginationFeeBps  uint64 `toml:"OriginationFeeBps"`
	FeeCollector       string `toml:"FeeCollector"`
	LiquidatorBonusBps uint64 `toml:"LiquidatorBonusBps"`
	DeveloperBonusBps  uint64 `toml:"DeveloperBonusBps"`
	ProtocolBonusBps   uint64 `toml:"ProtocolBonusBps"`
}

// LoadRiskParameters parses a TOML risk-parameter file at path.
func LoadRiskParameters(path string) (RiskParameters, error) {
	var rp RiskParameters
	if _, err := toml.DecodeFile(path, &rp); err != nil {
		return RiskParameters{}, fmt.Errorf("decode risk parameters: %w", err)
	}
	return rp, nil
}

// bpsToScale converts basis points (out of 10_000) to a scale-S fixed-point
// fraction, mirroring the teacher's *Bps uint64 config fields in
// native/lending/config.go widened from bps to this engine's scale-7 unit
// (1 bps = 1_000 in scale-S terms, since S/10_000 = 1_000).
func bpsToScale(bps uint64) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(bps)), big.NewInt(1_000))
}

// PoolConfig converts the risk parameters into a pool.Config.
func (rp RiskParameters) PoolConfig() pool.Config {
	feeCollector := rp.FeeCollector
	if feeCollector == "" {
		feeCollector = rp.Admin
	}
	return pool.Config{
		Admin:                rp.Admin,
		CollateralAsset:      rp.CollateralAsset,
		BorrowAsset:          rp.BorrowAsset,
		LTV:                  bpsToScale(rp.LTVBps),
		LiquidationThreshold: bpsToScale(rp.LiquidationThreshBps),
		LiquidationBonus:     bpsToScale(rp.LiquidationBonusBps),
		CloseFactor:          bpsToScale(rp.CloseFactorBps),
		ReserveFactor:        bpsToScale(rp.ReserveFactorBps),

		OriginationFee:       bpsToScale(rp.OriginationFeeBps),
		FeeCollector:         feeCollector,
		LiquidatorBonusShare: bpsToScale(rp.LiquidatorBonusBps),
		DeveloperBonusShare:  bpsToScale(rp.DeveloperBonusBps),
		ProtocolBonusShare:   bpsToScale(rp.ProtocolBonusBps),
	}
}

// RateParams converts the risk parameters into a ratemodel.Params.
func (rp RiskParameters) RateParams() ratemodel.Params {
	return ratemodel.Params{
		RMin:   bpsToScale(rp.RMinBps),
		ROpt:   bpsToScale(rp.ROptBps),
		DeltaR: bpsToScale(rp.DeltaRBps),
		UStar:  bpsToScale(rp.UStarBps),
	}
}

// Validate checks the asset pair and rate model are well formed before the
// pool is initialized against them.
func (rp RiskParameters) Validate() error {
	if rp.Admin == "" || rp.CollateralAsset == "" || rp.BorrowAsset == "" {
		return fmt.Errorf("risk parameters: admin, collateral asset and borrow asset are required")
	}
	if rp.CollateralAsset == rp.BorrowAsset {
		return fmt.Errorf("risk parameters: collateral and borrow asset must differ")
	}
	if err := rp.RateParams().Validate(); err != nil {
		return fmt.Errorf("risk parameters: %w", err)
	}
	if rp.LiquidatorBonusBps+rp.DeveloperBonusBps+rp.ProtocolBonusBps != 10_000 {
		return fmt.Errorf("risk parameters: liquidator, developer and protocol bonus shares must sum to 10000 bps")
	}
	return nil
}

// DefaultRiskParameters mirrors pool.DefaultConfig and ratemodel.DefaultParams
// for the given asset pair, as a convenience for local development. Fees are
// disabled and the full liquidation bonus is routed to the liquidator,
// matching pool.DefaultConfig exactly.
func DefaultRiskParameters(admin, collateralAsset, borrowAsset string) RiskParameters {
	return RiskParameters{
		Admin:                admin,
		CollateralAsset:      collateralAsset,
		BorrowAsset:          borrowAsset,
		LTVBps:               7_500,
		LiquidationThreshBps: 8_000,
		LiquidationBonusBps:  500,
		CloseFactorBps:       5_000,
		ReserveFactorBps:     1_000,

		OriginationFeeBps:  0,
		LiquidatorBonusBps: 10_000,
		DeveloperBonusBps:  0,
		ProtocolBonusBps:   0,

		RMinBps:   0,
		ROptBps:   400,
		DeltaRBps: 7_500,
		UStarBps:  8_000,
	}
}
