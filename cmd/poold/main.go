// Command poold runs the lending pool as a standalone HTTP daemon: it loads
// risk parameters and daemon configuration from disk, wires the oracle, rate
// model, ledger and pool engine together, and serves the result behind
// server.Service until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apogeefi/lendcore/config"
	"github.com/apogeefi/lendcore/internal/ledger"
	"github.com/apogeefi/lendcore/internal/oracle"
	"github.com/apogeefi/lendcore/internal/pool"
	"github.com/apogeefi/lendcore/observability/logging"
	"github.com/apogeefi/lendcore/server"
)

func main() {
	var daemonCfgPath, riskCfgPath string
	flag.StringVar(&daemonCfgPath, "config", "poold.yaml", "path to daemon config")
	flag.StringVar(&riskCfgPath, "risk-params", "", "path to risk parameters TOML, overrides the daemon config's risk_params_path")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDCORE_ENV"))

	daemonCfg, err := config.LoadDaemonConfig(daemonCfgPath)
	if err != nil {
		log.Fatalf("load daemon config: %v", err)
	}
	logger := logging.Setup("poold", env, daemonCfg.LogFilePath)
	if riskCfgPath == "" {
		riskCfgPath = daemonCfg.RiskParamsPath
	}
	if err := daemonCfg.Validate(); err != nil {
		log.Fatalf("validate daemon config: %v", err)
	}

	riskParams, err := config.LoadRiskParameters(riskCfgPath)
	if err != nil {
		log.Fatalf("load risk parameters: %v", err)
	}
	if err := riskParams.Validate(); err != nil {
		log.Fatalf("validate risk parameters: %v", err)
	}

	priceOracle := oracle.New()
	if err := priceOracle.Initialize(riskParams.Admin); err != nil {
		log.Fatalf("initialize oracle: %v", err)
	}

	book := ledger.New()
	lendingPool := pool.New()
	if err := lendingPool.Initialize(riskParams.PoolConfig(), priceOracle, riskParams.RateParams(), book, time.Now().Unix()); err != nil {
		log.Fatalf("initialize pool: %v", err)
	}

	logger.Info("poold starting", "config", daemonCfg.Sanitized(), "pool", riskParams.PoolConfig())

	tlsCfg, err := loadTLSConfig(daemonCfg.TLS)
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}

	svc := server.New(lendingPool, logger, server.AuthConfig{SigningKey: daemonCfg.JWTSigningKey}, daemonCfg.RateLimitPerMin)
	httpServer := &http.Server{
		Addr:         daemonCfg.Listen,
		Handler:      svc.Router(prometheus.DefaultRegisterer),
		TLSConfig:    tlsCfg,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("poold listening", "addr", daemonCfg.Listen, "tls", tlsCfg != nil)
		if tlsCfg != nil {
			serverErr <- httpServer.ListenAndServeTLS("", "")
		} else {
			serverErr <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve http: %v", err)
		}
	}
}
