package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is the runtime configuration for poold: where it listens,
// what risk-parameter file it loads, and how it authenticates and
// rate-limits callers. It is loaded from a YAML file and then overlaid with
// environment variables, mirroring the env-var precedence of the teacher's
// services/lending/config.go.
type DaemonConfig struct {
	Listen          string `yaml:"listen"`
	RiskParamsPath  string `yaml:"risk_params_path"`
	JWTSigningKey   string `yaml:"jwt_signing_key"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	LogLevel        string `yaml:"log_level"`
	LogFilePath     string    `yaml:"log_file_path"`
	MetricsListen   string    `yaml:"metrics_listen"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig describes the daemon's listener certificate and, optionally, the
// client CA bundle used to require mutual TLS. Leaving CertPath/KeyPath empty
// serves plaintext, which Validate accepts only when AllowInsecure is set,
// mirroring the teacher's AllowInsecure escape hatch for local development.
type TLSConfig struct {
	CertPath      string `yaml:"cert_path"`
	KeyPath       string `yaml:"key_path"`
	ClientCAPath  string `yaml:"client_ca_path"`
	MTLSRequired  bool   `yaml:"mtls_required"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// Enabled reports whether a server certificate has been configured.
func (t TLSConfig) Enabled() bool {
	return strings.TrimSpace(t.CertPath) != "" && strings.TrimSpace(t.KeyPath) != ""
}

const (
	envListen          = "LENDCORE_LISTEN"
	envRiskParamsPath  = "LENDCORE_RISK_PARAMS_PATH"
	envJWTSigningKey   = "LENDCORE_JWT_SIGNING_KEY"
	envRateLimitPerMin = "LENDCORE_RATE_PER_MIN"
	envLogLevel        = "LENDCORE_LOG_LEVEL"
	envLogFilePath     = "LENDCORE_LOG_FILE_PATH"
	envMetricsListen   = "LENDCORE_METRICS_LISTEN"

	defaultListen          = "0.0.0.0:8443"
	defaultRiskParamsPath  = "risk.toml"
	defaultRateLimitPerMin = 120
	defaultLogLevel        = "info"
	defaultMetricsListen   = "127.0.0.1:9090"
)

// LoadDaemonConfig reads path as YAML, falling back to built-in defaults for
// any field the file omits, then applies environment variable overrides.
func LoadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := DaemonConfig{
		Listen:          defaultListen,
		RiskParamsPath:  defaultRiskParamsPath,
		RateLimitPerMin: defaultRateLimitPerMin,
		LogLevel:        defaultLogLevel,
		MetricsListen:   defaultMetricsListen,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return DaemonConfig{}, fmt.Errorf("read daemon config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return DaemonConfig{}, fmt.Errorf("parse daemon config: %w", err)
		}
	}

	cfg.Listen = stringFromEnv(envListen, cfg.Listen)
	cfg.RiskParamsPath = stringFromEnv(envRiskParamsPath, cfg.RiskParamsPath)
	cfg.JWTSigningKey = stringFromEnv(envJWTSigningKey, cfg.JWTSigningKey)
	cfg.RateLimitPerMin = intFromEnv(envRateLimitPerMin, cfg.RateLimitPerMin)
	cfg.LogLevel = stringFromEnv(envLogLevel, cfg.LogLevel)
	cfg.LogFilePath = stringFromEnv(envLogFilePath, cfg.LogFilePath)
	cfg.MetricsListen = stringFromEnv(envMetricsListen, cfg.MetricsListen)

	return cfg, nil
}

// Sanitized returns a copy of cfg with secrets masked, suitable for logging.
func (cfg DaemonConfig) Sanitized() DaemonConfig {
	clone := cfg
	if clone.JWTSigningKey != "" {
		clone.JWTSigningKey = "***"
	}
	return clone
}

// Validate ensures the daemon configuration is internally consistent.
func (cfg DaemonConfig) Validate() error {
	if strings.TrimSpace(cfg.JWTSigningKey) == "" {
		return fmt.Errorf("daemon config: jwt signing key is required")
	}
	if strings.TrimSpace(cfg.RiskParamsPath) == "" {
		return fmt.Errorf("daemon config: risk parameters path is required")
	}
	if cfg.RateLimitPerMin < 0 {
		return fmt.Errorf("daemon config: rate limit per minute must be non-negative")
	}
	if !cfg.TLS.Enabled() && !cfg.TLS.AllowInsecure {
		return fmt.Errorf("daemon config: tls certificate and key are required unless tls.allow_insecure is set")
	}
	if cfg.TLS.MTLSRequired && strings.TrimSpace(cfg.TLS.ClientCAPath) == "" {
		return fmt.Errorf("daemon config: tls.client_ca_path is required when mtls_required is set")
	}
	return nil
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func intFromEnv(key string, fallback int) int {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
