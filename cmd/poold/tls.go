package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/apogeefi/lendcore/config"
)

// loadTLSConfig builds the *tls.Config poold's HTTP listener serves with,
// adapted from the teacher's buildServerCredentials: load the server
// keypair, optionally require client certificates signed by clientCAPath
// when mtls is required or a CA bundle is configured.
func loadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(strings.TrimSpace(cfg.CertPath), strings.TrimSpace(cfg.KeyPath))
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	clientCAPath := strings.TrimSpace(cfg.ClientCAPath)
	if clientCAPath != "" {
		pem, err := os.ReadFile(clientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
	}

	switch {
	case cfg.MTLSRequired:
		if tlsCfg.ClientCAs == nil {
			return nil, fmt.Errorf("client ca bundle required for mtls")
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	case tlsCfg.ClientCAs != nil:
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		tlsCfg.ClientAuth = tls.NoClientCert
	}

	return tlsCfg, nil
}
