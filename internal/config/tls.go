package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

// GatewayTLSConfig carries base64-encoded PEM material for gateways behind a
// private CA or requiring client certificates.
type GatewayTLSConfig struct {
	CACert     string `env:"CA_CERT"`
	ClientCert string `env:"CLIENT_CERT"`
	ClientKey  string `env:"CLIENT_KEY"`
	ServerName string `env:"SERVER_NAME"`
}

// Build returns nil when nothing is configured.
func (g GatewayTLSConfig) Build() (*tls.Config, error) {
	if g.CACert == "" && g.ClientCert == "" && g.ClientKey == "" {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: g.ServerName,
	}

	if g.CACert != "" {
		caCertData, err := base64.StdEncoding.DecodeString(g.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to decode CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCertData) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		cfg.RootCAs = pool
	}

	if g.ClientCert != "" || g.ClientKey != "" {
		if g.ClientCert == "" || g.ClientKey == "" {
			return nil, fmt.Errorf("client cert and client key must be set together")
		}
		clientCertData, err := base64.StdEncoding.DecodeString(g.ClientCert)
		if err != nil {
			return nil, fmt.Errorf("failed to decode client cert: %w", err)
		}
		clientKeyData, err := base64.StdEncoding.DecodeString(g.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode client key: %w", err)
		}
		pair, err := tls.X509KeyPair(clientCertData, clientKeyData)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	return cfg, nil
}
