package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSOptions describes the certificate material for LDAP connections.
type TLSOptions struct {
	CACertFile         string // PEM bundle used instead of the system roots
	ClientCertFile     string // PEM client certificate
	ClientKeyFile      string // PEM client private key
	InsecureSkipVerify bool   // Disable server certificate verification
}

// BuildTLSConfig returns a tls.Config for opts. The client certificate is
// only loaded when both its certificate and key are given.
func BuildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // explicit opt-in
	}

	if opts.CACertFile != "" {
		pem, err := os.ReadFile(opts.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CACertFile)
		}
		cfg.RootCAs = pool
	}

	switch {
	case opts.ClientCertFile != "" && opts.ClientKeyFile != "":
		cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case opts.ClientCertFile != "" || opts.ClientKeyFile != "":
		return nil, fmt.Errorf("client certificate and client key must be set together")
	}

	return cfg, nil
}
