// Package tlsconfig builds client TLS configurations for the HTTP and gRPC builders.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Options describes the files and overrides for a client TLS configuration.
type Options struct {
	CAFile     string // optional, system roots are used when empty
	CertFile   string // optional, must be paired with KeyFile
	KeyFile    string // optional, must be paired with CertFile
	ServerName string // optional SNI override

	// InsecureSkipVerify disables server verification. Tests only.
	InsecureSkipVerify bool
}

// Build constructs a TLS 1.2+ client configuration from opts.
func Build(opts Options) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, // #nosec G402
		ServerName:         opts.ServerName,
	}

	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = certPool
	}

	switch {
	case opts.CertFile != "" && opts.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case opts.CertFile != "" || opts.KeyFile != "":
		return nil, errors.New("both TLS cert and key files must be provided for mTLS")
	}

	return tlsConfig, nil
}
