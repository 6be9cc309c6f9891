package grpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/AmmannChristian/go-apiclient/internal/tlsconfig"
	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Builder provides a fluent interface for constructing gRPC client connections
// with bearer token authentication and TLS/mTLS support.
type Builder struct {
	address string

	// Token configuration
	store     oauth2client.TokenStore
	authority Refresher

	// TLS configuration
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsServerName string

	// Additional dial options
	dialOpts []grpc.DialOption

	logger  oauth2client.Logger
	metrics *metrics.Metrics
}

// NewBuilder creates a new gRPC client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithAddress sets the server address (e.g., "server.example.com:9090").
func (b *Builder) WithAddress(address string) *Builder {
	b.address = address
	return b
}

// WithTokenStore attaches the token held by store to every call.
func (b *Builder) WithTokenStore(store oauth2client.TokenStore) *Builder {
	b.store = store
	return b
}

// WithAuthority enables a single refresh-and-retry for unary calls failing with
// codes.Unauthenticated. Requires WithTokenStore.
func (b *Builder) WithAuthority(authority Refresher) *Builder {
	if a, ok := authority.(*oauth2client.Authority); ok && a == nil {
		authority = nil
	}
	b.authority = authority
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
//   - serverName: Expected server name for TLS verification (optional, overrides SNI)
func (b *Builder) WithTLS(caFile, certFile, keyFile, serverName string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	b.tlsServerName = serverName
	return b
}

// WithDialOptions adds custom gRPC dial options.
// These options are applied after the token and TLS options.
func (b *Builder) WithDialOptions(opts ...grpc.DialOption) *Builder {
	b.dialOpts = append(b.dialOpts, opts...)
	return b
}

// WithLogger enables logging of refreshes and refresh failures.
func (b *Builder) WithLogger(logger oauth2client.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics records call, retry and refresh counters.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// Build constructs the gRPC client connection with the configured options.
// The connection is established lazily on the first call.
func (b *Builder) Build(ctx context.Context) (*grpc.ClientConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.address == "" {
		return nil, errors.New("grpcclient: server address is required")
	}
	if b.authority != nil && b.store == nil {
		return nil, errors.New("grpcclient: token store is required when an authority is set")
	}

	var opts []grpc.DialOption

	if b.store != nil {
		opts = append(opts,
			grpc.WithUnaryInterceptor(UnaryClientInterceptor(b.store, b.authority,
				WithInterceptorLogger(b.logger),
				WithInterceptorMetrics(b.metrics),
			)),
			grpc.WithStreamInterceptor(StreamClientInterceptor(b.store)),
		)
	}

	if b.tlsEnabled {
		tlsConfig, err := tlsconfig.Build(tlsconfig.Options{
			CAFile:     b.tlsCAFile,
			CertFile:   b.tlsCertFile,
			KeyFile:    b.tlsKeyFile,
			ServerName: b.tlsServerName,
		})
		if err != nil {
			return nil, fmt.Errorf("grpcclient: TLS config failed: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		// Default to TLS with system roots to avoid accidental plaintext connections.
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	}

	opts = append(opts, b.dialOpts...)

	conn, err := grpc.NewClient(b.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: dial failed: %w", err)
	}

	return conn, nil
}
