package httpclient

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AmmannChristian/go-apiclient/internal/tlsconfig"
	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"golang.org/x/time/rate"
)

// DefaultTimeout is the overall timeout of a single HTTP exchange unless WithTimeout is used.
const DefaultTimeout = 30 * time.Second

// Builder provides a fluent interface for constructing a Client
// with optional token authority, TLS/mTLS and rate limiting.
type Builder struct {
	baseURL string

	// Token configuration
	authority TokenAuthority
	getter    AccessTokenGetter
	onUpdate  AccessTokenUpdateCallback

	// TLS configuration
	tlsEnabled    bool
	tlsCAFile     string
	tlsCertFile   string
	tlsKeyFile    string
	tlsSkipVerify bool

	// HTTP client configuration
	timeout         time.Duration
	baseTransport   http.RoundTripper
	followRedirects bool

	rateLimit rate.Limit
	rateBurst int

	logger  oauth2client.Logger
	metrics *metrics.Metrics
}

// NewBuilder creates a new client builder.
func NewBuilder() *Builder {
	return &Builder{
		timeout:         DefaultTimeout,
		followRedirects: true,
	}
}

// WithBaseURL sets the URL every relative request path is resolved against. Required.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.baseURL = baseURL
	return b
}

// WithAuthority sets the token authority used for Authenticate, RevokeAccess and refreshing
// on 401 responses. Without one the client only attaches whatever token it is given.
func (b *Builder) WithAuthority(authority TokenAuthority) *Builder {
	if a, ok := authority.(*oauth2client.Authority); ok && a == nil {
		authority = nil
	}
	b.authority = authority
	return b
}

// WithTokenStore reads and updates the access token through store.
func (b *Builder) WithTokenStore(store oauth2client.TokenStore) *Builder {
	if store == nil {
		b.getter = nil
		b.onUpdate = nil
		return b
	}
	b.getter = store.AccessToken
	b.onUpdate = store.SetAccessToken
	return b
}

// WithAccessTokenGetter sets the function the client reads the current token from.
func (b *Builder) WithAccessTokenGetter(getter AccessTokenGetter) *Builder {
	b.getter = getter
	return b
}

// WithAccessTokenUpdateCallback sets the function notified of every token change.
func (b *Builder) WithAccessTokenUpdateCallback(callback AccessTokenUpdateCallback) *Builder {
	b.onUpdate = callback
	return b
}

// WithTLS enables TLS for the connection.
//
// Parameters:
//   - caFile: Path to CA certificate for server verification (optional, uses system roots if empty)
//   - certFile: Path to client certificate for mTLS (optional, must be paired with keyFile)
//   - keyFile: Path to client private key for mTLS (optional, must be paired with certFile)
func (b *Builder) WithTLS(caFile, certFile, keyFile string) *Builder {
	b.tlsEnabled = true
	b.tlsCAFile = caFile
	b.tlsCertFile = certFile
	b.tlsKeyFile = keyFile
	return b
}

// WithInsecureSkipVerify disables TLS certificate verification (NOT RECOMMENDED for production).
func (b *Builder) WithInsecureSkipVerify() *Builder {
	b.tlsSkipVerify = true
	return b
}

// WithTimeout sets the overall timeout of one HTTP exchange. Zero disables it.
// Default is 30 seconds.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.timeout = timeout
	return b
}

// WithBaseTransport sets a custom base transport below the bearer token transport.
func (b *Builder) WithBaseTransport(transport http.RoundTripper) *Builder {
	b.baseTransport = transport
	return b
}

// WithoutRedirects disables automatic redirect following.
func (b *Builder) WithoutRedirects() *Builder {
	b.followRedirects = false
	return b
}

// WithRateLimit limits outgoing requests, retries included, to limit per second with the
// given burst. Waiting for the limiter honours the request context.
func (b *Builder) WithRateLimit(limit rate.Limit, burst int) *Builder {
	b.rateLimit = limit
	b.rateBurst = burst
	return b
}

// WithLogger enables logging of refreshes, retries and failures. Tokens are never logged.
func (b *Builder) WithLogger(logger oauth2client.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics records request, retry and refresh counters.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// Build constructs the Client with the configured options.
func (b *Builder) Build() (*Client, error) {
	if b.baseURL == "" {
		return nil, errors.New("httpclient: base URL is required")
	}
	if b.rateLimit < 0 || (b.rateLimit > 0 && b.rateBurst <= 0) {
		return nil, fmt.Errorf("httpclient: invalid rate limit %v with burst %d", b.rateLimit, b.rateBurst)
	}

	httpClient, err := b.buildHTTPClient()
	if err != nil {
		return nil, err
	}

	client := &Client{
		baseURL:    b.baseURL,
		httpClient: httpClient,
		authority:  b.authority,
		getter:     b.getter,
		onUpdate:   b.onUpdate,
		logger:     b.logger,
		metrics:    b.metrics,
	}
	if b.rateLimit > 0 {
		client.limiter = rate.NewLimiter(b.rateLimit, b.rateBurst)
	}

	return client, nil
}

func (b *Builder) buildHTTPClient() (*http.Client, error) {
	transport := b.baseTransport
	if transport == nil {
		transport = http.DefaultTransport
		if base, ok := transport.(*http.Transport); ok {
			cloned := base.Clone()

			if b.tlsEnabled || b.tlsSkipVerify {
				tlsConfig, err := b.buildTLSConfig()
				if err != nil {
					return nil, fmt.Errorf("httpclient: TLS config failed: %w", err)
				}
				cloned.TLSClientConfig = tlsConfig
			} else {
				cloned.TLSClientConfig = &tls.Config{
					MinVersion: tls.VersionTLS12,
				}
			}

			transport = cloned
		}
	}

	client := &http.Client{
		Transport: NewBearerTransport(b.getter, transport),
		Timeout:   b.timeout,
	}

	if !b.followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return client, nil
}

func (b *Builder) buildTLSConfig() (*tls.Config, error) {
	return tlsconfig.Build(tlsconfig.Options{
		CAFile:             b.tlsCAFile,
		CertFile:           b.tlsCertFile,
		KeyFile:            b.tlsKeyFile,
		InsecureSkipVerify: b.tlsSkipVerify,
	})
}

// NewClient is a convenience function that creates a Client backed by a token store.
// For more configuration options, use Builder instead.
//
// Example:
//
//	authority := oauth2client.NewAuthority("https://auth.example.com", "client-id", "secret")
//	store := oauth2client.NewMemoryTokenStore(nil)
//	client, err := httpclient.NewClient("https://api.example.com", authority, store)
func NewClient(baseURL string, authority TokenAuthority, store oauth2client.TokenStore) (*Client, error) {
	return NewBuilder().
		WithBaseURL(baseURL).
		WithAuthority(authority).
		WithTokenStore(store).
		Build()
}
