package grpcclient

import (
	"context"
	"errors"

	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const authorizationKey = "authorization"

// Refresher exchanges the refresh token of an access token for a new access token.
// *oauth2client.Authority implements it.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, token *oauth2client.AccessToken) (*oauth2client.AccessToken, error)
}

// InterceptorConfig holds configuration for the client interceptors.
type InterceptorConfig struct {
	logger  oauth2client.Logger
	metrics *metrics.Metrics
}

// InterceptorOption is a functional option for configuring interceptors.
type InterceptorOption func(*InterceptorConfig)

// WithInterceptorLogger sets a logger for the interceptor.
func WithInterceptorLogger(logger oauth2client.Logger) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.logger = logger
	}
}

// WithInterceptorMetrics records call, retry and refresh counters.
func WithInterceptorMetrics(m *metrics.Metrics) InterceptorOption {
	return func(c *InterceptorConfig) {
		c.metrics = m
	}
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that adds the current access
// token from store as "authorization: Bearer <token>" metadata.
//
// When a call fails with codes.Unauthenticated, refresher is set and the current token has a
// refresh token, the interceptor refreshes the token, stores it and invokes the call once more.
// A second Unauthenticated is returned as is; a refresh error is returned unchanged.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithUnaryInterceptor(grpcclient.UnaryClientInterceptor(store, authority)),
//	)
func UnaryClientInterceptor(store oauth2client.TokenStore, refresher Refresher, opts ...InterceptorOption) grpc.UnaryClientInterceptor {
	config := &InterceptorConfig{}
	for _, opt := range opts {
		opt(config)
	}

	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		err := invoker(withAccessToken(ctx, store.AccessToken()), method, req, reply, cc, callOpts...)
		config.metrics.ObserveRequest(method, callOutcome(err))

		if status.Code(err) != codes.Unauthenticated || refresher == nil {
			return err
		}

		current := store.AccessToken()
		if !current.HasRefreshToken() {
			return err
		}

		config.logf("grpcclient: %s returned Unauthenticated, refreshing access token", method)

		refreshed, refreshErr := refresher.RefreshAccessToken(ctx, current)
		config.metrics.ObserveRefresh(refreshErr)
		if refreshErr != nil {
			config.logf("grpcclient: token refresh failed: %v", refreshErr)
			return refreshErr
		}

		store.SetAccessToken(refreshed)
		config.metrics.ObserveRetry()

		// Metadata is rebuilt from the caller's context so the stale token is not sent again.
		err = invoker(withAccessToken(ctx, refreshed), method, req, reply, cc, callOpts...)
		config.metrics.ObserveRequest(method, callOutcome(err))
		return err
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that adds the current access
// token from store as "authorization: Bearer <token>" metadata. Streams are not retried.
//
// Usage:
//
//	conn, err := grpc.NewClient(
//	    "server:9090",
//	    grpc.WithStreamInterceptor(grpcclient.StreamClientInterceptor(store)),
//	)
func StreamClientInterceptor(store oauth2client.TokenStore) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		return streamer(withAccessToken(ctx, store.AccessToken()), desc, cc, method, opts...)
	}
}

// withAccessToken replaces any authorization metadata in ctx with token, or removes it when
// there is no token.
func withAccessToken(ctx context.Context, token *oauth2client.AccessToken) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Delete(authorizationKey)
	if token != nil && token.Token != "" {
		md.Set(authorizationKey, "Bearer "+token.Token)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func callOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return metrics.OutcomeError
	}

	switch status.Code(err) {
	case codes.Unavailable:
		return metrics.OutcomeNetworkError
	case codes.Canceled, codes.DeadlineExceeded, codes.Unknown:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeFailedResponse
	}
}

func (c *InterceptorConfig) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
