// Package metrics provides Prometheus metrics for API clients and token authorities.
//
// A nil *Metrics is valid and records nothing, so components can take one unconditionally.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Outcome labels for apiclient_requests_total.
const (
	OutcomeSuccess        = "success"
	OutcomeFailedResponse = "failed_response"
	OutcomeNetworkError   = "network_error"
	OutcomeError          = "error"
)

const namespace = "apiclient"

// RequestsTotalHelp describes apiclient_requests_total. Each attempt is counted: a 401 that
// triggers a token refresh is recorded as failed_response and the retry is recorded again.
const RequestsTotalHelp = "Total number of API request attempts by method and outcome. A 401 followed by a token refresh counts as failed_response and its retry counts again; see apiclient_request_retries_total."

// Metrics groups the collectors shared by the HTTP and gRPC clients.
type Metrics struct {
	// RequestsTotal counts finished request attempts by method and outcome.
	RequestsTotal *prometheus.CounterVec

	// RetriesTotal counts requests re-issued after a token refresh.
	RetriesTotal prometheus.Counter

	// TokenRefreshTotal counts refresh attempts triggered by an authorization failure.
	TokenRefreshTotal *prometheus.CounterVec

	// TokenRequestsTotal counts token endpoint calls by grant type and result.
	TokenRequestsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Collectors that are already registered are reused, so several clients can share a registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      RequestsTotalHelp,
			},
			[]string{"method", "outcome"},
		),
		RetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_retries_total",
				Help:      "Total number of requests retried after a token refresh",
			},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Total number of token refreshes triggered by an unauthorized response",
			},
			[]string{"result"},
		),
		TokenRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_requests_total",
				Help:      "Total number of token endpoint requests",
			},
			[]string{"grant_type", "result"},
		),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	m.RequestsTotal, err = register(reg, m.RequestsTotal)
	if err != nil {
		return nil, err
	}
	m.RetriesTotal, err = register(reg, m.RetriesTotal)
	if err != nil {
		return nil, err
	}
	m.TokenRefreshTotal, err = register(reg, m.TokenRefreshTotal)
	if err != nil {
		return nil, err
	}
	m.TokenRequestsTotal, err = register(reg, m.TokenRequestsTotal)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveRequest records one request attempt.
func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveRetry records a request re-issued after a refresh.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// ObserveRefresh records the result of a refresh triggered by an unauthorized response.
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	m.TokenRefreshTotal.WithLabelValues(result(err)).Inc()
}

// ObserveTokenRequest records a call to the token endpoint.
func (m *Metrics) ObserveTokenRequest(grantType string, err error) {
	if m == nil {
		return
	}
	m.TokenRequestsTotal.WithLabelValues(grantType, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
