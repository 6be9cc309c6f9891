package oauth2client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/AmmannChristian/go-apiclient/apierror"
	"github.com/AmmannChristian/go-apiclient/metrics"
	"golang.org/x/oauth2"
)

// Default endpoint paths, relative to the authority base URL.
const (
	DefaultTokenEndpoint  = "/oauth/token"
	DefaultRevokeEndpoint = "/oauth/revoke"
)

// Logger is an interface for optional logging in Authority and the clients built on it.
// *log.Logger satisfies it; slog users can pass slog.NewLogLogger(handler, level).
type Logger interface {
	Printf(format string, args ...any)
}

// Authority issues, refreshes and revokes access tokens against a remote authorization server.
// It keeps no token state and is safe for concurrent use.
type Authority struct {
	baseURL        string
	tokenEndpoint  string
	revokeEndpoint string
	clientID       string
	clientSecret   string
	authStyle      oauth2.AuthStyle
	formEncoding   bool
	httpClient     *http.Client
	logger         Logger
	metrics        *metrics.Metrics
}

// Option is a functional option for configuring Authority.
type Option func(*Authority)

// WithTokenEndpoint overrides the token creation path (default "/oauth/token").
func WithTokenEndpoint(path string) Option {
	return func(a *Authority) {
		a.tokenEndpoint = path
	}
}

// WithRevokeEndpoint overrides the revocation path (default "/oauth/revoke").
func WithRevokeEndpoint(path string) Option {
	return func(a *Authority) {
		a.revokeEndpoint = path
	}
}

// WithAuthStyle selects how client credentials are sent. oauth2.AuthStyleInParams puts
// client_id and client_secret in the request body; any other value uses HTTP basic auth.
func WithAuthStyle(style oauth2.AuthStyle) Option {
	return func(a *Authority) {
		a.authStyle = style
	}
}

// WithFormEncoding sends token requests as application/x-www-form-urlencoded instead of JSON.
func WithFormEncoding() Option {
	return func(a *Authority) {
		a.formEncoding = true
	}
}

// WithHTTPClient sets the HTTP client used for token requests.
// Without it, the client stored in the request context under oauth2.HTTPClient is used,
// falling back to http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Authority) {
		a.httpClient = client
	}
}

// WithLogger sets a custom logger for token events.
// If not set, no logging will occur.
func WithLogger(logger Logger) Option {
	return func(a *Authority) {
		a.logger = logger
	}
}

// WithLoggingEnabled enables logging using the default Go log package.
func WithLoggingEnabled() Option {
	return func(a *Authority) {
		a.logger = log.Default()
	}
}

// WithMetrics records token endpoint calls in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authority) {
		a.metrics = m
	}
}

// NewAuthority creates a token authority.
//
// Parameters:
//   - baseURL: Authorization server base URL (e.g., "https://auth.example.com")
//   - clientID: OAuth2 client identifier
//   - clientSecret: OAuth2 client secret
//   - opts: Optional configuration options
func NewAuthority(baseURL, clientID, clientSecret string, opts ...Option) *Authority {
	a := &Authority{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		tokenEndpoint:  DefaultTokenEndpoint,
		revokeEndpoint: DefaultRevokeEndpoint,
		clientID:       clientID,
		clientSecret:   clientSecret,
		authStyle:      oauth2.AuthStyleInHeader,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// RequestAccessToken requests a token with the resource owner password grant.
// An invalid_grant answer is reported as *InvalidCredentialsError.
func (a *Authority) RequestAccessToken(ctx context.Context, credentials Credentials) (*AccessToken, error) {
	return a.RequestToken(ctx, GrantTypePassword, credentials)
}

// RefreshAccessToken exchanges the refresh token of token for a new AccessToken.
// It fails with ErrNoRefreshToken, without any network call, if token has no refresh token.
func (a *Authority) RefreshAccessToken(ctx context.Context, token *AccessToken) (*AccessToken, error) {
	if !token.HasRefreshToken() {
		return nil, ErrNoRefreshToken
	}

	return a.RequestToken(ctx, GrantTypeRefreshToken, Credentials{
		"refresh_token": *token.RefreshToken,
	})
}

// RequestToken posts {grant_type, ...credentials} to the token endpoint and maps the answer
// into an AccessToken.
//
// Returns:
//   - *AccessToken: the issued token; ExpiresIn and RefreshToken are nil when not returned
//   - error: *InvalidCredentialsError, *InvalidTokenRequestError, *UnexpectedFailedResponseError,
//     ErrUnexpectedTokenResponse, apierror.ErrNetwork, or a context error
func (a *Authority) RequestToken(ctx context.Context, grantType string, credentials Credentials) (*AccessToken, error) {
	token, err := a.requestToken(ctx, grantType, credentials)
	a.metrics.ObserveTokenRequest(grantType, err)
	if err != nil {
		a.logf("oauth2client: token request failed (grant_type: %s): %v", grantType, err)
		return nil, err
	}

	a.logf("oauth2client: obtained new access token (grant_type: %s, refreshable: %t)", grantType, token.HasRefreshToken())
	return token, nil
}

// RevokeAccessToken revokes token at the revocation endpoint.
func (a *Authority) RevokeAccessToken(ctx context.Context, token *AccessToken) error {
	if token == nil {
		return errors.New("oauth2client: cannot revoke a nil access token")
	}

	endpoint := a.endpointURL(a.revokeEndpoint) + "?" + url.Values{"token": {token.Token}}.Encode()

	var (
		body        io.Reader
		contentType string
	)
	if a.authStyle == oauth2.AuthStyleInParams {
		form := url.Values{"client_id": {a.clientID}, "client_secret": {a.clientSecret}}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	status, respBody, err := a.post(ctx, endpoint, body, contentType)
	if err != nil {
		return err
	}
	if !successful(status) {
		return classifyFailedResponse(status, respBody, false)
	}

	a.logf("oauth2client: revoked access token")
	return nil
}

func (a *Authority) requestToken(ctx context.Context, grantType string, credentials Credentials) (*AccessToken, error) {
	params := make(map[string]string, len(credentials)+3)
	params["grant_type"] = grantType
	for key, value := range credentials {
		params[key] = value
	}
	if a.authStyle == oauth2.AuthStyleInParams {
		params["client_id"] = a.clientID
		params["client_secret"] = a.clientSecret
	}

	body, contentType, err := a.encodeParams(params)
	if err != nil {
		return nil, err
	}

	status, respBody, err := a.post(ctx, a.endpointURL(a.tokenEndpoint), body, contentType)
	if err != nil {
		return nil, err
	}
	if !successful(status) {
		return nil, classifyFailedResponse(status, respBody, grantType == GrantTypeRefreshToken)
	}

	return parseTokenResponse(respBody)
}

func (a *Authority) encodeParams(params map[string]string) (io.Reader, string, error) {
	if a.formEncoding {
		form := make(url.Values, len(params))
		for key, value := range params {
			form.Set(key, value)
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, "", fmt.Errorf("oauth2client: encode token request: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

// post sends a POST and returns the status and the fully read body.
func (a *Authority) post(ctx context.Context, endpoint string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("oauth2client: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.authStyle != oauth2.AuthStyleInParams {
		req.SetBasicAuth(a.clientID, a.clientSecret)
	}

	resp, err := a.client(ctx).Do(req)
	if err != nil {
		return 0, nil, apierror.FromTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("oauth2client: read response body: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

func (a *Authority) client(ctx context.Context) *http.Client {
	if a.httpClient != nil {
		return a.httpClient
	}
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		return c
	}
	return http.DefaultClient
}

func (a *Authority) endpointURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return a.baseURL + "/" + strings.TrimPrefix(path, "/")
}

func (a *Authority) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

func successful(status int) bool {
	return status >= 200 && status < 300
}

// tokenResponse is the wire shape of a successful token answer.
type tokenResponse struct {
	AccessToken  *string      `json:"access_token"`
	TokenType    *string      `json:"token_type"`
	ExpiresIn    *json.Number `json:"expires_in"`
	RefreshToken *string      `json:"refresh_token"`
}

func parseTokenResponse(body []byte) (*AccessToken, error) {
	var raw tokenResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedTokenResponse, err)
	}
	if raw.AccessToken == nil || *raw.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrUnexpectedTokenResponse)
	}
	if raw.TokenType == nil || *raw.TokenType == "" {
		return nil, fmt.Errorf("%w: missing token_type", ErrUnexpectedTokenResponse)
	}

	token := &AccessToken{
		Token: *raw.AccessToken,
		Type:  *raw.TokenType,
	}

	if raw.ExpiresIn != nil {
		expiresIn, err := parseExpiresIn(*raw.ExpiresIn)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expires_in: %w", ErrUnexpectedTokenResponse, err)
		}
		// zero is treated as absent
		if expiresIn != 0 {
			token.ExpiresIn = &expiresIn
		}
	}

	if raw.RefreshToken != nil && *raw.RefreshToken != "" {
		refreshToken := *raw.RefreshToken
		token.RefreshToken = &refreshToken
	}

	return token, nil
}

func parseExpiresIn(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// classifyFailedResponse maps a non-2xx token endpoint answer to an error.
// refreshing is true when the request used the refresh_token grant.
func classifyFailedResponse(status int, body []byte, refreshing bool) error {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return &UnexpectedFailedResponseError{StatusCode: status, Body: body}
	}

	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	// a non-JSON body leaves code and description empty
	_ = json.Unmarshal(body, &errResp)

	base := InvalidTokenRequestError{
		Code:        errResp.Error,
		HTTPStatus:  status,
		Description: errResp.ErrorDescription,
	}

	if base.Code == ErrorCodeInvalidGrant && !refreshing {
		return &InvalidCredentialsError{InvalidTokenRequestError: base}
	}
	return &base
}
