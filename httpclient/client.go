package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AmmannChristian/go-apiclient/apierror"
	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"golang.org/x/time/rate"
)

// ErrMissingAuthAuthority is returned by Authenticate and RevokeAccess on a client built without
// a token authority.
var ErrMissingAuthAuthority = errors.New("httpclient: an auth authority must be configured with WithAuthority for Authenticate and RevokeAccess to work")

// TokenAuthority issues, refreshes and revokes access tokens.
// *oauth2client.Authority implements it.
type TokenAuthority interface {
	RequestAccessToken(ctx context.Context, credentials oauth2client.Credentials) (*oauth2client.AccessToken, error)
	RefreshAccessToken(ctx context.Context, token *oauth2client.AccessToken) (*oauth2client.AccessToken, error)
	RevokeAccessToken(ctx context.Context, token *oauth2client.AccessToken) error
}

// RequestConfig describes one API request.
type RequestConfig struct {
	Method string // defaults to GET
	Path   string // relative to the base URL, or absolute

	// Params are appended to the query string. Lists encode as "key[]" and maps as "key[sub]".
	Params map[string]any

	// Data is the request body, sent as JSON unless SendAsFormData is set.
	// Nil means no body.
	Data any

	// SendAsFormData sends Data, which must then be a map, as multipart/form-data.
	SendAsFormData bool

	// NoRefreshToken disables the refresh-and-retry on a 401 response.
	NoRefreshToken bool

	// Timeout bounds this request, on top of the client timeout. Zero means none.
	Timeout time.Duration

	// Header holds extra request headers. Authorization and Content-Type are managed by the
	// client and ignored here.
	Header http.Header
}

// Response is a successful API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Data       json.RawMessage
}

// Decode unmarshals the response body as JSON into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("httpclient: decode response: empty body")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("httpclient: decode response: %w", err)
	}
	return nil
}

// Client performs authenticated JSON API requests.
//
// On a 401 response it refreshes the access token through its authority and re-issues the
// request once. The token itself is owned by the caller and read through the getter on every
// attempt. Client is safe for concurrent use; concurrent 401s each trigger their own refresh.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authority  TokenAuthority
	getter     AccessTokenGetter
	onUpdate   AccessTokenUpdateCallback
	limiter    *rate.Limiter
	logger     oauth2client.Logger
	metrics    *metrics.Metrics
}

// BaseURL returns the URL relative request paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying *http.Client, which attaches the bearer token but neither
// refreshes nor classifies errors.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Request sends the request described by cfg.
//
// The body is encoded once, so the retry after a refresh sends the same bytes even when Data
// holds readers that the first attempt consumed.
//
// Errors:
//   - apierror.ErrNetwork (wrapped) when no response was received
//   - *apierror.FailedResponseError for any other non-2xx response
//   - the refresh error, unchanged, when refreshing after a 401 fails
//   - context errors when ctx is done or cfg.Timeout expires
func (c *Client) Request(ctx context.Context, cfg RequestConfig) (*Response, error) {
	prepared, err := c.prepare(cfg)
	if err != nil {
		c.metrics.ObserveRequest(requestMethod(cfg.Method), metrics.OutcomeError)
		c.logf("httpclient: %s %s failed: %v", requestMethod(cfg.Method), cfg.Path, err)
		return nil, err
	}
	return c.do(ctx, cfg, prepared)
}

// do sends prepared and handles the response, refreshing and retrying at most once on a 401.
func (c *Client) do(ctx context.Context, cfg RequestConfig, prepared *preparedRequest) (*Response, error) {
	resp, err := c.send(ctx, cfg, prepared)
	if err != nil {
		c.metrics.ObserveRequest(prepared.method, requestOutcome(err))
		c.logf("httpclient: %s %s failed: %v", prepared.method, cfg.Path, err)
		return nil, err
	}

	if successful(resp.StatusCode) {
		c.metrics.ObserveRequest(prepared.method, metrics.OutcomeSuccess)
		return resp, nil
	}

	c.metrics.ObserveRequest(prepared.method, metrics.OutcomeFailedResponse)

	if resp.StatusCode == http.StatusUnauthorized && !cfg.NoRefreshToken && c.authority != nil {
		if current := c.accessToken(); current.HasRefreshToken() {
			return c.refreshTokenAndRetry(ctx, cfg, prepared, current)
		}
	}

	return nil, apierror.NewFailedResponseError(resp.StatusCode, resp.Data)
}

// Get sends a GET request with params as query string.
func (c *Client) Get(ctx context.Context, path string, params map[string]any) (*Response, error) {
	return c.Request(ctx, RequestConfig{Method: http.MethodGet, Path: path, Params: params})
}

// Post sends data as JSON in a POST request.
func (c *Client) Post(ctx context.Context, path string, data any) (*Response, error) {
	return c.Request(ctx, RequestConfig{Method: http.MethodPost, Path: path, Data: data})
}

// Put sends data as JSON in a PUT request.
func (c *Client) Put(ctx context.Context, path string, data any) (*Response, error) {
	return c.Request(ctx, RequestConfig{Method: http.MethodPut, Path: path, Data: data})
}

// Patch sends data as JSON in a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, data any) (*Response, error) {
	return c.Request(ctx, RequestConfig{Method: http.MethodPatch, Path: path, Data: data})
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Request(ctx, RequestConfig{Method: http.MethodDelete, Path: path})
}

// Authenticate requests a new access token for credentials and hands it to the update callback.
// Authority errors are returned unchanged and leave the current token untouched.
func (c *Client) Authenticate(ctx context.Context, credentials oauth2client.Credentials) error {
	if c.authority == nil {
		return ErrMissingAuthAuthority
	}

	token, err := c.authority.RequestAccessToken(ctx, credentials)
	if err != nil {
		return err
	}

	c.updateAccessToken(token)
	return nil
}

// RevokeAccess revokes the current access token and reports nil to the update callback.
// Without a current token it does nothing. On error the token is left untouched.
func (c *Client) RevokeAccess(ctx context.Context) error {
	if c.authority == nil {
		return ErrMissingAuthAuthority
	}

	token := c.accessToken()
	if token == nil {
		return nil
	}

	if err := c.authority.RevokeAccessToken(ctx, token); err != nil {
		return err
	}

	c.updateAccessToken(nil)
	c.logf("httpclient: access revoked")
	return nil
}

func (c *Client) refreshTokenAndRetry(ctx context.Context, cfg RequestConfig, prepared *preparedRequest, current *oauth2client.AccessToken) (*Response, error) {
	c.logf("httpclient: %s %s returned 401, refreshing access token", prepared.method, cfg.Path)

	refreshed, err := c.authority.RefreshAccessToken(ctx, current)
	c.metrics.ObserveRefresh(err)
	if err != nil {
		c.logf("httpclient: token refresh failed: %v", err)
		return nil, err
	}

	c.updateAccessToken(refreshed)

	retry := cfg
	retry.NoRefreshToken = true
	c.metrics.ObserveRetry()

	return c.do(ctx, retry, prepared)
}

// send performs one HTTP exchange and returns the response whatever its status.
func (c *Client) send(ctx context.Context, cfg RequestConfig, prepared *preparedRequest) (*Response, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpclient: rate limit: %w", err)
		}
	}

	req, err := c.newRequest(ctx, cfg.Header, prepared)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierror.FromTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read response body: %w", err)
	}

	var data json.RawMessage
	if len(body) > 0 {
		data = body
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Data:       data,
	}, nil
}

// preparedRequest is a request resolved and encoded once, shared by every attempt.
type preparedRequest struct {
	method      string
	url         string
	body        []byte
	contentType string
}

func (c *Client) prepare(cfg RequestConfig) (*preparedRequest, error) {
	endpoint, err := resolveURL(c.baseURL, cfg.Path, cfg.Params)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(cfg.Data, cfg.SendAsFormData)
	if err != nil {
		return nil, err
	}

	return &preparedRequest{
		method:      requestMethod(cfg.Method),
		url:         endpoint,
		body:        body,
		contentType: contentType,
	}, nil
}

// newRequest builds one attempt of prepared with a fresh body reader.
func (c *Client) newRequest(ctx context.Context, header http.Header, prepared *preparedRequest) (*http.Request, error) {
	var body io.Reader
	if prepared.body != nil {
		body = bytes.NewReader(prepared.body)
	}

	req, err := http.NewRequestWithContext(ctx, prepared.method, prepared.url, body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}

	for key, values := range header {
		switch http.CanonicalHeaderKey(key) {
		case "Authorization", "Content-Type":
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", prepared.contentType)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	return req, nil
}

func (c *Client) accessToken() *oauth2client.AccessToken {
	if c.getter == nil {
		return nil
	}
	return c.getter()
}

func (c *Client) updateAccessToken(token *oauth2client.AccessToken) {
	if c.onUpdate != nil {
		c.onUpdate(token)
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func requestMethod(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(method)
}

func requestOutcome(err error) string {
	if errors.Is(err, apierror.ErrNetwork) {
		return metrics.OutcomeNetworkError
	}
	return metrics.OutcomeError
}

func successful(status int) bool {
	return status >= 200 && status < 300
}
