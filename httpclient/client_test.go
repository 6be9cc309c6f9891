package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AmmannChristian/go-apiclient/apierror"
	"github.com/AmmannChristian/go-apiclient/metrics"
	"github.com/AmmannChristian/go-apiclient/oauth2client"
	"github.com/AmmannChristian/go-apiclient/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testBaseURL = "https://api.example.com"

// fakeAuthority records every call and answers with the configured results.
type fakeAuthority struct {
	mu sync.Mutex

	token      *oauth2client.AccessToken
	requestErr error
	refreshed  *oauth2client.AccessToken
	refreshErr error
	revokeErr  error

	requestCalls []oauth2client.Credentials
	refreshCalls []*oauth2client.AccessToken
	revokeCalls  []*oauth2client.AccessToken
}

func (f *fakeAuthority) RequestAccessToken(_ context.Context, credentials oauth2client.Credentials) (*oauth2client.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestCalls = append(f.requestCalls, credentials)
	return f.token, f.requestErr
}

func (f *fakeAuthority) RefreshAccessToken(_ context.Context, token *oauth2client.AccessToken) (*oauth2client.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls = append(f.refreshCalls, token)
	return f.refreshed, f.refreshErr
}

func (f *fakeAuthority) RevokeAccessToken(_ context.Context, token *oauth2client.AccessToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls = append(f.revokeCalls, token)
	return f.revokeErr
}

// recordingStore is a MemoryTokenStore that remembers every update.
type recordingStore struct {
	*oauth2client.MemoryTokenStore

	mu      sync.Mutex
	updates []*oauth2client.AccessToken
}

func newRecordingStore(initial *oauth2client.AccessToken) *recordingStore {
	return &recordingStore{MemoryTokenStore: oauth2client.NewMemoryTokenStore(initial)}
}

func (s *recordingStore) SetAccessToken(token *oauth2client.AccessToken) {
	s.mu.Lock()
	s.updates = append(s.updates, token)
	s.mu.Unlock()
	s.MemoryTokenStore.SetAccessToken(token)
}

func (s *recordingStore) getUpdates() []*oauth2client.AccessToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*oauth2client.AccessToken, len(s.updates))
	copy(out, s.updates)
	return out
}

type stubLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *stubLogger) getMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := make([]string, len(l.messages))
	copy(msgs, l.messages)
	return msgs
}

func newTestClient(t *testing.T, rt http.RoundTripper, authority TokenAuthority, store oauth2client.TokenStore, configure ...func(*Builder)) *Client {
	t.Helper()

	builder := NewBuilder().
		WithBaseURL(testBaseURL).
		WithBaseTransport(rt).
		WithTokenStore(store)
	if authority != nil {
		builder.WithAuthority(authority)
	}
	for _, fn := range configure {
		fn(builder)
	}

	client, err := builder.Build()
	require.NoError(t, err)
	return client
}

func unauthorized() testutil.RoundTripFunc {
	return testutil.StaticJSONResponse(http.StatusUnauthorized, `{"error":"invalid_token"}`)
}

func ok(body string) testutil.RoundTripFunc {
	return testutil.StaticJSONResponse(http.StatusOK, body)
}

func TestClient_Request_SendsBearerToken(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`{}`))
	store := newRecordingStore(oauth2client.NewBearerToken("T1", "R1"))
	client := newTestClient(t, transport, nil, store)

	_, err := client.Get(context.Background(), "/resource", nil)
	require.NoError(t, err)

	requests := transport.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "Bearer T1", requests[0].Header.Get("Authorization"))
	assert.Equal(t, "application/json", requests[0].Header.Get("Content-Type"))
	assert.Equal(t, testBaseURL+"/resource", requests[0].URL)
}

func TestClient_Request_WithoutTokenSendsNoAuthorization(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`{}`))
	client := newTestClient(t, transport, nil, newRecordingStore(nil))

	_, err := client.Request(context.Background(), RequestConfig{
		Path:   "/resource",
		Header: http.Header{"Authorization": {"Bearer forged"}, "X-Trace": {"abc"}},
	})
	require.NoError(t, err)

	requests := transport.Requests()
	require.Len(t, requests, 1)
	assert.Empty(t, requests[0].Header.Values("Authorization"))
	assert.Equal(t, "abc", requests[0].Header.Get("X-Trace"))
	assert.Equal(t, http.MethodGet, requests[0].Method)
}

func TestClient_Request_WithoutGetter(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`{}`))

	client, err := NewBuilder().WithBaseURL(testBaseURL).WithBaseTransport(transport).Build()
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/resource", nil)
	require.NoError(t, err)
	assert.Empty(t, transport.Requests()[0].Header.Get("Authorization"))
}

func TestClient_Request_ReturnsResponseBody(t *testing.T) {
	client := newTestClient(t, ok(`{"message":"ok","count":2}`), nil, newRecordingStore(nil))

	resp, err := client.Get(context.Background(), "/resource", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"ok","count":2}`, string(resp.Data))

	var body struct {
		Message string `json:"message"`
		Count   int    `json:"count"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "ok", body.Message)
	assert.Equal(t, 2, body.Count)
}

func TestClient_Request_EmptyBody(t *testing.T) {
	client := newTestClient(t, testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Header: make(http.Header), Request: req}, nil
	}), nil, newRecordingStore(nil))

	resp, err := client.Delete(context.Background(), "/resource/1")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, resp.Data)
	assert.Error(t, resp.Decode(&struct{}{}))
}

func TestClient_Request_RefreshesAndRetriesOnce(t *testing.T) {
	transport := testutil.NewRecordingTransport(unauthorized(), ok(`{"message":"ok"}`))
	current := oauth2client.NewBearerToken("T1", "R1")
	store := newRecordingStore(current)
	authority := &fakeAuthority{refreshed: oauth2client.NewBearerToken("T2", "R2")}
	client := newTestClient(t, transport, authority, store)

	resp, err := client.Post(context.Background(), "/resource", map[string]any{"name": "A resource"})
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, map[string]string{"message": "ok"}, body)

	require.Len(t, authority.refreshCalls, 1)
	assert.Same(t, current, authority.refreshCalls[0])

	updates := store.getUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, "T2", updates[0].Token)

	requests := transport.Requests()
	require.Len(t, requests, 2)
	for _, req := range requests {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, testBaseURL+"/resource", req.URL)
		assert.JSONEq(t, `{"name":"A resource"}`, string(req.Body))
	}
	assert.Equal(t, "Bearer T1", requests[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer T2", requests[1].Header.Get("Authorization"))
}

func TestClient_Request_RetrySendsSameMultipartBody(t *testing.T) {
	transport := testutil.NewRecordingTransport(unauthorized(), ok(`{}`))
	authority := &fakeAuthority{refreshed: oauth2client.NewBearerToken("T2", "R2")}
	client := newTestClient(t, transport, authority, newRecordingStore(oauth2client.NewBearerToken("T1", "R1")))

	_, err := client.Request(context.Background(), RequestConfig{
		Method:         http.MethodPost,
		Path:           "/upload",
		SendAsFormData: true,
		Data: map[string]any{
			"title":  "Report",
			"avatar": &FormFile{Filename: "a.png", ContentType: "image/png", Content: strings.NewReader("png")},
			"raw":    io.MultiReader(strings.NewReader("ra"), strings.NewReader("w")),
		},
	})
	require.NoError(t, err)

	requests := transport.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "Bearer T1", requests[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer T2", requests[1].Header.Get("Authorization"))
	assert.Equal(t, requests[0].Header.Get("Content-Type"), requests[1].Header.Get("Content-Type"))
	assert.Equal(t, requests[0].Body, requests[1].Body)

	for _, req := range requests {
		_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
		require.NoError(t, err)

		form, err := multipart.NewReader(bytes.NewReader(req.Body), params["boundary"]).ReadForm(1 << 20)
		require.NoError(t, err)
		t.Cleanup(func() { _ = form.RemoveAll() })

		assert.Equal(t, []string{"Report"}, form.Value["title"])
		assert.Equal(t, "png", readFormFile(t, form, "avatar"))
		assert.Equal(t, "raw", readFormFile(t, form, "raw"))
	}
}

func readFormFile(t *testing.T, form *multipart.Form, field string) string {
	t.Helper()

	require.Len(t, form.File[field], 1)
	f, err := form.File[field][0].Open()
	require.NoError(t, err)
	defer f.Close()

	content, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(content)
}

func TestClient_Request_RefreshUsesTokenReadOnce(t *testing.T) {
	current := oauth2client.NewBearerToken("T1", "R1")
	var mu sync.Mutex
	reads := 0
	getter := func() *oauth2client.AccessToken {
		mu.Lock()
		defer mu.Unlock()
		reads++
		// The token disappears after the transport and the refresh check have read it.
		if reads > 2 {
			return nil
		}
		return current
	}

	transport := testutil.NewRecordingTransport(unauthorized(), ok(`{}`))
	authority := &fakeAuthority{refreshed: oauth2client.NewBearerToken("T2", "R2")}
	client := newTestClient(t, transport, authority, nil, func(b *Builder) {
		b.WithAccessTokenGetter(getter)
	})

	_, err := client.Get(context.Background(), "/resource", nil)
	require.NoError(t, err)

	require.Len(t, authority.refreshCalls, 1)
	assert.Same(t, current, authority.refreshCalls[0])
}

func TestClient_Request_SecondUnauthorizedIsFailedResponse(t *testing.T) {
	transport := testutil.NewRecordingTransport(unauthorized())
	authority := &fakeAuthority{refreshed: oauth2client.NewBearerToken("T2", "R2")}
	client := newTestClient(t, transport, authority, newRecordingStore(oauth2client.NewBearerToken("T1", "R1")))

	_, err := client.Get(context.Background(), "/resource", nil)

	var failed *apierror.FailedResponseError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusUnauthorized, failed.StatusCode)
	assert.JSONEq(t, `{"error":"invalid_token"}`, string(failed.Data))
	assert.Len(t, authority.refreshCalls, 1)
	assert.Len(t, transport.Requests(), 2)
}

func TestClient_Request_UnauthorizedWithoutRefreshToken(t *testing.T) {
	transport := testutil.NewRecordingTransport(unauthorized())
	authority := &fakeAuthority{}
	store := newRecordingStore(oauth2client.NewBearerToken("T1", ""))
	client := newTestClient(t, transport, authority, store)

	_, err := client.Get(context.Background(), "/resource", nil)

	var failed *apierror.FailedResponseError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusUnauthorized, failed.StatusCode)
	assert.Empty(t, authority.refreshCalls)
	assert.Empty(t, store.getUpdates())
	assert.Len(t, transport.Requests(), 1)
}

func TestClient_Request_UnauthorizedWithoutAuthority(t *testing.T) {
	transport := testutil.NewRecordingTransport(unauthorized())
	client := newTestClient(t, transport, nil, newRecordingStore(oauth2client.NewBearerToken("T1", "R1")))

	_, err := client.Get(context.Background(), "/resource", nil)

	var failed *apierror.FailedResponseError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusUnauthorized, failed.StatusCode)
	assert.Len(t, transport.Requests(), 1)
}

func TestClient_Request_NoRefreshTokenFlag(t *testing.T) {
	transport := testutil.NewRecordingTransport(unauthorized())
	authority := &fakeAuthority{refreshed: oauth2client.NewBearerToken("T2", "R2")}
	client := newTestClient(t, transport, authority, newRecordingStore(oauth2client.NewBearerToken("T1", "R1")))

	_, err := client.Request(context.Background(), RequestConfig{Path: "/resource", NoRefreshToken: true})

	var failed *apierror.FailedResponseError
	require.ErrorAs(t, err, &failed)
	assert.Empty(t, authority.refreshCalls)
	assert.Len(t, transport.Requests(), 1)
}

func TestClient_Request_RefreshFailurePropagatesUnchanged(t *testing.T) {
	refreshErr := &oauth2client.InvalidTokenRequestError{
		Code:        oauth2client.ErrorCodeInvalidGrant,
		HTTPStatus:  http.StatusBadRequest,
		Description: "refresh token expired",
	}
	transport := testutil.NewRecordingTransport(unauthorized())
	authority := &fakeAuthority{refreshErr: refreshErr}
	store := newRecordingStore(oauth2client.NewBearerToken("T1", "R1"))
	client := newTestClient(t, transport, authority, store)

	_, err := client.Get(context.Background(), "/resource", nil)

	assert.Same(t, refreshErr, err)
	assert.Empty(t, store.getUpdates())
	assert.Len(t, transport.Requests(), 1)
}

func TestClient_Request_FailedResponse(t *testing.T) {
	client := newTestClient(t, testutil.StaticJSONResponse(http.StatusNotFound, `{"error":"not found"}`), nil, newRecordingStore(nil))

	_, err := client.Get(context.Background(), "/missing", nil)

	var failed *apierror.FailedResponseError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusNotFound, failed.StatusCode)
	assert.JSONEq(t, `{"error":"not found"}`, string(failed.Data))
	assert.Contains(t, err.Error(), "received 404 response from API")
}

func TestClient_Request_NetworkError(t *testing.T) {
	client := newTestClient(t, testutil.RoundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
	}), &fakeAuthority{}, newRecordingStore(oauth2client.NewBearerToken("T1", "R1")))

	_, err := client.Get(context.Background(), "/resource", nil)

	assert.ErrorIs(t, err, apierror.ErrNetwork)
	var failed *apierror.FailedResponseError
	assert.False(t, errors.As(err, &failed))
}

func TestClient_Request_PerRequestTimeout(t *testing.T) {
	client := newTestClient(t, testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}), nil, newRecordingStore(nil))

	_, err := client.Request(context.Background(), RequestConfig{Path: "/slow", Timeout: 20 * time.Millisecond})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, apierror.ErrNetwork)
}

func TestClient_Request_CanceledContext(t *testing.T) {
	client := newTestClient(t, testutil.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if err := req.Context().Err(); err != nil {
			return nil, err
		}
		return testutil.JSONResponse(req, http.StatusOK, `{}`), nil
	}), nil, newRecordingStore(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, "/resource", nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apierror.ErrNetwork)
}

func TestClient_Request_QueryParams(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`[]`))
	client := newTestClient(t, transport, nil, newRecordingStore(nil))

	_, err := client.Get(context.Background(), "/items?sort=name", map[string]any{
		"tags":  []string{"a", "b"},
		"page":  2,
		"draft": nil,
	})
	require.NoError(t, err)

	u, err := url.Parse(transport.Requests()[0].URL)
	require.NoError(t, err)
	assert.Equal(t, "/items", u.Path)
	assert.Equal(t, url.Values{
		"sort":   {"name"},
		"tags[]": {"a", "b"},
		"page":   {"2"},
	}, u.Query())
}

func TestClient_Request_FormData(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`{}`))
	client := newTestClient(t, transport, nil, newRecordingStore(oauth2client.NewBearerToken("T1", "")))

	_, err := client.Request(context.Background(), RequestConfig{
		Method:         http.MethodPost,
		Path:           "/upload",
		SendAsFormData: true,
		Data: map[string]any{
			"title":  "Report",
			"tags":   []string{"x", "y"},
			"skip":   nil,
			"avatar": &FormFile{Filename: "a.png", ContentType: "image/png", Content: strings.NewReader("png")},
		},
	})
	require.NoError(t, err)

	req := transport.Requests()[0]
	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	form, err := multipart.NewReader(bytes.NewReader(req.Body), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	defer form.RemoveAll()

	assert.Equal(t, []string{"Report"}, form.Value["title"])
	assert.Equal(t, []string{"x", "y"}, form.Value["tags[]"])
	assert.NotContains(t, form.Value, "skip")

	require.Len(t, form.File["avatar"], 1)
	file := form.File["avatar"][0]
	assert.Equal(t, "a.png", file.Filename)
	assert.Equal(t, "image/png", file.Header.Get("Content-Type"))

	f, err := file.Open()
	require.NoError(t, err)
	defer f.Close()
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "png", string(content))

	assert.Equal(t, "Bearer T1", req.Header.Get("Authorization"))
}

func TestClient_Request_FormDataRequiresMap(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`{}`))
	client := newTestClient(t, transport, nil, newRecordingStore(nil))

	_, err := client.Request(context.Background(), RequestConfig{
		Method:         http.MethodPost,
		Path:           "/upload",
		SendAsFormData: true,
		Data:           []string{"not", "a", "map"},
	})

	assert.ErrorContains(t, err, "form data must be a map")
	assert.Empty(t, transport.Requests())
}

func TestClient_Shortcuts(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`{}`))
	client := newTestClient(t, transport, nil, newRecordingStore(nil))
	ctx := context.Background()

	_, err := client.Put(ctx, "/r/1", map[string]string{"a": "b"})
	require.NoError(t, err)
	_, err = client.Patch(ctx, "/r/1", map[string]string{"c": "d"})
	require.NoError(t, err)
	_, err = client.Delete(ctx, "/r/1")
	require.NoError(t, err)

	requests := transport.Requests()
	require.Len(t, requests, 3)
	assert.Equal(t, http.MethodPut, requests[0].Method)
	assert.JSONEq(t, `{"a":"b"}`, string(requests[0].Body))
	assert.Equal(t, http.MethodPatch, requests[1].Method)
	assert.JSONEq(t, `{"c":"d"}`, string(requests[1].Body))
	assert.Equal(t, http.MethodDelete, requests[2].Method)
	assert.Empty(t, requests[2].Body)
}

func TestClient_Request_LowercaseMethod(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`{}`))
	client := newTestClient(t, transport, nil, newRecordingStore(nil))

	_, err := client.Request(context.Background(), RequestConfig{Method: "post", Path: "/r"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, transport.Requests()[0].Method)
}

func TestClient_Request_RateLimit(t *testing.T) {
	transport := testutil.NewRecordingTransport(ok(`{}`))
	client := newTestClient(t, transport, nil, newRecordingStore(nil), func(b *Builder) {
		b.WithRateLimit(rate.Every(time.Hour), 1)
	})

	_, err := client.Get(context.Background(), "/first", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Get(ctx, "/second", nil)
	assert.ErrorContains(t, err, "rate limit")
	assert.Len(t, transport.Requests(), 1)
}

func TestClient_Authenticate(t *testing.T) {
	token := oauth2client.NewBearerToken("T1", "R1")
	authority := &fakeAuthority{token: token}
	store := newRecordingStore(nil)
	client := newTestClient(t, ok(`{}`), authority, store)

	credentials := oauth2client.Credentials{"username": "test", "password": "test"}
	require.NoError(t, client.Authenticate(context.Background(), credentials))

	require.Len(t, authority.requestCalls, 1)
	assert.Equal(t, credentials, authority.requestCalls[0])
	assert.Equal(t, []*oauth2client.AccessToken{token}, store.getUpdates())
	assert.Same(t, token, store.AccessToken())
}

func TestClient_Authenticate_Error(t *testing.T) {
	authErr := &oauth2client.InvalidCredentialsError{}
	authority := &fakeAuthority{requestErr: authErr}
	store := newRecordingStore(nil)
	client := newTestClient(t, ok(`{}`), authority, store)

	err := client.Authenticate(context.Background(), oauth2client.Credentials{"username": "test"})

	assert.Same(t, authErr, err)
	assert.Empty(t, store.getUpdates())
}

func TestClient_WithoutAuthority(t *testing.T) {
	client := newTestClient(t, ok(`{}`), nil, newRecordingStore(oauth2client.NewBearerToken("T1", "R1")))

	assert.ErrorIs(t, client.Authenticate(context.Background(), nil), ErrMissingAuthAuthority)
	assert.ErrorIs(t, client.RevokeAccess(context.Background()), ErrMissingAuthAuthority)
}

func TestClient_RevokeAccess(t *testing.T) {
	token := oauth2client.NewBearerToken("T1", "R1")
	authority := &fakeAuthority{}
	store := newRecordingStore(token)
	client := newTestClient(t, ok(`{}`), authority, store)

	require.NoError(t, client.RevokeAccess(context.Background()))

	require.Len(t, authority.revokeCalls, 1)
	assert.Same(t, token, authority.revokeCalls[0])
	assert.Equal(t, []*oauth2client.AccessToken{nil}, store.getUpdates())
	assert.Nil(t, store.AccessToken())
}

func TestClient_RevokeAccess_NoToken(t *testing.T) {
	authority := &fakeAuthority{}
	store := newRecordingStore(nil)
	client := newTestClient(t, ok(`{}`), authority, store)

	require.NoError(t, client.RevokeAccess(context.Background()))

	assert.Empty(t, authority.revokeCalls)
	assert.Empty(t, store.getUpdates())
}

func TestClient_RevokeAccess_Error(t *testing.T) {
	revokeErr := &oauth2client.UnexpectedFailedResponseError{StatusCode: http.StatusServiceUnavailable}
	token := oauth2client.NewBearerToken("T1", "R1")
	authority := &fakeAuthority{revokeErr: revokeErr}
	store := newRecordingStore(token)
	client := newTestClient(t, ok(`{}`), authority, store)

	err := client.RevokeAccess(context.Background())

	assert.Same(t, revokeErr, err)
	assert.Empty(t, store.getUpdates())
	assert.Same(t, token, store.AccessToken())
}

func TestClient_AccessTokenGetterAndCallback(t *testing.T) {
	current := oauth2client.NewBearerToken("T1", "R1")
	var updates []*oauth2client.AccessToken

	transport := testutil.NewRecordingTransport(unauthorized(), ok(`{}`))
	client, err := NewBuilder().
		WithBaseURL(testBaseURL).
		WithBaseTransport(transport).
		WithAuthority(&fakeAuthority{refreshed: oauth2client.NewBearerToken("T2", "R2")}).
		WithAccessTokenGetter(func() *oauth2client.AccessToken { return current }).
		WithAccessTokenUpdateCallback(func(token *oauth2client.AccessToken) {
			updates = append(updates, token)
			current = token
		}).
		Build()
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/resource", nil)
	require.NoError(t, err)

	require.Len(t, updates, 1)
	assert.Equal(t, "T2", updates[0].Token)
	assert.Equal(t, "Bearer T2", transport.Requests()[1].Header.Get("Authorization"))
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	transport := testutil.NewRecordingTransport(unauthorized(), ok(`{}`))
	authority := &fakeAuthority{refreshed: oauth2client.NewBearerToken("T2", "R2")}
	client := newTestClient(t, transport, authority, newRecordingStore(oauth2client.NewBearerToken("T1", "R1")), func(b *Builder) {
		b.WithMetrics(m)
	})

	_, err = client.Post(context.Background(), "/resource", nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, metrics.OutcomeFailedResponse)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.RetriesTotal))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.TokenRefreshTotal.WithLabelValues(metrics.ResultSuccess)))
}

func TestClient_Metrics_RefreshedAttemptCountedSeparately(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	transport := testutil.NewRecordingTransport(unauthorized(), ok(`{}`))
	authority := &fakeAuthority{refreshed: oauth2client.NewBearerToken("T2", "R2")}
	client := newTestClient(t, transport, authority, newRecordingStore(oauth2client.NewBearerToken("T1", "R1")), func(b *Builder) {
		b.WithMetrics(m)
	})

	_, err = client.Get(context.Background(), "/resource", nil)
	require.NoError(t, err)

	expected := `
# HELP apiclient_requests_total ` + metrics.RequestsTotalHelp + `
# TYPE apiclient_requests_total counter
apiclient_requests_total{method="GET",outcome="failed_response"} 1
apiclient_requests_total{method="GET",outcome="success"} 1
`
	assert.NoError(t, promtestutil.GatherAndCompare(reg, strings.NewReader(expected), "apiclient_requests_total"))
}

func TestClient_LogsWithoutTokens(t *testing.T) {
	logger := &stubLogger{}
	transport := testutil.NewRecordingTransport(unauthorized(), ok(`{}`))
	authority := &fakeAuthority{refreshed: oauth2client.NewBearerToken("secret-T2", "secret-R2")}
	client := newTestClient(t, transport, authority, newRecordingStore(oauth2client.NewBearerToken("secret-T1", "secret-R1")), func(b *Builder) {
		b.WithLogger(logger)
	})

	_, err := client.Get(context.Background(), "/resource", nil)
	require.NoError(t, err)

	messages := logger.getMessages()
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "returned 401, refreshing access token")
	for _, msg := range messages {
		assert.NotContains(t, msg, "secret")
	}
}

func TestClient_Accessors(t *testing.T) {
	client := newTestClient(t, ok(`{}`), nil, newRecordingStore(nil))

	assert.Equal(t, testBaseURL, client.BaseURL())
	require.NotNil(t, client.HTTPClient())
	assert.IsType(t, &BearerTransport{}, client.HTTPClient().Transport)
}
