package testutil

import (
	"io"
	"net/http"
	"strings"
	"sync"
)

// RoundTripFunc allows inlining http.RoundTripper implementations.
type RoundTripFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls the underlying function.
func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// JSONResponse builds an *http.Response with the given status and JSON body.
func JSONResponse(req *http.Request, status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

// StaticJSONResponse returns a RoundTripper that always responds with status and body.
func StaticJSONResponse(status int, body string) RoundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		return JSONResponse(req, status, body), nil
	}
}

// RecordedRequest is a request captured by a RecordingTransport, with its body already read.
type RecordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// RecordingTransport records every request and answers with the next scripted responder.
// When the script is exhausted the last responder is reused.
type RecordingTransport struct {
	mu         sync.Mutex
	responders []RoundTripFunc
	requests   []RecordedRequest
}

// NewRecordingTransport creates a transport answering with responders in order.
func NewRecordingTransport(responders ...RoundTripFunc) *RecordingTransport {
	return &RecordingTransport{responders: responders}
}

// RoundTrip records req and delegates to the next responder.
func (t *RecordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
	}

	t.mu.Lock()
	t.requests = append(t.requests, RecordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	idx := len(t.requests) - 1
	if idx >= len(t.responders) {
		idx = len(t.responders) - 1
	}
	t.mu.Unlock()

	if idx < 0 {
		return JSONResponse(req, http.StatusOK, `{}`), nil
	}

	req.Body = io.NopCloser(strings.NewReader(string(body)))
	return t.responders[idx](req)
}

// Requests returns a copy of the recorded requests.
func (t *RecordingTransport) Requests() []RecordedRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]RecordedRequest, len(t.requests))
	copy(out, t.requests)
	return out
}
