package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/AmmannChristian/go-apiclient/internal/testutil"
)

type subjectKey struct{}

// SubjectFromContext returns the token subject stored by MockResourceServer.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}

// MockResourceServer is an API protected by tokens from a MockAuthorizationServer.
// Requests without a valid bearer token get 401 with an invalid_token error body.
type MockResourceServer struct {
	*httptest.Server

	requests     atomic.Int64
	unauthorized atomic.Int64
}

// NewMockResourceServer starts a resource server validating tokens against auth.
// If handler is nil, every authorized request is answered with {"message":"ok","subject":...}.
func NewMockResourceServer(tb testing.TB, auth *MockAuthorizationServer, handler http.Handler) *MockResourceServer {
	tb.Helper()

	if handler == nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"message": "ok",
				"subject": SubjectFromContext(r.Context()),
			})
		})
	}

	s := &MockResourceServer{}
	s.Server = testutil.NewLocalHTTPServer(tb, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			s.reject(w, "missing bearer token")
			return
		}

		subject, err := auth.VerifyAccessToken(raw)
		if err != nil {
			s.reject(w, err.Error())
			return
		}

		handler.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	}))

	return s
}

// Requests returns how many requests reached the server.
func (s *MockResourceServer) Requests() int {
	return int(s.requests.Load())
}

// Unauthorized returns how many requests were rejected with 401.
func (s *MockResourceServer) Unauthorized() int {
	return int(s.unauthorized.Load())
}

func (s *MockResourceServer) reject(w http.ResponseWriter, description string) {
	s.unauthorized.Add(1)
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeOAuth2Error(w, http.StatusUnauthorized, "invalid_token", description)
}
