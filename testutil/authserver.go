package testutil

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/AmmannChristian/go-apiclient/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
)

// Paths served by MockAuthorizationServer.
const (
	TokenPath  = "/oauth/token"
	RevokePath = "/oauth/revoke"
)

const mockIssuer = "apiclient-mock-authorization-server"

// MockAuthorizationServer is an in-process OAuth2 authorization server for tests.
//
// It supports the password, refresh_token and client_credentials grants, accepts JSON or form
// bodies, authenticates the client with HTTP basic auth or body parameters, issues HS256 JWT
// access tokens and rotates refresh tokens on every refresh.
type MockAuthorizationServer struct {
	*httptest.Server

	ClientID     string
	ClientSecret string
	TokenTTL     time.Duration

	key []byte

	mu            sync.Mutex
	users         map[string]string
	refreshTokens map[string]string // refresh token -> subject
	revoked       map[string]bool   // access token id -> revoked
	minSequence   int64
	sequence      int64
	grants        map[string]int
	revocations   int
	failures      []scriptedFailure
}

type scriptedFailure struct {
	status int
	body   string
}

// NewMockAuthorizationServer starts a server accepting clientID/clientSecret.
// The server is closed through tb.Cleanup.
func NewMockAuthorizationServer(tb testing.TB, clientID, clientSecret string) *MockAuthorizationServer {
	tb.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		tb.Fatalf("failed to generate signing key: %v", err)
	}

	s := &MockAuthorizationServer{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		TokenTTL:      time.Hour,
		key:           key,
		users:         make(map[string]string),
		refreshTokens: make(map[string]string),
		revoked:       make(map[string]bool),
		grants:        make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+TokenPath, s.handleToken)
	mux.HandleFunc("POST "+RevokePath, s.handleRevoke)
	s.Server = testutil.NewLocalHTTPServer(tb, mux)

	return s
}

// AddUser registers resource owner credentials for the password grant.
func (s *MockAuthorizationServer) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// FailNextTokenRequest makes the next token request answer with status and body.
func (s *MockAuthorizationServer) FailNextTokenRequest(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, scriptedFailure{status: status, body: body})
}

// ExpireAccessTokens invalidates every access token issued so far.
// Refresh tokens stay valid.
func (s *MockAuthorizationServer) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minSequence = s.sequence + 1
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *MockAuthorizationServer) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

// GrantCount returns how many successful tokens were issued for grantType.
func (s *MockAuthorizationServer) GrantCount(grantType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[grantType]
}

// RevocationCount returns how many revocation requests succeeded.
func (s *MockAuthorizationServer) RevocationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revocations
}

// VerifyAccessToken validates a token issued by this server and returns its subject.
func (s *MockAuthorizationServer) VerifyAccessToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(mockIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}

	seq, err := strconv.ParseInt(claims.ID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid token id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.minSequence {
		return "", errors.New("token expired")
	}
	if s.revoked[claims.ID] {
		return "", errors.New("token revoked")
	}

	return claims.Subject, nil
}

func (s *MockAuthorizationServer) handleToken(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(r)
	if err != nil {
		writeOAuth2Error(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failures) > 0 {
		failure := s.failures[0]
		s.failures = s.failures[1:]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(failure.status)
		_, _ = w.Write([]byte(failure.body))
		return
	}

	if !s.clientAuthenticated(r, params) {
		writeOAuth2Error(w, http.StatusUnauthorized, "invalid_client", "invalid client")
		return
	}

	grantType := params.Get("grant_type")
	var (
		subject      string
		withRefresh  bool
		errorMessage string
	)

	switch grantType {
	case "password":
		password, ok := s.users[params.Get("username")]
		if !ok || password != params.Get("password") {
			errorMessage = "invalid username or password"
			break
		}
		subject, withRefresh = params.Get("username"), true
	case "refresh_token":
		owner, ok := s.refreshTokens[params.Get("refresh_token")]
		if !ok {
			errorMessage = "refresh token is invalid, expired or revoked"
			break
		}
		delete(s.refreshTokens, params.Get("refresh_token"))
		subject, withRefresh = owner, true
	case "client_credentials":
		subject = s.ClientID
	default:
		writeOAuth2Error(w, http.StatusBadRequest, "unsupported_grant_type", "grant type not supported")
		return
	}

	if errorMessage != "" {
		writeOAuth2Error(w, http.StatusBadRequest, "invalid_grant", errorMessage)
		return
	}

	accessToken, err := s.issueAccessToken(subject)
	if err != nil {
		writeOAuth2Error(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	resp := map[string]any{
		"access_token": accessToken,
		"token_type":   "bearer",
		"expires_in":   int64(s.TokenTTL / time.Second),
	}
	if withRefresh {
		refreshToken := rand.Text()
		s.refreshTokens[refreshToken] = subject
		resp["refresh_token"] = refreshToken
	}
	s.grants[grantType]++

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *MockAuthorizationServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(r)
	if err != nil {
		writeOAuth2Error(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.clientAuthenticated(r, params) {
		writeOAuth2Error(w, http.StatusUnauthorized, "invalid_client", "invalid client")
		return
	}

	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeOAuth2Error(w, http.StatusBadRequest, "invalid_request", "missing token")
		return
	}

	claims := &jwt.RegisteredClaims{}
	// RFC 7009: unknown tokens are not an error
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return s.key, nil }); err == nil {
		s.revoked[claims.ID] = true
	}
	s.revocations++

	w.WriteHeader(http.StatusOK)
}

// issueAccessToken must be called with s.mu held.
func (s *MockAuthorizationServer) issueAccessToken(subject string) (string, error) {
	s.sequence++
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Issuer:    mockIssuer,
		Subject:   subject,
		ID:        strconv.FormatInt(s.sequence, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.TokenTTL)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *MockAuthorizationServer) clientAuthenticated(r *http.Request, params url.Values) bool {
	if id, secret, ok := r.BasicAuth(); ok {
		return id == s.ClientID && secret == s.ClientSecret
	}
	return params.Get("client_id") == s.ClientID && params.Get("client_secret") == s.ClientSecret
}

// readParams reads a JSON or form encoded body. An empty body yields no parameters.
func readParams(r *http.Request) (url.Values, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		params := make(url.Values, len(body))
		for key, value := range body {
			params.Set(key, value)
		}
		return params, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	return r.PostForm, nil
}

func writeOAuth2Error(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
