package oauth2client

import (
	"sync"

	"golang.org/x/oauth2"
)

// TokenStore is the caller-owned holder of the current access token.
// Clients only read it and report changes to it; SetAccessToken(nil) means the token was revoked.
type TokenStore interface {
	AccessToken() *AccessToken
	SetAccessToken(*AccessToken)
}

// MemoryTokenStore is an in-memory TokenStore that is safe for concurrent use.
// One store can back several HTTP and gRPC clients.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token *AccessToken
}

// NewMemoryTokenStore returns a store holding initial, which may be nil.
func NewMemoryTokenStore(initial *AccessToken) *MemoryTokenStore {
	return &MemoryTokenStore{token: initial}
}

// AccessToken returns the current token or nil.
func (s *MemoryTokenStore) AccessToken() *AccessToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetAccessToken replaces the current token.
func (s *MemoryTokenStore) SetAccessToken(token *AccessToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// TokenSource exposes the store's current token as an oauth2.TokenSource. It never refreshes on
// its own. Use it with an oauth2.Transport to see every store update; oauth2.NewClient wraps it in
// a ReuseTokenSource that keeps serving the first token, since store tokens carry no expiry.
func TokenSource(store TokenStore) oauth2.TokenSource {
	return storeTokenSource{store: store}
}

type storeTokenSource struct {
	store TokenStore
}

func (s storeTokenSource) Token() (*oauth2.Token, error) {
	token := s.store.AccessToken()
	if token == nil || token.Token == "" {
		return nil, ErrNoAccessToken
	}
	return token.OAuth2(), nil
}
