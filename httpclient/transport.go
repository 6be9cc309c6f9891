package httpclient

import (
	"net/http"

	"github.com/AmmannChristian/go-apiclient/oauth2client"
)

// AccessTokenGetter returns the caller's current access token, or nil when there is none.
type AccessTokenGetter func() *oauth2client.AccessToken

// AccessTokenUpdateCallback is invoked with the new token after a successful authentication or
// refresh, and with nil after a revocation.
type AccessTokenUpdateCallback func(*oauth2client.AccessToken)

// BearerTransport is an http.RoundTripper that adds "Authorization: Bearer <token>" to outgoing
// requests.
//
// The token is read from Getter on every round trip, so a token replaced between two requests is
// picked up without rebuilding the client. When Getter is nil or returns no token, any
// Authorization header on the request is removed and the request is sent unauthenticated.
type BearerTransport struct {
	// Base is the underlying HTTP transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Getter provides the current access token.
	Getter AccessTokenGetter
}

// NewBearerTransport creates a BearerTransport reading tokens from getter.
// The base transport defaults to http.DefaultTransport if not specified.
func NewBearerTransport(getter AccessTokenGetter, base http.RoundTripper) *BearerTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &BearerTransport{
		Base:   base,
		Getter: getter,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	reqClone := req.Clone(req.Context())
	reqClone.Header.Del("Authorization")

	var token *oauth2client.AccessToken
	if t.Getter != nil {
		token = t.Getter()
	}
	if token != nil && token.Token != "" {
		reqClone.Header.Set("Authorization", "Bearer "+token.Token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(reqClone)
}
