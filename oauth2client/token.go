package oauth2client

import (
	"golang.org/x/oauth2"
)

// Grant types understood by RequestToken.
const (
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeAuthorizationCode = "authorization_code"
)

// Credentials are forwarded verbatim to the token endpoint next to grant_type.
// Their shape depends on the grant (username/password, refresh_token, code, ...).
type Credentials map[string]string

// AccessToken is an issued access token. Values are never mutated; a refresh produces a new one.
// Optional fields the server did not return are nil.
type AccessToken struct {
	Token        string  `json:"token"`
	Type         string  `json:"type"`
	ExpiresIn    *int64  `json:"expires_in"`
	RefreshToken *string `json:"refresh_token"`
}

// NewBearerToken builds a bearer AccessToken, for example from persisted values.
// An empty refreshToken leaves RefreshToken nil.
func NewBearerToken(token, refreshToken string) *AccessToken {
	t := &AccessToken{Token: token, Type: "bearer"}
	if refreshToken != "" {
		t.RefreshToken = &refreshToken
	}
	return t
}

// HasRefreshToken reports whether the token can be refreshed.
func (t *AccessToken) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != nil && *t.RefreshToken != ""
}

// OAuth2 converts the token for use with golang.org/x/oauth2.
// Expiry is left zero: the issue time is unknown, so only ExpiresIn is carried over.
func (t *AccessToken) OAuth2() *oauth2.Token {
	if t == nil {
		return nil
	}

	tok := &oauth2.Token{
		AccessToken: t.Token,
		TokenType:   t.Type,
	}
	if t.RefreshToken != nil {
		tok.RefreshToken = *t.RefreshToken
	}
	if t.ExpiresIn != nil {
		tok.ExpiresIn = *t.ExpiresIn
	}
	return tok
}

// FromOAuth2 converts a golang.org/x/oauth2 token. Zero ExpiresIn and empty RefreshToken map to nil.
func FromOAuth2(tok *oauth2.Token) *AccessToken {
	if tok == nil {
		return nil
	}

	t := &AccessToken{
		Token: tok.AccessToken,
		Type:  tok.Type(),
	}
	if tok.ExpiresIn != 0 {
		expiresIn := tok.ExpiresIn
		t.ExpiresIn = &expiresIn
	}
	if tok.RefreshToken != "" {
		refreshToken := tok.RefreshToken
		t.RefreshToken = &refreshToken
	}
	return t
}
