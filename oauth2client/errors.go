package oauth2client

import (
	"errors"
	"fmt"
)

// OAuth2 error codes per RFC 6749.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeInvalidScope         = "invalid_scope"
)

var (
	// ErrNoRefreshToken is returned when refreshing a token that has no refresh token.
	ErrNoRefreshToken = errors.New("oauth2client: cannot refresh an access token that has no associated refresh token")

	// ErrUnexpectedTokenResponse is returned when a successful token response does not have
	// the expected shape.
	ErrUnexpectedTokenResponse = errors.New("oauth2client: received unexpected access token response from authorization server")

	// ErrNoAccessToken is returned by TokenSource when the store holds no token.
	ErrNoAccessToken = errors.New("oauth2client: no access token available")
)

// InvalidTokenRequestError is a 400 or 401 answer from the token endpoint.
type InvalidTokenRequestError struct {
	Code        string
	HTTPStatus  int
	Description string
}

func (e *InvalidTokenRequestError) Error() string {
	return fmt.Sprintf(
		"oauth2client: invalid token request, error code: %s, HTTP status code: %d, description: %s",
		orNone(e.Code), e.HTTPStatus, orNone(e.Description),
	)
}

// InvalidCredentialsError is an invalid_grant answer to a request made with end-user
// credentials rather than a refresh token. Apps use it to send the user back to a login screen.
//
// It unwraps to its InvalidTokenRequestError, so errors.As matches both types.
type InvalidCredentialsError struct {
	InvalidTokenRequestError
}

func (e *InvalidCredentialsError) Error() string {
	return "oauth2client: invalid credentials: " + e.InvalidTokenRequestError.Error()
}

func (e *InvalidCredentialsError) Unwrap() error {
	return &e.InvalidTokenRequestError
}

// UnexpectedFailedResponseError is any other non-2xx answer from the authorization server.
type UnexpectedFailedResponseError struct {
	StatusCode int
	Body       []byte
}

func (e *UnexpectedFailedResponseError) Error() string {
	return fmt.Sprintf(
		"oauth2client: received unexpected failed response for token request, status: %d, data: %s",
		e.StatusCode, orNone(string(e.Body)),
	)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
