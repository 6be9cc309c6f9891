// Package oauth2client provides an OAuth2 token authority and the token types shared by the
// HTTP and gRPC clients.
//
// Authority issues, refreshes and revokes access tokens against a remote authorization server and
// classifies failures into typed errors. It holds no token state: the current token lives in a
// caller-owned TokenStore (or a getter/callback pair) so several clients can share it.
//
// # Features
//
//   - Generic RequestToken plus password-grant and refresh helpers
//   - RFC 7009 style revocation with the token as query parameter
//   - HTTP basic or in-body client authentication (oauth2.AuthStyle)
//   - JSON or form-encoded token requests
//   - Typed errors: InvalidCredentialsError, InvalidTokenRequestError,
//     UnexpectedFailedResponseError, ErrUnexpectedTokenResponse, ErrNoRefreshToken
//   - Interop with golang.org/x/oauth2 via AccessToken.OAuth2, FromOAuth2 and TokenSource
//   - Optional logging (WithLogger, WithLoggingEnabled) and Prometheus metrics (WithMetrics)
//
// # Quick Start
//
//	authority := oauth2client.NewAuthority(
//	    "https://auth.example.com",
//	    "client-id",
//	    "client-secret",
//	    oauth2client.WithLoggingEnabled(),
//	)
//
//	token, err := authority.RequestAccessToken(ctx, oauth2client.Credentials{
//	    "username": "jane",
//	    "password": "secret",
//	})
//	var badLogin *oauth2client.InvalidCredentialsError
//	if errors.As(err, &badLogin) {
//	    // ask the user to log in again
//	}
//
//	store := oauth2client.NewMemoryTokenStore(token)
//
// # Notes
//
//   - A refresh never mutates a token; it returns a new one.
//   - invalid_grant maps to InvalidCredentialsError only for non-refresh grants.
//   - Authority is safe for concurrent use.
package oauth2client
