// Package testutil provides test doubles for code built on go-apiclient.
//
// # Utilities
//
//   - MockAuthorizationServer: httptest OAuth2 server issuing HS256 JWT access tokens, with
//     password, refresh_token and client_credentials grants, revocation and scripted failures
//   - MockResourceServer: API that accepts only valid, unexpired, unrevoked bearer tokens
//   - RoundTripFunc, JSONResponse, StaticJSONResponse: inline http.RoundTripper stubs
//   - RecordingTransport: scripted RoundTripper that records each request and its body
//
// Servers bind to 127.0.0.1 and are closed via tb.Cleanup.
package testutil
