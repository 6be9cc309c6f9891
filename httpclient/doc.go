// Package httpclient provides an authenticated JSON API client with one-shot token refresh.
//
// A Client resolves request paths against a base URL, encodes query parameters and bodies,
// attaches "Authorization: Bearer <token>" through BearerTransport and turns failures into typed
// errors. When a response is 401, the current token has a refresh token and a TokenAuthority is
// configured, the client refreshes the token, reports it through the update callback and sends
// the request again exactly once.
//
// The access token is owned by the caller: the client reads it through a getter on every attempt
// and reports changes through a callback, or both through an oauth2client.TokenStore.
//
// # Features
//
//   - Fluent Builder with TLS 1.2+ by default, custom CA/mTLS and optional InsecureSkipVerify
//   - Custom timeouts, base transport override and redirect disabling
//   - JSON or multipart/form-data bodies; "key[]" and "key[sub]" query encoding
//   - Per-request timeouts, optional outbound rate limiting (golang.org/x/time/rate)
//   - Typed errors: apierror.ErrNetwork, *apierror.FailedResponseError, ErrMissingAuthAuthority;
//     refresh errors from the authority are returned unchanged
//   - Optional logging (WithLogger) and Prometheus metrics (WithMetrics)
//
// # Quick Start
//
//	authority := oauth2client.NewAuthority("https://auth.example.com", "client-id", "client-secret")
//	store := oauth2client.NewMemoryTokenStore(nil)
//
//	client, err := httpclient.NewBuilder().
//	    WithBaseURL("https://api.example.com").
//	    WithAuthority(authority).
//	    WithTokenStore(store).
//	    WithTimeout(60 * time.Second).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := client.Authenticate(ctx, oauth2client.Credentials{"username": "jane", "password": "secret"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := client.Get(ctx, "/profile", nil)
//
// # Manual Transport Wrapping
//
//	transport := httpclient.NewBearerTransport(store.AccessToken, nil)
//	client := &http.Client{Transport: transport}
//
// Client is safe for concurrent use if the token getter and callback are. Concurrent requests
// that all receive a 401 each refresh on their own.
package httpclient
