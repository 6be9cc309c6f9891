// Package grpcclient provides a fluent builder for secure gRPC client connections that carry the
// caller's bearer token and refresh it once on codes.Unauthenticated.
//
// It defaults to TLS 1.2+ using system roots to avoid accidental plaintext connections. Optional
// methods let you attach a token store and authority, custom CA or mTLS credentials, and extra
// dial options.
//
// # Features
//
//   - Fluent builder for gRPC clients
//   - "authorization: Bearer <token>" metadata from an oauth2client.TokenStore
//   - One refresh-and-retry for unary calls through an oauth2client.Authority
//   - Secure-by-default TLS; optional custom CA and mTLS
//   - Additional dial options via WithDialOptions
//
// # Quick Start
//
//	authority := oauth2client.NewAuthority("https://auth.example.com", "client-id", "client-secret")
//	store := oauth2client.NewMemoryTokenStore(token)
//
//	conn, err := grpcclient.NewBuilder().
//	    WithAddress("server.example.com:9090").
//	    WithTokenStore(store).
//	    WithAuthority(authority).
//	    WithTLS("/path/to/ca.crt", "", "", "server.example.com").
//	    Build(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	client := pb.NewYourServiceClient(conn)
//
// # TLS Behavior
//
// TLS is enabled by default with system CAs and TLS 1.2 minimum. WithTLS allows supplying a custom
// root CA and optional client cert/key for mTLS; both cert and key must be provided together.
// Transport credentials passed through WithDialOptions take precedence.
//
// Streaming calls carry the token but are never retried.
package grpcclient
