// Package testutil provides internal test helpers for go-apiclient packages.
//
// # Utilities
//
//   - NewLocalHTTPServer: start an httptest server bound to 127.0.0.1, closed via tb.Cleanup
//   - WriteTestCACert / WriteTestCertAndKey: generate temporary CA and leaf certificates for TLS/mTLS tests
//
// Mock authorization and resource servers live in the public testutil package.
package testutil
