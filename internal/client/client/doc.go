// Package client contains the CLI's connection to the idkeeper server and
// its local session store.
//
// GRPCClient calls the Identity service with the JSON codec, attaches the
// access token to every request and, when the server answers
// Unauthenticated, refreshes the token once and retries. gRPC status codes
// are mapped to ErrUnauthorized, ErrForbidden, ErrRateLimited and
// ErrUnavailable so callers can match them with errors.Is.
//
// InitDatabase opens the SQLite session database and applies the embedded
// goose migrations.
package client
