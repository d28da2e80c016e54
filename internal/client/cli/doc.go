// Package cli provides the interactive idkeeper command-line client.
//
// It wires configuration, the local session store and the gRPC client into
// a REPL. A saved session is resumed on start; a background watcher pings
// the server and shows whether it is reachable.
//
// Commands cover account management (register, login, passwd, mfa),
// consent, data export and account deletion jobs, the privacy dashboard,
// and the admin-only unlock and sweep.
package cli
