// Package session issues and verifies the credentials presented in the websocket auth frame.
//
// A session binds a DID (and its current handle) to an opaque random token. The token is
// stored hashed (see cmd/security/token) in memory or Redis with a fixed lifetime. When a
// PASETO v4 key is configured the service also mints short-lived v4.public access tokens
// carrying did/handle/sid claims; verification still requires the backing session to exist,
// so revocation takes effect immediately.
package session
