// Package token generates opaque session credentials and hashes them for storage.
//
// Stores only ever see the hash. With a key configured (IMSG_TOKEN_HMAC_KEY) the hash is
// HMAC-SHA256; without one it falls back to plain SHA-256 for local development.
// Output is always 64 hex characters.
package token
