// Package token hashes refresh credentials for server-side storage.
//
// Only the hash of a refresh credential is persisted (session rows, the
// revocation list). With a key configured the hash is HMAC-SHA256, which
// keeps a leaked database from being usable to confirm guessed tokens.
// Without a key it degrades to plain SHA-256 for local development.
// Output is always 64 lowercase hex characters.
package token
