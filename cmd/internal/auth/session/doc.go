// Package session stores per-device login sessions.
//
// A session is keyed by (user, user agent, client IP). Logging in again from
// the same fingerprint overwrites the stored refresh hash and expiry instead
// of adding a row. Refresh extends the expiry in place with an optional
// compare-and-swap of the refresh hash. Expired rows are treated as absent
// and removed by the Sweeper.
//
// Only hashes of refresh credentials are stored, never the plaintext.
package session
