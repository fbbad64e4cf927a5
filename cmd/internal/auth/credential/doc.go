// Package credential mints and verifies the signed access/refresh pair.
//
// Both tokens carry the same claim set: a snapshot of the user's profile,
// preferences and tenant memberships at issuance time, plus a type marker
// so a refresh token is never accepted where an access token is expected.
// Issuance is pure. Nothing here touches storage.
//
// Two signers are available. PASETO v4.public (Ed25519) is the default.
// HS256 JWT exists for deployments whose downstream services only speak JWT.
package credential
