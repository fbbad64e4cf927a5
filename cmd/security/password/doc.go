// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes are stored as PHC strings:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>
//
// Stored hashes are treated as untrusted input on Verify. A hash whose cost
// parameters are far above the configured ones is rejected instead of
// being computed.
package password
