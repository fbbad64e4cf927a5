// Package identity owns Gatehouse users and their one-to-one settings row.
//
// A user is reachable by email, by phone number, or both. Login identifiers are
// classified by ClassifyIdentifier. Users and settings are always created
// together in one transaction, so every persisted user has exactly one
// settings row.
package identity
