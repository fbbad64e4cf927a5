// Package protocol implements login, refresh and logout on top of the
// identity, session and credential packages.
//
// Every operation either completes or leaves stored state as it was.
package protocol
