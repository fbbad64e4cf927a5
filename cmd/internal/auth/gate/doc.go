// Package gate resolves the caller of each HTTP request.
//
// Resolvers run in order. A session-cookie resolver attaches the device
// session; a bearer resolver verifies the access credential and loads the
// user. Failures never surface as errors: the request continues anonymously
// and the Result asks the middleware to clear stale cookies.
package gate
