// Package google builds the OAuth2 configuration and HTTP clients used to talk to
// Google APIs on behalf of a session.
//
// Clients created here never refresh tokens themselves: the credential handed in
// has already been resolved (and refreshed if needed) by the session registry.
package google
