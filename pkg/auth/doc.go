// Package auth provides the authentication types shared between the
// identity provider clients, the token store and the session controller.
//
// A TokenSet is the unit of credential exchange: it is either absent or
// complete, and every field originates from the same token response (or a
// renewal of it). A User is the identity derived from a TokenSet.
package auth
