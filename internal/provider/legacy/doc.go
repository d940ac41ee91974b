// Package legacy implements the platform API identity provider: an email and
// password exchanged for an opaque auth token presented with the giantswarm
// scheme. Tokens cannot be renewed; when one expires or is rejected the user
// logs in again.
package legacy
