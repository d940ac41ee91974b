// Package provider defines the contract between the session controller and an
// identity provider, and the error taxonomy every provider reports in.
//
// Two implementations exist: package mapi (OpenID Connect against the
// Management API's Dex, authorization code with PKCE and refresh tokens) and
// package legacy (email and password against the platform API, giantswarm
// scheme). Providers never change session state; they return token sets and
// typed errors, and the controller decides what those mean.
package provider
