// Package config loads happa's configuration.
//
// Configuration lives in a single directory, ~/.config/happa by default or
// the directory given with --config-path, as config.yaml. A missing file
// yields the defaults; a present file is overlaid on the defaults and then
// validated. Durations are written as Go duration strings ("60s", "2m").
//
// Example:
//
//	provider: mapi
//	renewalSkew: 60s
//	mapi:
//	  issuer: https://dex.g8s.example.io
//	  clientID: happa
//	  apiEndpoint: https://api.g8s.example.io
//	legacy:
//	  endpoint: https://api.example.io
package config
