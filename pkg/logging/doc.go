// Package logging provides the structured logging used across happa.
//
// It is a thin layer over log/slog that tags every record with a subsystem
// name, so output from the session controller, the token store and the
// identity provider clients can be told apart:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Session", "Renewal scheduled at %s", at)
//	logging.Error("TokenStore", err, "Failed to persist token set")
//
// Security-relevant events are emitted through Audit as SECURITY_AUDIT
// records. Token values are never logged.
package logging
