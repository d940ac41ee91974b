// Package tokenstore persists a session across happa invocations.
//
// Each provider and installation pair has one record under the storage
// directory, named by KeyFor from a hash of the issuer or endpoint, written
// atomically (temporary file then rename) with owner-only permissions.
// Loading never fails: a missing, unreadable or corrupt record reads as "no
// session", and the corruption is logged as a storage error. A file watcher
// lets a long-running process notice when another process logs in, renews
// or logs out.
//
// SECURITY: token values are never logged. Audit records carry only the
// provider name, expiry and whether a refresh token is present.
package tokenstore
