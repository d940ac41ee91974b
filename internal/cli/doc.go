// Package cli holds the presentation helpers shared by happa's commands:
// user-facing error types with guidance on what to run next, the mapping of
// failure classes to a single message each, and status formatting.
package cli
