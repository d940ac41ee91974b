package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"happa/internal/session"
)

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Minute {
		return "< 1 minute"
	}
	if d < time.Hour {
		return plural(int(d.Minutes()), "minute")
	}
	if d < 24*time.Hour {
		return plural(int(d.Hours()), "hour")
	}
	return plural(int(d.Hours()/24), "day")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatExpiry formats t relative to now as "in X" or "expired X ago".
// A zero t means the token carries no expiry.
func FormatExpiry(now, t time.Time) string {
	if t.IsZero() {
		return text.FgHiBlack.Sprint("never")
	}
	remaining := t.Sub(now)
	if remaining > 0 {
		return "in " + FormatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", FormatDuration(-remaining))
}

// StateLabel renders a session state with its status color.
func StateLabel(s session.State) string {
	switch s {
	case session.LoggedIn:
		return text.FgGreen.Sprint("Logged in")
	case session.Renewing:
		return text.FgCyan.Sprint("Renewing")
	case session.Authenticating:
		return text.FgCyan.Sprint("Authenticating")
	case session.Expired:
		return text.FgRed.Sprint("Expired")
	default:
		return text.FgYellow.Sprint("Not logged in")
	}
}

// MaxMessageLen bounds error messages shown in tables and watch output.
const MaxMessageLen = 96

// Truncate collapses whitespace in s to single spaces and cuts it to at
// most n runes, ending in "..." when cut.
func Truncate(s string, n int) string {
	n = max(n, 4)
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// Check renders the success mark used in command output.
func Check() string {
	return text.FgGreen.Sprint("✓")
}

// RenderSnapshot writes a key/value table describing snap.
func RenderSnapshot(w io.Writer, now time.Time, snap session.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.FgHiCyan.Sprint("KEY"), text.FgHiCyan.Sprint("VALUE")})

	t.AppendRow(table.Row{"Provider", snap.Provider})
	t.AppendRow(table.Row{"Status", StateLabel(snap.State)})
	if snap.User != nil {
		t.AppendRow(table.Row{"User", snap.User.Email})
		if len(snap.User.Groups) > 0 {
			t.AppendRow(table.Row{"Groups", strings.Join(snap.User.Groups, ", ")})
		}
		admin := text.FgHiBlack.Sprint("no")
		if snap.User.IsAdmin {
			admin = text.FgGreen.Sprint("yes")
		}
		t.AppendRow(table.Row{"Admin", admin})
		t.AppendRow(table.Row{"Scheme", string(snap.User.Scheme)})
	}
	if snap.State.Authenticated() {
		t.AppendRow(table.Row{"Expires", FormatExpiry(now, snap.ExpiresAt)})
		if !snap.NextRenewal.IsZero() {
			t.AppendRow(table.Row{"Renews", FormatExpiry(now, snap.NextRenewal)})
		}
	}
	if snap.LastError != nil {
		t.AppendRow(table.Row{"Last error", text.FgRed.Sprint(Truncate(UserMessage(snap.LastError), MaxMessageLen))})
	}

	t.Render()
}
