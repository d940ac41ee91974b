package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitForCLI_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("Test", "hidden %d", 1)
	Info("Test", "shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message should be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown 2") || !strings.Contains(out, "subsystem=Test") {
		t.Errorf("expected info message with subsystem, got %q", out)
	}
}

func TestError_IncludesError(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, FormatJSON, &buf)

	Error("TokenStore", errors.New("disk full"), "Failed to save")

	out := buf.String()
	if !strings.Contains(out, `"error":"disk full"`) {
		t.Errorf("expected JSON error attribute, got %q", out)
	}
	if !strings.Contains(out, `"subsystem":"TokenStore"`) {
		t.Errorf("expected JSON subsystem attribute, got %q", out)
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, FormatText, &buf)

	Audit("token_stored", "provider", "mapi")

	out := buf.String()
	if !strings.Contains(out, "SECURITY_AUDIT") || !strings.Contains(out, "event=token_stored") {
		t.Errorf("unexpected audit output %q", out)
	}
}
