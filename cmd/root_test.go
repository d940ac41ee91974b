package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if GetVersion() != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "happa" {
		t.Errorf("Expected Use to be 'happa', got %s", rootCmd.Use)
	}

	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}

	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}

	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "happa version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	expected := "happa version 1.0.0\n"
	if buf.String() != expected {
		t.Errorf("Expected version output %q, got %q", expected, buf.String())
	}
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, expected := range []string{"version", "auth"} {
		if !found[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}

	found = make(map[string]bool)
	for _, cmd := range authCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, expected := range []string{"login", "logout", "status", "refresh", "whoami", "watch", "impersonate"} {
		if !found[expected] {
			t.Errorf("Expected auth subcommand %s to be registered", expected)
		}
	}
}

func TestInitLogging_RejectsUnknownValues(t *testing.T) {
	defer resetFlags()

	logLevel, logFormat = "verbose", "text"
	if err := initLogging(rootCmd, nil); err == nil || !strings.Contains(err.Error(), "verbose") {
		t.Errorf("expected unknown level error, got %v", err)
	}

	logLevel, logFormat = "debug", "xml"
	if err := initLogging(rootCmd, nil); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Errorf("expected unknown format error, got %v", err)
	}

	logLevel, logFormat = "debug", "json"
	if err := initLogging(rootCmd, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
