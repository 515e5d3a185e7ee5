package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestRootCommand_DefaultURL(t *testing.T) {
	resetViper()

	cmd := &cobra.Command{}
	cmd.PersistentFlags().String("url", "http://localhost:6161", "pipeplane controller URL")
	viper.BindPFlag("url", cmd.PersistentFlags().Lookup("url"))

	url := viper.GetString("url")
	if url != "http://localhost:6161" {
		t.Errorf("expected default url http://localhost:6161, got: %s", url)
	}
}

func TestRootCommand_EnvVarBinding(t *testing.T) {
	resetViper()

	t.Setenv("PIPEPLANE_TOKEN", "env-token-value")
	t.Setenv("PIPEPLANE_URL", "http://custom-url:8080")
	t.Setenv("PIPEPLANE_SECRET", "env-secret")

	if token := viper.GetString("token"); token != "env-token-value" {
		t.Errorf("expected token from env var, got: %s", token)
	}
	if url := viper.GetString("url"); url != "http://custom-url:8080" {
		t.Errorf("expected url from env var, got: %s", url)
	}
	if secret := viper.GetString("secret"); secret != "env-secret" {
		t.Errorf("expected secret from env var, got: %s", secret)
	}
}

func TestRootCommand_ExecuteReturnsNoError(t *testing.T) {
	resetViper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--help"})

	if err := rootCmd.Execute(); err != nil {
		t.Errorf("root command should execute without error: %v", err)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := map[string][]string{
		"tenant":   {"create"},
		"pipeline": {"create", "list"},
		"version":  {"create", "list", "get", "approve", "deprecate"},
		"run":      {"create", "list", "status", "retry", "lineage", "events"},
	}

	for group, subs := range want {
		parent, _, err := rootCmd.Find([]string{group})
		if err != nil || parent.Name() != group {
			t.Errorf("expected %q to be registered with root command", group)
			continue
		}
		for _, sub := range subs {
			c, _, err := rootCmd.Find([]string{group, sub})
			if err != nil || c.Name() != sub {
				t.Errorf("expected %q %q to be registered", group, sub)
			}
		}
	}
}

func TestExecute_ReturnsError(t *testing.T) {
	resetViper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"unknown-command-xyz"})

	if err := Execute(); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRootCommand_CustomConfigFile(t *testing.T) {
	resetViper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "pipectl-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.WriteString("url: http://custom-from-config:9999\ntoken: config-token\n")
	tmpFile.Close()

	cfgFile = tmpFile.Name()
	defer func() { cfgFile = "" }()
	initConfig()

	if url := viper.GetString("url"); url != "http://custom-from-config:9999" {
		t.Errorf("expected url from config file, got: %s", url)
	}
	if token := viper.GetString("token"); token != "config-token" {
		t.Errorf("expected token from config file, got: %s", token)
	}
}

func TestCommands_RequireToken(t *testing.T) {
	for _, args := range [][]string{
		{"pipeline", "list"},
		{"version", "get", "v-1"},
		{"run", "status", "run-1"},
	} {
		resetViper()
		resetFlags(rootCmd)
		viper.Set("url", "http://127.0.0.1:1")

		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(args)

		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("%v: unexpected error: %v", args, err)
		}
		if !bytes.Contains(out.Bytes(), []byte("API token not found")) {
			t.Errorf("%v: expected token hint, got: %s", args, out.String())
		}
	}
}
