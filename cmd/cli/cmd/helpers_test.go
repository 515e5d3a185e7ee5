package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("PIPEPLANE")
	viper.AutomaticEnv()
}

// resetFlags restores every flag of the command tree, since cobra commands
// are package globals and keep flag values between executions.
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs pipectl against url with a tenant token and returns its output.
func execute(t *testing.T, url string, args ...string) string {
	t.Helper()
	resetViper()
	resetFlags(rootCmd)

	viper.Set("url", url)
	viper.Set("token", "test-token")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out.String()
}
