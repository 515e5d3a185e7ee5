package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pipectl",
	Short: "pipectl is a command line tool for interacting with the pipeplane control plane",
	Long: `pipectl is the command-line interface for the pipeplane pipeline orchestration platform.

pipeplane tracks versioned pipeline definitions per tenant and drives every run
through QUEUED, RUNNING, SUCCEEDED and FAILED. Workers claim queued runs under a
lease; failed runs can be retried, and every retry stays linked to its chain.

Common workflows:

  Register a pipeline and a version from a DAG file:
    pipectl pipeline create --name ingest
    pipectl version create --pipeline <pipeline-id> --version 1.0.0 --file dag.yaml

  Approve the version and start a run:
    pipectl version approve <version-id>
    pipectl run create <version-id> --params '{"window":"daily"}'

  Inspect and retry:
    pipectl run status <run-id>
    pipectl run retry <run-id>
    pipectl run lineage <run-id>

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    PIPEPLANE_URL       API endpoint (default: http://localhost:6161)
    PIPEPLANE_TOKEN     Tenant API key for authentication
    PIPEPLANE_SECRET    Internal secret, only needed for "tenant create"`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".pipectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".pipectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "PIPEPLANE_VARNAME"
	viper.SetEnvPrefix("PIPEPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pipectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "pipeplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Tenant API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().String("secret", "", "Internal secret for tenant administration")
	viper.BindPFlag("secret", rootCmd.PersistentFlags().Lookup("secret"))
}

// newClient returns a client authenticated with the tenant API key,
// or prints a hint and returns nil when no key is configured.
func newClient(cmd *cobra.Command) *Client {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the PIPEPLANE_TOKEN environment variable")
		return nil
	}
	return NewClient(viper.GetString("url"), token)
}

// printError reports a failed call the same way for every command.
func printError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}
