// Package main is the entry point for pipectl.
// pipectl is the terminal tool for interacting with the pipeplane API.
package main

import (
	"os"

	"pipeplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
