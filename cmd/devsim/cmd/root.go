// Package cmd provides the command-line interface for devsim.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "devsim",
	Short: "Devsim CLI tool runs discrete-event simulation experiments " +
		"built with devsim.",
	Long: `Devsim CLI tool runs discrete-event simulation experiments ` +
		`built with devsim. It reads an experiment configuration, executes ` +
		`the replications, and can record results and expose a monitoring ` +
		`server.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
