// Package main is the CLI entry point for the Tracklane copilot service:
// the orchestration engine that answers project questions and performs
// confirmed actions through tool calls.
//
// Start the server:
//
//	copilot serve --config copilot.yaml
//
// Environment variables referenced in the config file (for example
// ${ANTHROPIC_API_KEY}) are expanded at load time.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "copilot",
		Short: "Tracklane project copilot service",
		Long: "The copilot service routes conversational requests to the right compute tier,\n" +
			"dispatches tool calls against the project data provider, and gates mutating\n" +
			"actions behind explicit confirmation.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "copilot %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
