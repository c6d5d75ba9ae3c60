// Package main provides the entry point for the dhpolar CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/dhpolar/cmd/dhpolar/commands"
	"github.com/Sumatoshi-tech/dhpolar/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dhpolar",
		Short: "dhpolar - doubly hybrid response properties",
		Long: `dhpolar computes static polarizabilities for doubly hybrid density
functionals with an out-of-core tensor pipeline.

Commands:
  run          Run the response pipeline for one reference system
  store        Inspect and compare tensor store containers
  functionals  List the registered doubly hybrid functionals`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewStoreCommand())
	rootCmd.AddCommand(commands.NewFunctionalsCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(os.Stdout, version.String())
		},
	}
}
