package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string

	// stdout is swapped by tests.
	stdout io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "compatctl",
	Short: "CLI for the compatibility engine server",
	Long: `compatctl queries a running compat-server.

It resolves the parts compatible with a vehicle variant in a gamme, runs
conformity audits of the V4 keyword coverage, and lists the vehicle variants
behind any drift.`,
	SilenceUsage: true,
}

func init() {
	defaultServer := "http://localhost:8080"
	if env := os.Getenv("COMPAT_SERVER"); env != "" {
		defaultServer = env
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "Compat server URL (env COMPAT_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(conformityCmd)
	rootCmd.AddCommand(piecesCmd)
}
