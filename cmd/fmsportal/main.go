package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fmsportal",
	Short: "FMS key review portal",
	Long: `fmsportal serves the FMS key review portal: a web API for tracking
feature configuration differences between firmware branches.

Projects declare comparison groups (branches plus model combinations);
the portal runs a Perforce diff extraction script on a schedule,
reconciles its output against stored key reviews, and exposes the
results for review over HTTP and WebSocket.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./fmsportal.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
