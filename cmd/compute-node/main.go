package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "compute-node",
	Short: "Decentralized compute node CLI",
	Long: `compute-node runs a gossip-connected compute node: it answers liveness
pings, accepts admin-signed task requests, executes them against a local or
remote model backend, and publishes signed, encrypted results back to the
network.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Commands are registered in their own files:
	// - run.go: runCmd
	// - keygen.go: keygenCmd
	// - address.go: addressCmd
	// - version.go: versionCmd
}
