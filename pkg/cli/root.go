// Package cli provides the resubd CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "resubd",
	Short: "resubd is a resuming GraphQL subscription proxy",
	Long: `resubd sits between WebSocket GraphQL clients and an upstream GraphQL
server. It relays subscription traffic in both directions and tracks each
configured subscription's cursor, so that when the upstream connection drops
and comes back, every subscription resumes from the last value it delivered
instead of replaying from the beginning.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
