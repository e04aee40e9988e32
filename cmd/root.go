package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/relay/cmd/gen"
	"github.com/luma/relay/internal/meta"
)

var RootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay routes events and streams between TCP clients",
	Long: `Relay routes events and streams between TCP clients.

Clients connect over TCP (or websockets), join rooms and emit events
or binary streams to each other, to rooms, or to everyone.`,
	SilenceUsage: true,
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of relay",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), meta.GetInfo().String())
	},
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command, exiting with a non zero status on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
