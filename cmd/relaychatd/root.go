package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relaychatd",
		Short: "Single-room chat server over length-prefixed JSON frames",
		Long: `relaychatd accepts TCP (and optionally WebSocket) clients into one chat room.

The first Message a client sends becomes its username. Every later
Message is relayed to all joined members.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newKindsCmd())
	return root
}
