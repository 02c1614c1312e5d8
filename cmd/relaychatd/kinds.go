package main

import (
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/danmuck/relaychat/internal/protocol"
)

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the packet kinds the server understands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			writeKinds(cmd.OutOrStdout(), protocol.NewCodec().Kinds())
			return nil
		},
	}
}

func writeKinds(w io.Writer, kinds []protocol.KindInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Kind", "Fields", "Description"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, k := range kinds {
		table.Append([]string{k.Name, strings.Join(k.Fields, ", "), k.Description})
	}
	table.Render()
}
