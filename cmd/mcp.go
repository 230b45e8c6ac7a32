package cmd

import (
	"github.com/spf13/cobra"

	"tsdiag/internal/mcp"
	"tsdiag/internal/zones"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client query stored diagnostic sessions, reports, heatmaps,
and the hardware zone catalog. Configure with:

  {
    "mcpServers": {
      "tsdiag": { "command": "tsdiag", "args": ["mcp"] }
    }
  }

Available tools: tsdiag_list_sessions, tsdiag_get_session,
tsdiag_session_report, tsdiag_heatmap, tsdiag_list_zones, tsdiag_zone_info,
tsdiag_delete_session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		catalog, err := zones.Load()
		if err != nil {
			return err
		}
		return mcp.NewServer(s, catalog).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
