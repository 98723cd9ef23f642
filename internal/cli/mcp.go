package cli

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragd/internal/alerts"
	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/knowledge"
	"github.com/nickcecere/ragd/internal/mcp"
)

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdin/stdout.

The server speaks JSON-RPC 2.0 and provides tools for:
  - ask: answer a question from the indexed documents
  - knowledge: list static knowledge base entries
  - alerts: list current alerts (only when alerts.url is set)

This command is typically launched by an agent, not run directly.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	log.SetOutput(os.Stderr)

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var alertsSrc mcp.AlertsSource
	if cfg.Alerts.URL != "" {
		alertsSrc = alerts.NewClientFromConfig(cfg)
	}

	server := mcp.NewServer(a.rag, knowledge.NewLoader(cfg.Knowledge.Path), alertsSrc, version)
	log.Info("MCP server ready", "collection", cfg.Database.Collection)
	return server.Run(ctx)
}
