package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/intellia-labs/nexus/engine/mcp"
	"github.com/intellia-labs/nexus/engine/runtime"
)

var mcpPort int

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the nexus tools over the Model Context Protocol",
	Long: `Starts an MCP server exposing two tools:
  ask_supply_chain  answer a question with the full pipeline
  kpis              headline shipment, stock and return numbers

By default the server speaks JSON-RPC over stdio. Use --port to serve the
streamable HTTP transport instead.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "HTTP port (0 = use stdio)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withRuntime(ctx, runtime.Options{}, func(rt *runtime.Runtime) error {
		ports := &mcp.Ports{Query: rt.RAG}
		if rt.GraphReady {
			ports.KPIs = rt.Graph
		}
		server, err := mcp.NewServer(ports)
		if err != nil {
			return err
		}

		if mcpPort > 0 {
			addr := fmt.Sprintf(":%d", mcpPort)
			logger.Info("mcp server listening", "addr", addr)
			return server.RunHTTP(ctx, addr)
		}
		return server.Run(ctx)
	})
}
