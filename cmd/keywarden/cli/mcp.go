package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keywarden/keywarden/internal/mcp"
	"github.com/keywarden/keywarden/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server",
		Long: `Run a Model Context Protocol server exposing key inspection and
incident-response tools to AI assistants.

Transports:
  stdio  speak MCP over stdin/stdout (default, for local assistant configs)
  http   streamable HTTP endpoint at /mcp`,
		Example: `  keywarden mcp
  keywarden mcp --transport http --addr :8090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, addr)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "stdio", "Transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":8090", "Listen address for the http transport")

	return cmd
}

func runMCP(transport, addr string) error {
	logger := newLogger()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv := mcp.NewMCPServer(service.NewEngine(st, logger), st, logger)

	switch transport {
	case "stdio":
		return srv.ServeStdio()
	case "http":
		fmt.Printf("MCP server listening on %s/mcp\n", addr)
		return srv.ServeHTTP(addr)
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", transport)
	}
}
