// Prober MCP server.
// Exposes read-only prober tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	mcptools "github.com/gateway-fm/txprober/internal/mcp"
)

func main() {
	proberURL := os.Getenv("PROBER_URL")
	if proberURL == "" {
		proberURL = "http://localhost:3001"
	}

	s := server.NewMCPServer(
		"txprober",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(proberURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
