package cmd

import (
	"context"
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/internal/server"
)

// runStdioServer runs the gateway with STDIO transport. A stdio process
// serves exactly one client: the root surface as seen by the anonymous
// audience, or the local identity configured on the engine.
func runStdioServer(ctx context.Context, sc *server.ServerContext) error {
	mcpSrv, err := sc.Engine().StdioServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to build stdio server: %w", err)
	}

	// Start the server in a goroutine so we can handle shutdown signals
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	// Wait for either shutdown signal or stdin closing
	select {
	case <-ctx.Done():
		// Don't print to stdout in stdio mode as it interferes with MCP communication
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}
}
