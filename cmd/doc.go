// Package cmd provides the command-line interface for mcp-gateway.
//
// This package implements a Cobra-based CLI with multiple subcommands:
//   - serve: Starts the gateway (default behavior when no subcommand is provided)
//   - translate: Bridges a stdio MCP server to HTTP transports and back
//   - version: Displays the application version
//   - self-update: Updates the binary to the latest version from GitHub releases
//
// The CLI maintains backwards compatibility by running the serve command when
// no subcommand is specified, preserving the original behavior of the application.
//
// Command Structure:
//
//	mcp-gateway [flags]                  # Starts the gateway (default)
//	mcp-gateway serve [flags]            # Explicitly starts the gateway
//	mcp-gateway translate [flags]        # Runs the transport bridge
//	mcp-gateway version                  # Shows version information
//	mcp-gateway self-update              # Updates to latest release
//	mcp-gateway help [command]           # Shows help information
//
// The serve command supports multiple transport options:
//   - stdio: Standard input/output (default) - for command-line integration
//   - http: HTTP server carrying Streamable HTTP, SSE, and the admin API
//   - sse, streamable-http: aliases for http
//
// Transport Configuration Examples:
//
//	mcp-gateway serve                                  # Default STDIO transport
//	mcp-gateway serve --transport http --http-addr :8080
//	mcp-gateway serve --transport http --metrics --metrics-addr :9090
//	mcp-gateway translate --stdio "npx weather-server" --listen :8000
//
// Runtime settings beyond the transport surface (database, cache, JWT,
// federation, rate limits, pagination) come from GATEWAY_* environment
// variables read by the config package.
package cmd
