package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-gateway/internal/server"
	"github.com/giantswarm/mcp-gateway/internal/translate"
)

// newTranslateCmd creates the Cobra command for the transport bridge.
func newTranslateCmd() *cobra.Command {
	var (
		stdioCommand    string
		sseURL          string
		listenAddr      string
		sseEndpoint     string
		messageEndpoint string
		httpEndpoint    string
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Bridge an MCP server between stdio and HTTP transports",
		Long: `Bridge MCP transports without involving the gateway catalog.

With --stdio, the given command is spawned as a stdio MCP server and
exposed over SSE and Streamable HTTP. Multiple clients share the child
process; request ids are rewritten so responses route back correctly.

With --sse-url, the remote SSE endpoint is exposed on local stdio, for
clients that only speak stdio.`,
		Example: `  mcp-gateway translate --stdio "npx some-mcp-server" --listen :8000
  mcp-gateway translate --sse-url https://mcp.example.com/sse`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (stdioCommand == "") == (sseURL == "") {
				return fmt.Errorf("exactly one of --stdio or --sse-url is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			if sseURL != "" {
				return translate.NewReverse(sseURL, logger).Run(ctx, os.Stdin, os.Stdout)
			}
			return runTranslateHTTP(ctx, logger, stdioCommand, listenAddr, translate.ServerConfig{
				SSEEndpoint:     sseEndpoint,
				MessageEndpoint: messageEndpoint,
				HTTPEndpoint:    httpEndpoint,
			})
		},
	}

	cmd.Flags().StringVar(&stdioCommand, "stdio", "", "Command line of the stdio MCP server to expose over HTTP")
	cmd.Flags().StringVar(&sseURL, "sse-url", "", "Remote SSE endpoint to expose on local stdio")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8000", "Listen address for the HTTP front")
	cmd.Flags().StringVar(&sseEndpoint, "sse-endpoint", translate.DefaultSSEEndpoint, "SSE stream path")
	cmd.Flags().StringVar(&messageEndpoint, "message-endpoint", translate.DefaultMessageEndpoint, "SSE message path")
	cmd.Flags().StringVar(&httpEndpoint, "http-endpoint", translate.DefaultHTTPEndpoint, "Streamable HTTP path")

	return cmd
}

// runTranslateHTTP spawns the child and serves the HTTP front until a
// shutdown signal arrives or the child exits.
func runTranslateHTTP(ctx context.Context, logger *slog.Logger, command, addr string, cfg translate.ServerConfig) error {
	bridge, child, err := translate.SpawnChild(ctx, command, translate.WithLogger(logger))
	if err != nil {
		return err
	}

	front := translate.NewServer(bridge, cfg, logger)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           front.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("translate bridge starting",
		"addr", addr,
		"child", command)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping translate bridge")
	case <-bridge.Done():
		logger.Info("child process exited, stopping translate bridge")
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", "error", err)
	}

	// SpawnChild's context cancellation kills the child; Wait reaps it.
	_ = child.Wait()
	return nil
}
