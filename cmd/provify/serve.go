package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/A-ryanVAT-S/Provify/internal/api"
	"github.com/A-ryanVAT-S/Provify/internal/logging"
	mcpserver "github.com/A-ryanVAT-S/Provify/internal/mcp"
	"github.com/A-ryanVAT-S/Provify/internal/repl"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. Devices are discovered once at startup; use
GET /devices?refresh=true to look again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New("serve")

			n := a.svc.Devices.Refresh(ctx)
			log.Info("devices discovered", "count", n)

			srv := api.NewServer(a.svc).NewHTTPServer(a.cfg.Server.Addr)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("HTTP server listening", "addr", srv.Addr, "version", version)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				log.Info("shutting down HTTP server")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default from server.addr, :8000)")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout so an assistant can
list, report, verify and close bugs. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.New("mcp").Info("starting provify MCP server over stdio")
			return mcpserver.NewServer(a.svc).Run(cmd.Context())
		},
	}
}

func newREPLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := repl.New(&repl.Config{
				Service: a.svc,
				Stdout:  cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			return r.Run(cmd.Context())
		},
	}
}
