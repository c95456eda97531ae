package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/datalab/adapter"
	"github.com/caffeineduck/datalab/internal/metrics"
	"github.com/caffeineduck/datalab/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket API",
	Long: `Start an HTTP server exposing engine sessions.

Endpoints:
  POST   /api/sessions                 Create session {"lang":"python"}, boots in background
  GET    /api/sessions/{id}            Session state
  DELETE /api/sessions/{id}            Close session
  POST   /api/sessions/{id}/run        Run {"code":"..."}; empty code runs the editor buffer
  PUT    /api/sessions/{id}/editor     Replace the editor buffer {"code":"..."}
  POST   /api/sessions/{id}/datasets   Load a dataset {"name":"iris"}
  POST   /api/sessions/{id}/clear      Remove user variables
  POST   /api/sessions/{id}/retry      Restart a failed engine
  GET    /api/sessions/{id}/ws         Event stream (WebSocket)
  GET    /health                       Health check
  GET    /metrics                      Prometheus metrics

A busy session answers 409. Idle sessions expire after server.session_ttl.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	a, err := newApp(ctx, m)
	if err != nil {
		return err
	}
	defer a.Close()

	factory := func(lang string) (*adapter.Adapter, error) {
		return a.NewAdapter(lang)
	}
	srv := server.New(factory, cfg.Server.SessionTTL,
		server.WithLogger(logger),
		server.WithMetrics(m),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Port) }()

	select {
	case err := <-errCh:
		srv.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}
	return srv.Shutdown(context.Background())
}
