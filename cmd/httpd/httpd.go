// Package httpd implements the HTTP trigger surface: an API server that
// starts ingestion runs on demand and reports their state.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cmdcommon "github.com/blogsearch/ingestor/cmd/common"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Command returns the httpd command for use in the root command.
func Command(depsFn func() (*cmdcommon.CommandDeps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "httpd",
		Short: "Start the HTTP trigger server",
		Long: `Start the HTTP server exposing the ingestion trigger and run state.
POST /api/v1/ingest starts a run; a request arriving while a run is
executing is answered with 409 Conflict.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := depsFn()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), deps)
		},
	}
}

func runServer(ctx context.Context, deps *cmdcommon.CommandDeps) error {
	stack, err := cmdcommon.NewStack(deps)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			deps.Logger.Error("Failed to close stack", "error", closeErr)
		}
	}()

	log := deps.Logger.WithComponent("httpd")

	if ensureErr := stack.Index.EnsureIndex(ctx); ensureErr != nil {
		// The index may come up later; /health reports it until then.
		log.Warn("Failed to ensure index at startup", "error", ensureErr.Error())
	}

	// Server lifetime context: triggered runs bind to this so a dropped
	// client connection never cancels a run mid-flight.
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	router := SetupRouter(serverCtx, stack, log)
	serverCfg := deps.Config.Server
	server := &http.Server{
		Addr:              serverCfg.Address,
		Handler:           router,
		ReadTimeout:       serverCfg.ReadTimeout,
		WriteTimeout:      serverCfg.WriteTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	log.Info("Starting HTTP server", "addr", serverCfg.Address)
	errChan := make(chan error, 1)
	go func() {
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case serverErr := <-errChan:
		log.Error("Server error", "error", serverErr)
		return fmt.Errorf("server error: %w", serverErr)
	case sig := <-sigChan:
		log.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Info("Stopping HTTP server")
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error("Failed to stop server", "error", shutdownErr)
		return fmt.Errorf("failed to stop server: %w", shutdownErr)
	}

	log.Info("Server stopped successfully")
	return nil
}
