package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/server"
	"github.com/MeKo-Tech/labelscan/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for label scans",
	Long: `Start an HTTP server that runs scan sessions for uploaded label images.

The server provides the following endpoints:
  POST /scan     - Scan an uploaded image (multipart field "image")
  GET  /scan/ws  - Interactive scan sessions over WebSocket
  GET  /health   - Health check endpoint
  GET  /metrics  - Prometheus metrics

Examples:
  labelscan serve
  labelscan serve --port 8080
  labelscan serve --host 0.0.0.0 --port 3000 --paced`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		host := cfg.Server.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		corsOrigin := cfg.Server.CORSOrigin
		if cmd.Flags().Changed("cors-origin") {
			corsOrigin, _ = cmd.Flags().GetString("cors-origin")
		}

		maxUploadSize := cfg.Server.MaxUploadMB
		if cmd.Flags().Changed("max-upload-size") {
			maxUploadSize, _ = cmd.Flags().GetInt64("max-upload-size")
		}

		timeout := cfg.Server.TimeoutSec
		if cmd.Flags().Changed("timeout") {
			timeout, _ = cmd.Flags().GetInt("timeout")
		}

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if cmd.Flags().Changed("shutdown-timeout") {
			shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
		}

		maxSessions := cfg.Server.MaxSessionsPerClient
		if cmd.Flags().Changed("max-sessions") {
			maxSessions, _ = cmd.Flags().GetInt("max-sessions")
		}

		if cmd.Flags().Changed("paced") {
			cfg.Session.Paced, _ = cmd.Flags().GetBool("paced")
		}

		columnTimeout := cfg.Session.ColumnTimeout
		if cmd.Flags().Changed("column-timeout") {
			columnTimeout, _ = cmd.Flags().GetDuration("column-timeout")
		}

		texts, _ := cmd.Flags().GetString("texts")

		if err := cfg.Validate(); err != nil {
			return err
		}

		// Validate port number
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}

		gateway, err := newGateway(cfg, texts, "")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		serverConfig := server.Config{
			Host:                 host,
			Port:                 port,
			CORSOrigin:           corsOrigin,
			MaxUploadMB:          maxUploadSize,
			TimeoutSec:           timeout,
			Display:              geometry.Size{Width: cfg.Display.Width, Height: cfg.Display.Height},
			Mode:                 cfg.Mode(),
			IncludeBarcodes:      cfg.Recognition.IncludeBarcodes,
			Pacing:               cfg.ToPacing(),
			CropWorkers:          cfg.Session.CropWorkers,
			ColumnTimeout:        columnTimeout,
			MaxSessionsPerClient: maxSessions,
		}

		scanServer := server.NewServer(serverConfig, gateway, slog.Default())

		mux := http.NewServeMux()
		scanServer.SetupRoutes(mux)

		// No write timeout: websocket sessions outlive single requests and
		// POST /scan is bounded by the scan timeout.
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Duration(timeout) * time.Second,
		}

		go func() {
			slog.Info("Starting scan server", "version", version.String(), "host", host, "port", port, "paced", cfg.Session.Paced)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
			return err
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int64("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 60, "scan timeout in seconds for POST /scan")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("max-sessions", 4, "maximum concurrent scan sessions per client (0 = unlimited)")
	serveCmd.Flags().Bool("paced", false, "pace websocket sessions with their interactive delays")
	serveCmd.Flags().Duration("column-timeout", 2*time.Minute,
		"cancel websocket sessions waiting this long for a column decision (0 = wait forever)")
	serveCmd.Flags().String("texts", "", "replay a recorded text set instead of running Tesseract")
}
