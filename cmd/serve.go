package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/videorecorder/internal/config"
	"github.com/audiolibrelab/videorecorder/internal/server"
	"github.com/audiolibrelab/videorecorder/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the VideoRecorder web server to control recording via a web interface.
This allows you to toggle recording from your smartphone or any device on the same network.

Recording state changes are pushed to clients over a websocket at /events.
Edits to the config file are applied while idle.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := newService()
		defer svc.Close()

		if err := svc.Open(ctx); err != nil {
			// the server still lists recordings and reports the error via /status
			slog.Error("Capture session not available", "error", err)
		}

		if err := config.Watch(cfgFile, profile, func(next *config.Config) {
			if err := svc.Reload(ctx, next); err != nil {
				if errors.Is(err, service.ErrBusy) {
					slog.Warn("Configuration change ignored while recording")
					return
				}
				slog.Error("Failed to apply configuration change", "error", err)
			}
		}); err != nil {
			slog.Debug("Config file not watched", "error", err)
		}

		slog.Info("VideoRecorder web server starting", "port", port, "config", cfgFile)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return svc.Run(gctx)
		})
		g.Go(func() error {
			if err := server.New(svc, port).Run(gctx); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
