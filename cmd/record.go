package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/videorecorder/internal/playback"
	"github.com/audiolibrelab/videorecorder/internal/recording"
	"github.com/audiolibrelab/videorecorder/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the camera with a single toggle",
	Long: `Open the capture session on the preferred camera and the microphone,
then toggle recording from the keyboard:

  Enter  start / stop recording
  r      replay the last recording from the start
  q      quit (an active recording is stopped and saved)

Each finished recording is played back in a reduced-size player window.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dir, _ := cmd.Flags().GetString("output"); dir != "" {
			cfg.Output.Directory = dir
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := newService()
		defer func() {
			if err := svc.Close(); err != nil {
				slog.Warn("Failed to close capture session", "error", err)
			}
		}()

		slog.Debug("Opening capture session")
		if err := svc.Open(ctx); err != nil {
			return fmt.Errorf("failed to open capture session: %w", err)
		}

		status := svc.Status()
		fmt.Printf("📹 Camera: %s\n", status.Video.Name)
		if status.Audio != nil {
			fmt.Printf("🎤 Microphone: %s\n", status.Audio.Name)
		} else {
			fmt.Printf("🎤 Microphone: none, recording video only\n")
		}
		fmt.Printf("📁 Saving to %s\n", status.Directory)
		fmt.Printf("\nPress Enter to start/stop, r to replay, q to quit\n")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return svc.Run(gctx)
		})
		g.Go(func() error {
			printSnapshots(svc)
			return nil
		})
		g.Go(func() error {
			err := readKeys(gctx, stdinLines(), svc)
			stop()
			return err
		})

		return g.Wait()
	},
}

// readKeys maps terminal lines to recorder commands until q, EOF or ctx is done
func readKeys(ctx context.Context, lines <-chan string, svc service.Service) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				if err := svc.Toggle(ctx); err != nil {
					fmt.Printf("❌ %v\n", err)
				}
			case "r":
				if err := svc.Replay(ctx); err != nil {
					if errors.Is(err, playback.ErrNoPlayer) {
						fmt.Printf("Nothing recorded yet\n")
					} else {
						fmt.Printf("❌ %v\n", err)
					}
				}
			case "q", "quit", "exit":
				return nil
			default:
				fmt.Printf("Unknown key %q: Enter toggles, r replays, q quits\n", line)
			}
		}
	}
}

// printSnapshots prints a line per recording transition until the
// controller closes the subscription
func printSnapshots(svc service.Service) {
	updates, cancel := svc.Subscribe()
	defer cancel()

	last := recording.StateIdle
	for snapshot := range updates {
		if snapshot.State == last {
			continue
		}
		last = snapshot.State

		switch snapshot.State {
		case recording.StateRecording:
			fmt.Printf("🔴 Recording to %s\n", snapshot.Location)
		case recording.StateIdle:
			if snapshot.LastError != "" {
				fmt.Printf("⚠️  Saved %s with error: %s\n", snapshot.LastLocation, snapshot.LastError)
			} else {
				fmt.Printf("✅ Saved %s\n", snapshot.LastLocation)
			}
		}
	}
}

func init() {
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
}
