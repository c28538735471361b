package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [recording]",
	Short: "Play a recording",
	Long: `Play a recording in a reduced-size player window. Without a name the
newest recording is played. Players are tried in the configured order
(mpv, ffplay, vlc by default).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := newService()
		defer svc.Close()

		if err := svc.Play(ctx, name); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		fmt.Printf("▶️  Playing %s - Press Ctrl+C to stop\n", svc.Status().Playing)

		<-ctx.Done()
		return nil
	},
}
