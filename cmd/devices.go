package cmd

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/audiolibrelab/videorecorder/internal/device"
	"github.com/audiolibrelab/videorecorder/internal/service"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List capture devices and the ones that would be selected",
	Long: `List the cameras and microphones visible to the configured backend and
show which device the preference order picks for each kind.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices(cmd.Context(), newService())
	},
}

func listDevices(ctx context.Context, svc *service.VideoRecorderService) error {
	fmt.Printf("📹 Capture Devices (%s, backend %s)\n", runtime.GOOS, cfg.Capture.Backend)
	fmt.Printf("═══════════════════════════════════════\n\n")

	position, err := device.ParsePosition(cfg.Capture.VideoPosition)
	if err != nil {
		return err
	}
	videoTypes, err := device.ParseTypes(cfg.Capture.VideoTypes)
	if err != nil {
		return err
	}
	audioTypes, err := device.ParseTypes(cfg.Capture.AudioTypes)
	if err != nil {
		return err
	}

	sections := []struct {
		kind       device.Kind
		title      string
		position   device.Position
		preference []device.Type
	}{
		{device.KindVideo, "CAMERAS", position, videoTypes},
		{device.KindAudio, "MICROPHONES", device.PositionUnspecified, audioTypes},
	}

	for _, section := range sections {
		devices, err := svc.Devices(ctx, section.kind)
		if err != nil {
			return fmt.Errorf("failed to list %s devices: %w", section.kind, err)
		}

		fmt.Printf("📋 %s (%d found):\n", section.title, len(devices))
		for i, d := range devices {
			fmt.Printf("  %d. %s\n", i+1, d)
		}

		selected, err := device.Select(ctx, device.StaticDiscoverer(devices), section.kind, section.position, section.preference)
		switch {
		case err == nil:
			fmt.Printf("  ➜ selected: %s\n\n", selected.Name)
		case errors.Is(err, device.ErrUnavailable):
			fmt.Printf("  ➜ none matches %v\n\n", section.preference)
		default:
			return err
		}
	}

	fmt.Printf("💡 Pin devices in the config file under definitions.devices and\n")
	fmt.Printf("   reference them from a profile with devices: [{ref: <id>}]\n")
	return nil
}
