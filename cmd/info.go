package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/videorecorder/internal/permission"
	"github.com/audiolibrelab/videorecorder/internal/storage"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and the next recording path",
	Long:  `Display the resolved configuration with inheritance indicators and the file the next recording would be written to. Shows which values are inherited from default, set by the profile, set globally or built in.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := afero.NewOsFs()
		library := storage.New(fs, cfg.Output.Directory, storage.WithExtension(cfg.Output.Extension))
		next, err := library.NewLocation()
		if err != nil {
			return err
		}

		// Display file paths
		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("config: %s\n", cfgFile)
		fmt.Printf("next_recording: %s\n", next)
		fmt.Printf("permissions: %s\n", cfg.Permission.Store)

		// Display resolved configuration with inheritance indicators
		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")
		in := cfg.Inheritance

		fmt.Printf("\n[Capture]\n")
		fmt.Printf("backend: %s %s\n", cfg.Capture.Backend, getInheritanceIndicator(in.Capture.Backend))
		fmt.Printf("preset: %s %s\n", cfg.Capture.Preset, getInheritanceIndicator(in.Capture.Preset))
		fmt.Printf("frame_rate: %d %s\n", cfg.Capture.FrameRate, getInheritanceIndicator(in.Capture.FrameRate))
		fmt.Printf("video_position: %s %s\n", cfg.Capture.VideoPosition, getInheritanceIndicator(in.Capture.VideoPosition))
		fmt.Printf("video_types: %s %s\n", strings.Join(cfg.Capture.VideoTypes, ", "), getInheritanceIndicator(in.Capture.VideoTypes))
		fmt.Printf("audio: %t %s\n", cfg.Capture.AudioEnabled(), getInheritanceIndicator(in.Capture.Audio))

		fmt.Printf("\n[Devices] %s\n", getInheritanceIndicator(in.Capture.Devices))
		if len(cfg.Devices) == 0 {
			fmt.Printf("discovered by backend\n")
		}
		for i, d := range cfg.Devices {
			fmt.Printf("%d. %s: %s (%s, %s, %s)\n", i, d.ID, d.Name, d.Kind, d.Type, d.Device)
		}

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(in.Output.Directory))
		fmt.Printf("extension: %s %s\n", cfg.Output.Extension, getInheritanceIndicator(in.Output.Extension))

		fmt.Printf("\n[Playback]\n")
		fmt.Printf("players: %s %s\n", strings.Join(cfg.Playback.Players, ", "), getInheritanceIndicator(in.Playback.Players))
		fmt.Printf("scale: %.2f %s\n", cfg.Playback.Scale, getInheritanceIndicator(in.Playback.Scale))
		fmt.Printf("auto_play: %t\n", cfg.Playback.AutoPlayEnabled())

		fmt.Printf("\n[Permission]\n")
		fmt.Printf("store: %s %s\n", cfg.Permission.Store, getInheritanceIndicator(in.Permission.Store))
		fmt.Printf("restricted: %s %s\n", strings.Join(cfg.Permission.Restricted, ", "), getInheritanceIndicator(in.Permission.Restricted))
		store := permission.NewStore(fs, cfg.Permission.Store, kindsFromConfig(), nil)
		for _, kind := range permissionKinds {
			fmt.Printf("%s: %s\n", kind, store.Status(kind))
		}

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "globals":
		return "[globals]"
	case "built-in":
		return "[built-in]"
	default:
		return "[unknown]"
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
