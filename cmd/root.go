package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/audiolibrelab/videorecorder/internal/config"
	"github.com/audiolibrelab/videorecorder/internal/permission"
	"github.com/audiolibrelab/videorecorder/internal/service"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
	logFile      string
	assumeYes    bool
)

var rootCmd = &cobra.Command{
	Use:   "videorecorder",
	Short: "Record camera video and play it back",
	Long: `VideoRecorder is a CLI tool that records the best available camera
together with the microphone into a movie file and plays each finished
recording back in a reduced-size player window.

Without a subcommand it acts as 'videorecorder record'.`,
	Args: cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel, logFile)

		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/videorecorder.yaml")
		}

		var err error
		cfg, err = config.LoadOrDefault(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordCmd.RunE(cmd, args)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/videorecorder.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg and player output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated by size")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "grant undecided camera and microphone access without asking")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(recordingsCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(permissionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int, file string) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2:
		// Level 2 additionally forwards child process output, see processLogWriter
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if file != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(out, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// processLogWriter is where ffmpeg and player output goes
func processLogWriter() io.Writer {
	if verboseLevel >= 2 {
		return os.Stderr
	}
	return io.Discard
}

// stdinLines is the only reader of stdin; prompts and key handling share it
var stdinLines = sync.OnceValue(func() <-chan string {
	return permission.ScanLines(os.Stdin)
})

// newPrompter asks on the terminal unless --yes was given
func newPrompter() permission.Prompter {
	if assumeYes {
		return permission.AutoPrompter(true)
	}
	return permission.TerminalPrompter{Lines: stdinLines(), Out: os.Stderr}
}

// newService creates the recorder service for the loaded configuration
func newService(opts ...service.Option) *service.VideoRecorderService {
	base := []service.Option{
		service.WithPrompter(newPrompter()),
		service.WithLogWriter(processLogWriter()),
	}
	return service.New(cfg, append(base, opts...)...)
}
