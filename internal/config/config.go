package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
	builtIn         = "built-in"
)

type DefinitionsConfig struct {
	Devices []DeviceDefinition `mapstructure:"devices" yaml:"devices" validate:"dive"`
}

// DeviceDefinition declares a capture device so discovery can be skipped
type DeviceDefinition struct {
	ID       string `mapstructure:"id" yaml:"id" validate:"required"`
	Name     string `mapstructure:"name" yaml:"name" validate:"required"`
	Device   string `mapstructure:"device" yaml:"device" validate:"required"` // backend identifier, e.g. "0", "/dev/video0", "hw:1,0"
	Kind     string `mapstructure:"kind" yaml:"kind" validate:"required,oneof=video audio"`
	Type     string `mapstructure:"type" yaml:"type" validate:"required,oneof=ultra_wide wide_angle telephoto external microphone"`
	Position string `mapstructure:"position" yaml:"position,omitempty" validate:"omitempty,oneof=unspecified front back"`
}

type DeviceReference struct {
	Ref string `mapstructure:"ref" yaml:"ref"`
}

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Capture    CaptureConfig      `mapstructure:"capture" yaml:"capture"`
	Devices    []DeviceDefinition `mapstructure:"devices" yaml:"devices,omitempty" validate:"dive"`
	Output     OutputConfig       `mapstructure:"output" yaml:"output"`
	Playback   PlaybackConfig     `mapstructure:"playback" yaml:"playback"`
	Permission PermissionConfig   `mapstructure:"permission" yaml:"permission"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type ConfigProfile struct {
	Capture    CaptureConfig     `mapstructure:"capture" yaml:"capture"`
	Devices    []DeviceReference `mapstructure:"devices" yaml:"devices"`
	Output     OutputConfig      `mapstructure:"output" yaml:"output"`
	Playback   PlaybackConfig    `mapstructure:"playback" yaml:"playback"`
	Permission PermissionConfig  `mapstructure:"permission" yaml:"permission"`
}

type InheritanceInfo struct {
	Capture struct {
		Backend       string
		Preset        string
		FrameRate     string
		VideoPosition string
		VideoTypes    string
		Audio         string
		Devices       string
	}
	Output struct {
		Directory string
		Extension string
	}
	Playback struct {
		Players string
		Scale   string
	}
	Permission struct {
		Store      string
		Restricted string
	}
}

type CaptureConfig struct {
	Backend       string   `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=auto ffmpeg pipewire"`
	Preset        string   `mapstructure:"preset" yaml:"preset" validate:"omitempty,oneof=high medium low hd1280x720 hd1920x1080 hd4K3840x2160"`
	FrameRate     int      `mapstructure:"frame_rate" yaml:"frame_rate" validate:"gte=0,lte=240"`
	VideoPosition string   `mapstructure:"video_position" yaml:"video_position" validate:"omitempty,oneof=unspecified front back"`
	VideoTypes    []string `mapstructure:"video_types" yaml:"video_types" validate:"dive,oneof=ultra_wide wide_angle telephoto external"`
	Audio         *bool    `mapstructure:"audio" yaml:"audio"` // nil means enabled
	AudioTypes    []string `mapstructure:"audio_types" yaml:"audio_types" validate:"dive,oneof=microphone external"`
}

// AudioEnabled reports whether a microphone should be attached
func (c CaptureConfig) AudioEnabled() bool {
	return c.Audio == nil || *c.Audio
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Extension string `mapstructure:"extension" yaml:"extension" validate:"omitempty,alphanum"`
}

type PlaybackConfig struct {
	Players      []string `mapstructure:"players" yaml:"players" validate:"dive,oneof=mpv ffplay vlc"`
	Scale        float64  `mapstructure:"scale" yaml:"scale" validate:"gte=0,lte=1"`
	ScreenWidth  int      `mapstructure:"screen_width" yaml:"screen_width" validate:"gte=0"`
	ScreenHeight int      `mapstructure:"screen_height" yaml:"screen_height" validate:"gte=0"`
	AutoPlay     *bool    `mapstructure:"auto_play" yaml:"auto_play"` // nil means enabled
}

// AutoPlayEnabled reports whether finished recordings are played automatically
func (p PlaybackConfig) AutoPlayEnabled() bool {
	return p.AutoPlay == nil || *p.AutoPlay
}

type PermissionConfig struct {
	Store      string   `mapstructure:"store" yaml:"store"`
	Restricted []string `mapstructure:"restricted" yaml:"restricted" validate:"dive,oneof=video audio"`
}

var defaultConfig = Config{
	Capture: CaptureConfig{
		Backend:       "auto",
		Preset:        "high",
		FrameRate:     30,
		VideoPosition: "unspecified",
		VideoTypes:    []string{"ultra_wide", "wide_angle"},
		AudioTypes:    []string{"microphone"},
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Movies", "VideoRecorder"),
		Extension: "mov",
	},
	Playback: PlaybackConfig{
		Players:      []string{"mpv", "ffplay", "vlc"},
		Scale:        0.25,
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	},
	Permission: PermissionConfig{
		Store: filepath.Join(os.Getenv("HOME"), ".config", "videorecorder", "permissions.yaml"),
	},
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{Inheritance: &InheritanceInfo{}}
	applyDefaults(cfg)
	return cfg
}

// LoadOrDefault loads configFile, or returns the built-in configuration when
// the file does not exist
func LoadOrDefault(configFile, profile string) (*Config, error) {
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		slog.Debug("Config file not found, using defaults", "path", configFile)
		return Default(), nil
	}
	return LoadWithProfile(configFile, profile)
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	// Merge with default config if it exists and we're not already using default
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			selectedConfig = mergeConfigs(base, selectedConfig)
		} else {
			selectedConfig = mergeConfigs(nil, selectedConfig)
		}
	} else {
		selectedConfig = mergeConfigs(nil, selectedConfig)
	}

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordingsDirectory != "" {
		selectedConfig.Output.Directory = rootConfig.Globals.Output.RecordingsDirectory
		selectedConfig.Inheritance.Output.Directory = "globals"
	}

	applyDefaults(selectedConfig)

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.Permission.Store = expandPath(selectedConfig.Permission.Store)

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// Watch reloads the configuration whenever configFile changes and passes
// every successfully loaded version to onChange. Invalid edits are logged
// and skipped.
func Watch(configFile, profile string, onChange func(*Config)) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("cannot watch config file %s: %w", configFile, err)
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		slog.Info("Config file changed", "path", e.Name, "op", e.Op.String())

		cfg, err := LoadWithProfile(configFile, profile)
		if err != nil {
			slog.Warn("Ignoring invalid configuration change", "error", err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving device references
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Capture:    profile.Capture,
		Output:     profile.Output,
		Playback:   profile.Playback,
		Permission: profile.Permission,
	}

	for i, ref := range profile.Devices {
		if ref.Ref == "" {
			return nil, fmt.Errorf("devices[%d]: 'ref' is required", i)
		}

		definition := findDefinition(definitions, ref.Ref)
		if definition == nil {
			return nil, fmt.Errorf("devices[%d]: reference '%s' not found in definitions", i, ref.Ref)
		}
		config.Devices = append(config.Devices, *definition)
	}

	return config, nil
}

func findDefinition(definitions *DefinitionsConfig, id string) *DeviceDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Devices {
		if definitions.Devices[i].ID == id {
			return &definitions.Devices[i]
		}
	}
	return nil
}

// mergeConfigs overlays profile on base. Every setting uses the profile
// value when set and falls back to base otherwise; the device list is taken
// as a whole.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	in := result.Inheritance

	if base != nil {
		result.Capture = base.Capture
		result.Devices = base.Devices
		result.Output = base.Output
		result.Playback = base.Playback
		result.Permission = base.Permission

		in.Capture.Backend = inherited
		in.Capture.Preset = inherited
		in.Capture.FrameRate = inherited
		in.Capture.VideoPosition = inherited
		in.Capture.VideoTypes = inherited
		in.Capture.Audio = inherited
		in.Capture.Devices = inherited
		in.Output.Directory = inherited
		in.Output.Extension = inherited
		in.Playback.Players = inherited
		in.Playback.Scale = inherited
		in.Permission.Store = inherited
		in.Permission.Restricted = inherited
	}

	if profile == nil {
		return result
	}

	overrideString(&result.Capture.Backend, profile.Capture.Backend, &in.Capture.Backend)
	overrideString(&result.Capture.Preset, profile.Capture.Preset, &in.Capture.Preset)
	overrideString(&result.Capture.VideoPosition, profile.Capture.VideoPosition, &in.Capture.VideoPosition)
	if profile.Capture.FrameRate != 0 {
		result.Capture.FrameRate = profile.Capture.FrameRate
		in.Capture.FrameRate = profileSpecific
	}
	if len(profile.Capture.VideoTypes) > 0 {
		result.Capture.VideoTypes = profile.Capture.VideoTypes
		in.Capture.VideoTypes = profileSpecific
	}
	if len(profile.Capture.AudioTypes) > 0 {
		result.Capture.AudioTypes = profile.Capture.AudioTypes
	}
	if profile.Capture.Audio != nil {
		result.Capture.Audio = profile.Capture.Audio
		in.Capture.Audio = profileSpecific
	}
	if len(profile.Devices) > 0 {
		result.Devices = profile.Devices
		in.Capture.Devices = profileSpecific
	}

	overrideString(&result.Output.Directory, profile.Output.Directory, &in.Output.Directory)
	overrideString(&result.Output.Extension, profile.Output.Extension, &in.Output.Extension)

	if len(profile.Playback.Players) > 0 {
		result.Playback.Players = profile.Playback.Players
		in.Playback.Players = profileSpecific
	}
	if profile.Playback.Scale != 0 {
		result.Playback.Scale = profile.Playback.Scale
		in.Playback.Scale = profileSpecific
	}
	if profile.Playback.ScreenWidth != 0 {
		result.Playback.ScreenWidth = profile.Playback.ScreenWidth
	}
	if profile.Playback.ScreenHeight != 0 {
		result.Playback.ScreenHeight = profile.Playback.ScreenHeight
	}
	if profile.Playback.AutoPlay != nil {
		result.Playback.AutoPlay = profile.Playback.AutoPlay
	}

	overrideString(&result.Permission.Store, profile.Permission.Store, &in.Permission.Store)
	if len(profile.Permission.Restricted) > 0 {
		result.Permission.Restricted = profile.Permission.Restricted
		in.Permission.Restricted = profileSpecific
	}

	return result
}

func overrideString(dst *string, value string, status *string) {
	if value == "" {
		return
	}
	*dst = value
	*status = profileSpecific
}

// applyDefaults fills unset values from the built-in configuration
func applyDefaults(cfg *Config) {
	d := defaultConfig
	in := cfg.Inheritance
	if in == nil {
		in = &InheritanceInfo{}
		cfg.Inheritance = in
	}

	fillString(&cfg.Capture.Backend, d.Capture.Backend, &in.Capture.Backend)
	fillString(&cfg.Capture.Preset, d.Capture.Preset, &in.Capture.Preset)
	fillString(&cfg.Capture.VideoPosition, d.Capture.VideoPosition, &in.Capture.VideoPosition)
	if cfg.Capture.FrameRate == 0 {
		cfg.Capture.FrameRate = d.Capture.FrameRate
		in.Capture.FrameRate = builtIn
	}
	if len(cfg.Capture.VideoTypes) == 0 {
		cfg.Capture.VideoTypes = d.Capture.VideoTypes
		in.Capture.VideoTypes = builtIn
	}
	if len(cfg.Capture.AudioTypes) == 0 {
		cfg.Capture.AudioTypes = d.Capture.AudioTypes
	}
	if in.Capture.Audio == "" {
		in.Capture.Audio = builtIn
	}
	if in.Capture.Devices == "" {
		in.Capture.Devices = builtIn
	}

	fillString(&cfg.Output.Directory, d.Output.Directory, &in.Output.Directory)
	fillString(&cfg.Output.Extension, d.Output.Extension, &in.Output.Extension)

	if len(cfg.Playback.Players) == 0 {
		cfg.Playback.Players = d.Playback.Players
		in.Playback.Players = builtIn
	}
	if cfg.Playback.Scale == 0 {
		cfg.Playback.Scale = d.Playback.Scale
		in.Playback.Scale = builtIn
	}
	if cfg.Playback.ScreenWidth == 0 {
		cfg.Playback.ScreenWidth = d.Playback.ScreenWidth
	}
	if cfg.Playback.ScreenHeight == 0 {
		cfg.Playback.ScreenHeight = d.Playback.ScreenHeight
	}

	fillString(&cfg.Permission.Store, d.Permission.Store, &in.Permission.Store)
	if in.Permission.Restricted == "" {
		in.Permission.Restricted = builtIn
	}
}

func fillString(dst *string, value string, status *string) {
	if *dst != "" {
		return
	}
	*dst = value
	*status = builtIn
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var validate = validator.New()

// Validate checks a resolved configuration
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if cfg.Permission.Store == "" {
		return fmt.Errorf("permission.store is required")
	}

	// a rig declares at most one device per kind
	seen := make(map[string]string)
	for _, d := range cfg.Devices {
		if other, ok := seen[d.Kind]; ok {
			return fmt.Errorf("devices: '%s' and '%s' are both %s devices", other, d.ID, d.Kind)
		}
		seen[d.Kind] = d.ID
	}
	if len(cfg.Devices) > 0 && seen["video"] == "" {
		return fmt.Errorf("devices: at least one video device is required")
	}

	return nil
}

func formatValidationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s: failed '%s=%s' (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			messages = append(messages, fmt.Sprintf("%s: failed '%s' (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("VIDEORECORDER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section cannot be empty")
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", configName)
		}
		if err := validateDeviceReferences(configProfile.Devices, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateDefinitions validates the optional definitions section
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return nil
	}

	seenIDs := make(map[string]bool)
	for i, def := range definitions.Devices {
		prefix := fmt.Sprintf("definitions.devices[%d]", i)

		if err := validate.Struct(def); err != nil {
			return fmt.Errorf("%s: %w", prefix, formatValidationError(err))
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if def.Kind == "audio" && def.Type != "microphone" && def.Type != "external" {
			return fmt.Errorf("%s: audio device type must be 'microphone' or 'external', got: %s", prefix, def.Type)
		}
		if def.Kind == "video" && def.Type == "microphone" {
			return fmt.Errorf("%s: video device cannot have type 'microphone'", prefix)
		}
	}

	return nil
}

// validateDeviceReferences validates device references in a config profile
func validateDeviceReferences(refs []DeviceReference, definitions *DefinitionsConfig) error {
	for i, ref := range refs {
		prefix := fmt.Sprintf("devices[%d]", i)

		if ref.Ref == "" {
			return fmt.Errorf("%s: 'ref' is required", prefix)
		}
		if findDefinition(definitions, ref.Ref) == nil {
			return fmt.Errorf("%s: references undefined device definition '%s'", prefix, ref.Ref)
		}
	}
	return nil
}
