package config

import (
	"os"
	"strings"
	"testing"
)

func TestValidateConfigurationFormat_ValidConfig(t *testing.T) {
	validConfig := `
active_config: test

definitions:
  devices:
    - id: builtin_cam
      name: FaceTime HD Camera
      device: "0"
      kind: video
      type: wide_angle
      position: front

    - id: builtin_mic
      name: MacBook Pro Microphone
      device: "0"
      kind: audio
      type: microphone

configs:
  test:
    devices:
      - ref: builtin_cam
      - ref: builtin_mic
    output:
      directory: ~/Movies/Test
`

	configFile := createTempConfig(t, validConfig)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if rootConfig == nil {
		t.Fatal("Expected non-nil root config")
	}

	if rootConfig.Definitions == nil {
		t.Fatal("Expected definitions section")
	}

	if len(rootConfig.Definitions.Devices) != 2 {
		t.Errorf("Expected 2 device definitions, got %d", len(rootConfig.Definitions.Devices))
	}

	def := rootConfig.Definitions.Devices[0]
	if def.ID != "builtin_cam" || def.Kind != "video" || def.Position != "front" {
		t.Errorf("Invalid first definition: %+v", def)
	}

	testConfig := rootConfig.Configs["test"]
	if testConfig == nil {
		t.Fatal("Expected test config")
	}
	if len(testConfig.Devices) != 2 || testConfig.Devices[1].Ref != "builtin_mic" {
		t.Errorf("Expected 2 device references, got %+v", testConfig.Devices)
	}
}

func TestValidateConfigurationFormat_NoDefinitions(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
  default:
    capture:
      preset: medium
`)

	if _, err := ValidateConfigurationFormat(configFile); err != nil {
		t.Errorf("Definitions are optional, got error: %v", err)
	}
}

func TestValidateConfigurationFormat_EmptyConfigs(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
`)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for missing configs section")
	}
	if !strings.Contains(err.Error(), "configs section cannot be empty") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidReference(t *testing.T) {
	configFile := createTempConfig(t, `
definitions:
  devices:
    - id: cam
      name: Camera
      device: /dev/video0
      kind: video
      type: external
configs:
  default:
    devices:
      - ref: missing_cam
`)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for invalid reference")
	}
	if !strings.Contains(err.Error(), "references undefined device definition 'missing_cam'") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidateConfigurationFormat_DuplicateDefinitionIDs(t *testing.T) {
	configFile := createTempConfig(t, `
definitions:
  devices:
    - id: cam
      name: Camera
      device: /dev/video0
      kind: video
      type: external
    - id: cam
      name: Other Camera
      device: /dev/video2
      kind: video
      type: external
configs:
  default:
    devices:
      - ref: cam
`)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for duplicate IDs")
	}
	if !strings.Contains(err.Error(), "duplicate ID 'cam'") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidDeviceDefinition(t *testing.T) {
	tests := []struct {
		name       string
		definition string
		wantErr    string
	}{
		{
			name: "missing device identifier",
			definition: `
    - id: cam
      name: Camera
      kind: video
      type: external`,
			wantErr: "Device",
		},
		{
			name: "unknown kind",
			definition: `
    - id: cam
      name: Camera
      device: "0"
      kind: screen
      type: external`,
			wantErr: "Kind",
		},
		{
			name: "unknown position",
			definition: `
    - id: cam
      name: Camera
      device: "0"
      kind: video
      type: wide_angle
      position: left`,
			wantErr: "Position",
		},
		{
			name: "audio device with camera type",
			definition: `
    - id: cam
      name: Microphone
      device: hw:0,0
      kind: audio
      type: telephoto`,
			wantErr: "audio device type must be",
		},
		{
			name: "video device with microphone type",
			definition: `
    - id: cam
      name: Camera
      device: "0"
      kind: video
      type: microphone`,
			wantErr: "video device cannot have type 'microphone'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, `
definitions:
  devices:`+tt.definition+`
configs:
  default:
    capture:
      preset: high
`)

			_, err := ValidateConfigurationFormat(configFile)
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestConvertProfileToConfig_ValidProfile(t *testing.T) {
	definitions := &DefinitionsConfig{
		Devices: []DeviceDefinition{
			{ID: "cam", Name: "Camera", Device: "/dev/video0", Kind: "video", Type: "external"},
			{ID: "mic", Name: "Mic", Device: "hw:1,0", Kind: "audio", Type: "microphone"},
		},
	}

	profile := &ConfigProfile{
		Capture: CaptureConfig{Preset: "low"},
		Devices: []DeviceReference{{Ref: "mic"}, {Ref: "cam"}},
		Output:  OutputConfig{Directory: "/movies"},
	}

	config, err := convertProfileToConfig(profile, definitions)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(config.Devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(config.Devices))
	}
	if config.Devices[0].ID != "mic" || config.Devices[1].Device != "/dev/video0" {
		t.Errorf("Devices not resolved in order: %+v", config.Devices)
	}
	if config.Capture.Preset != "low" || config.Output.Directory != "/movies" {
		t.Errorf("Profile settings not copied: %+v", config)
	}
}

func TestConvertProfileToConfig_MissingReference(t *testing.T) {
	profile := &ConfigProfile{Devices: []DeviceReference{{Ref: "ghost"}}}

	_, err := convertProfileToConfig(profile, &DefinitionsConfig{})
	if err == nil {
		t.Fatal("Expected error for missing reference")
	}
	if !strings.Contains(err.Error(), "reference 'ghost' not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestConvertProfileToConfig_EmptyRef(t *testing.T) {
	profile := &ConfigProfile{Devices: []DeviceReference{{Ref: ""}}}

	_, err := convertProfileToConfig(profile, nil)
	if err == nil {
		t.Fatal("Expected error for empty ref")
	}
	if !strings.Contains(err.Error(), "'ref' is required") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// Helper function to create temporary config file for testing
func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp(t.TempDir(), "videorecorder-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
