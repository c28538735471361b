package device

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
)

// BackendType represents the type of discovery backend
type BackendType string

const (
	BackendTypeFFmpeg   BackendType = "ffmpeg"
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeAuto     BackendType = "auto"
)

// Discoverer enumerates capture devices of a given kind
type Discoverer interface {
	Devices(ctx context.Context, kind Kind) ([]Device, error)
}

// CommandRunner runs an external command and returns its combined output
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NewDiscoverer creates a discoverer for the configured backend
func NewDiscoverer(backend string) Discoverer {
	switch determineBackend(backend, runtime.GOOS, exec.LookPath) {
	case BackendTypePipeWire:
		return NewPipeWireDiscoverer(nil)
	default:
		return NewFFmpegDiscoverer(nil, runtime.GOOS)
	}
}

// determineBackend resolves auto to PipeWire on linux hosts that have pw-link
func determineBackend(backend, goos string, lookPath func(string) (string, error)) BackendType {
	switch strings.ToLower(backend) {
	case "pipewire":
		return BackendTypePipeWire
	case "ffmpeg":
		return BackendTypeFFmpeg
	}

	if goos == "linux" {
		if _, err := lookPath("pw-link"); err == nil {
			return BackendTypePipeWire
		}
	}
	return BackendTypeFFmpeg
}

// StaticDiscoverer serves a fixed device list
type StaticDiscoverer []Device

func (s StaticDiscoverer) Devices(_ context.Context, kind Kind) ([]Device, error) {
	var devices []Device
	for _, d := range s {
		if d.Kind == kind {
			devices = append(devices, d)
		}
	}
	return devices, nil
}
