package device

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// FFmpegDiscoverer lists devices through the same tools the encoder uses:
// ffmpeg's avfoundation probe on darwin, v4l2-ctl and arecord on linux.
type FFmpegDiscoverer struct {
	runner CommandRunner
	goos   string
}

// NewFFmpegDiscoverer creates a discoverer. A nil runner executes real commands.
func NewFFmpegDiscoverer(runner CommandRunner, goos string) *FFmpegDiscoverer {
	if runner == nil {
		runner = execRunner{}
	}
	return &FFmpegDiscoverer{runner: runner, goos: goos}
}

// Devices returns the available devices of the requested kind
func (f *FFmpegDiscoverer) Devices(ctx context.Context, kind Kind) ([]Device, error) {
	switch f.goos {
	case "darwin":
		// ffmpeg exits non-zero after listing, so the error is ignored when output exists
		output, err := f.runner.Run(ctx, "ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", "")
		if len(output) == 0 && err != nil {
			return nil, fmt.Errorf("failed to probe avfoundation devices: %w", err)
		}
		return filterKind(parseAVFoundation(string(output)), kind), nil

	case "linux":
		if kind == KindVideo {
			output, err := f.runner.Run(ctx, "v4l2-ctl", "--list-devices")
			if err != nil && len(output) == 0 {
				return nil, fmt.Errorf("failed to list v4l2 devices: %w", err)
			}
			return parseV4L2(string(output)), nil
		}
		output, err := f.runner.Run(ctx, "arecord", "-l")
		if err != nil {
			return nil, fmt.Errorf("failed to list ALSA capture devices: %w", err)
		}
		return parseALSA(string(output)), nil
	}

	return nil, fmt.Errorf("device discovery not supported on %s", f.goos)
}

func filterKind(devices []Device, kind Kind) []Device {
	var out []Device
	for _, d := range devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

var avfDeviceLine = regexp.MustCompile(`\]\s*\[(\d+)\]\s*(.+)$`)

// parseAVFoundation parses the device listing ffmpeg prints for avfoundation
func parseAVFoundation(output string) []Device {
	var devices []Device
	current := Kind("")

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "AVFoundation video devices"):
			current = KindVideo
			continue
		case strings.Contains(line, "AVFoundation audio devices"):
			current = KindAudio
			continue
		}
		if current == "" {
			continue
		}

		m := avfDeviceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[2])
		if current == KindVideo && isScreenCapture(name) {
			slog.Debug("Skipping screen capture pseudo device", "name", name)
			continue
		}

		devices = append(devices, classify(m[1], name, current))
	}

	return devices
}

// parseV4L2 parses `v4l2-ctl --list-devices`; only the first node of each card captures
func parseV4L2(output string) []Device {
	var devices []Device
	var card string
	taken := false

	for _, raw := range strings.Split(output, "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if !strings.HasPrefix(raw, "\t") && !strings.HasPrefix(raw, " ") {
			card = strings.TrimSuffix(strings.TrimSpace(raw), ":")
			if i := strings.Index(card, " ("); i > 0 {
				card = card[:i]
			}
			taken = false
			continue
		}

		node := strings.TrimSpace(raw)
		if taken || !strings.HasPrefix(node, "/dev/video") {
			continue
		}
		taken = true
		devices = append(devices, classify(node, card, KindVideo))
	}

	return devices
}

var alsaCardLine = regexp.MustCompile(`^card (\d+): [^\[]*\[([^\]]+)\], device (\d+): [^\[]*\[([^\]]+)\]`)

// parseALSA parses `arecord -l`
func parseALSA(output string) []Device {
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		m := alsaCardLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		id := fmt.Sprintf("hw:%s,%s", m[1], m[3])
		name := fmt.Sprintf("%s: %s", m[2], m[4])
		devices = append(devices, classify(id, name, KindAudio))
	}
	return devices
}

func isScreenCapture(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "capture screen")
}

// classify derives type and position from the device name
func classify(id, name string, kind Kind) Device {
	d := Device{ID: id, Name: name, Kind: kind, Position: PositionUnspecified}
	lower := strings.ToLower(name)

	if kind == KindAudio {
		d.Type = TypeMicrophone
		return d
	}

	switch {
	case strings.Contains(lower, "ultra wide") || strings.Contains(lower, "ultrawide"):
		d.Type = TypeUltraWide
	case strings.Contains(lower, "telephoto"):
		d.Type = TypeTelephoto
	case strings.Contains(lower, "usb") || strings.Contains(lower, "external"):
		d.Type = TypeExternal
	default:
		d.Type = TypeWideAngle
	}

	switch {
	case strings.Contains(lower, "front") || strings.Contains(lower, "facetime") || strings.Contains(lower, "integrated"):
		d.Position = PositionFront
	case strings.Contains(lower, "back") || strings.Contains(lower, "rear"):
		d.Position = PositionBack
	}

	return d
}
