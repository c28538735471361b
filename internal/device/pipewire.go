package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// PulsePrefix marks audio device IDs that are PipeWire node names; the
// encoder reads them through the pulse input.
const PulsePrefix = "pulse:"

// PipeWireDiscoverer lists microphones as PipeWire capture nodes and
// delegates cameras to v4l2
type PipeWireDiscoverer struct {
	runner CommandRunner
	video  Discoverer
}

// NewPipeWireDiscoverer creates a discoverer. A nil runner executes real commands.
func NewPipeWireDiscoverer(runner CommandRunner) *PipeWireDiscoverer {
	if runner == nil {
		runner = execRunner{}
	}
	return &PipeWireDiscoverer{runner: runner, video: NewFFmpegDiscoverer(runner, "linux")}
}

// Devices returns the available devices of the requested kind
func (p *PipeWireDiscoverer) Devices(ctx context.Context, kind Kind) ([]Device, error) {
	if kind == KindVideo {
		return p.video.Devices(ctx, kind)
	}

	output, err := p.runner.Run(ctx, "pw-link", "-o")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePipeWirePorts(string(output)), nil
}

// parsePipeWirePorts groups `pw-link -o` output ports by node and keeps the
// nodes that expose capture ports. Monitor ports of sinks and application
// outputs are not microphones.
func parsePipeWirePorts(output string) []Device {
	var devices []Device
	seen := make(map[string]int)

	for _, line := range strings.Split(output, "\n") {
		port := strings.TrimSpace(line)
		if port == "" || strings.HasSuffix(port, "ports:") {
			continue
		}

		i := strings.LastIndex(port, ":")
		if i <= 0 {
			continue
		}
		node, name := port[:i], port[i+1:]
		if !strings.HasPrefix(name, "capture_") || isEphemeralNode(node) {
			continue
		}

		seen[node]++
		if seen[node] > 1 {
			continue
		}
		devices = append(devices, classify(PulsePrefix+node, describeNode(node), KindAudio))
	}

	for node, ports := range seen {
		slog.Debug("PipeWire capture node", "node", node, "ports", ports)
	}
	return devices
}

// describeNode turns "alsa_input.usb-Blue_Yeti-00.analog-stereo" into "usb Blue Yeti 00"
func describeNode(node string) string {
	name := strings.TrimPrefix(node, "alsa_input.")
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// isEphemeralNode reports application nodes that may appear and disappear
func isEphemeralNode(node string) bool {
	lower := strings.ToLower(node)

	ephemeralApps := []string{
		"chrome", "firefox", "spotify", "discord", "steam",
		"vlc", "mpv", "zoom", "teams", "slack",
	}

	for _, app := range ephemeralApps {
		if strings.Contains(lower, app) {
			return true
		}
	}

	return false
}
