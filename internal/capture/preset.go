package capture

import (
	"fmt"
	"strings"
)

// Preset is a named quality configuration applied to a session
type Preset string

const (
	PresetHigh      Preset = "high"
	PresetMedium    Preset = "medium"
	PresetLow       Preset = "low"
	Preset1280x720  Preset = "hd1280x720"
	Preset1920x1080 Preset = "hd1920x1080"
	Preset3840x2160 Preset = "hd4K3840x2160"
)

// DefaultPreset is kept when a session cannot apply the requested one
const DefaultPreset = PresetHigh

const defaultFrameRate = 30

// AllPresets lists every preset a session may support
var AllPresets = []Preset{PresetHigh, PresetMedium, PresetLow, Preset1280x720, Preset1920x1080, Preset3840x2160}

// Dimensions returns the capture width and height for the preset
func (p Preset) Dimensions() (width, height int) {
	switch p {
	case PresetLow:
		return 640, 480
	case PresetMedium, Preset1280x720:
		return 1280, 720
	case PresetHigh, Preset1920x1080:
		return 1920, 1080
	case Preset3840x2160:
		return 3840, 2160
	default:
		return 1920, 1080
	}
}

// VideoSize formats the dimensions for ffmpeg's -video_size
func (p Preset) VideoSize() string {
	w, h := p.Dimensions()
	return fmt.Sprintf("%dx%d", w, h)
}

// ParsePreset converts a configuration string. Empty means the default preset.
func ParsePreset(s string) (Preset, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultPreset, nil
	}
	for _, p := range AllPresets {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown session preset: %q", s)
}
