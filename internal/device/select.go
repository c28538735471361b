package device

import (
	"context"
	"fmt"
	"log/slog"
)

// Select returns the first available device of the given kind, trying each
// preferred type in order. Discovery runs once; the preference walk has no
// side effects.
func Select(ctx context.Context, d Discoverer, kind Kind, position Position, preference []Type) (Device, error) {
	devices, err := d.Devices(ctx, kind)
	if err != nil {
		return Device{}, fmt.Errorf("failed to list %s devices: %w", kind, err)
	}

	if device, ok := pick(devices, kind, position, preference); ok {
		slog.Debug("Selected capture device", "kind", kind, "device", device.Name, "type", device.Type, "position", device.Position)
		return device, nil
	}

	return Device{}, &UnavailableError{Kind: kind, Position: position, Tried: preference}
}

func pick(devices []Device, kind Kind, position Position, preference []Type) (Device, bool) {
	for _, want := range preference {
		for _, device := range devices {
			if device.Kind != kind || device.Type != want {
				continue
			}
			if matchesPosition(device.Position, position) {
				return device, true
			}
		}
	}
	return Device{}, false
}

// matchesPosition treats an unspecified position on either side as a wildcard
func matchesPosition(have, want Position) bool {
	if want == PositionUnspecified || want == "" {
		return true
	}
	if have == PositionUnspecified || have == "" {
		return true
	}
	return have == want
}
