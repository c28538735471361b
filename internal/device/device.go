package device

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the media kind a device captures
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Position is the physical placement of a camera
type Position string

const (
	PositionUnspecified Position = "unspecified"
	PositionBack        Position = "back"
	PositionFront       Position = "front"
)

// Type classifies a device within its kind
type Type string

const (
	TypeUltraWide  Type = "ultra_wide"
	TypeWideAngle  Type = "wide_angle"
	TypeTelephoto  Type = "telephoto"
	TypeExternal   Type = "external"
	TypeMicrophone Type = "microphone"
)

// DefaultVideoPreference is tried in order when no preference is configured
var DefaultVideoPreference = []Type{TypeUltraWide, TypeWideAngle}

// DefaultAudioPreference is tried in order when no preference is configured
var DefaultAudioPreference = []Type{TypeMicrophone}

// Device is a capture device handle. It is treated as immutable once selected.
type Device struct {
	// ID is the backend identifier passed to the encoder (avfoundation index, /dev/videoN, hw:X,Y)
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Type     Type     `json:"type"`
	Position Position `json:"position"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s [%s] (%s, %s, %s)", d.Name, d.ID, d.Kind, d.Type, d.Position)
}

// ErrUnavailable is matched by every UnavailableError
var ErrUnavailable = errors.New("no capture device available")

// UnavailableError reports that no device satisfied the preference order
type UnavailableError struct {
	Kind     Kind
	Position Position
	Tried    []Type
}

func (e *UnavailableError) Error() string {
	tried := make([]string, len(e.Tried))
	for i, t := range e.Tried {
		tried[i] = string(t)
	}
	return fmt.Sprintf("no %s device available at position %s (tried: %s)", e.Kind, e.Position, strings.Join(tried, ", "))
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// ParseKind converts a configuration string into a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindVideo:
		return KindVideo, nil
	case KindAudio:
		return KindAudio, nil
	}
	return "", fmt.Errorf("unknown media kind: %q (valid: video, audio)", s)
}

// ParsePosition converts a configuration string into a Position. Empty means unspecified.
func ParsePosition(s string) (Position, error) {
	switch Position(strings.ToLower(strings.TrimSpace(s))) {
	case "", PositionUnspecified:
		return PositionUnspecified, nil
	case PositionBack:
		return PositionBack, nil
	case PositionFront:
		return PositionFront, nil
	}
	return "", fmt.Errorf("unknown camera position: %q (valid: back, front, unspecified)", s)
}

// ParseTypes converts configured type names, keeping their order
func ParseTypes(names []string) ([]Type, error) {
	types := make([]Type, 0, len(names))
	for _, name := range names {
		t := Type(strings.ToLower(strings.TrimSpace(name)))
		switch t {
		case TypeUltraWide, TypeWideAngle, TypeTelephoto, TypeExternal, TypeMicrophone:
			types = append(types, t)
		default:
			return nil, fmt.Errorf("unknown device type: %q", name)
		}
	}
	return types, nil
}
