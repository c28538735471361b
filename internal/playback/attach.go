package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultScale is the fraction of the host bounds covered by the surface
const DefaultScale = 0.25

// ErrNoPlayer is returned when replay is requested before anything was attached
var ErrNoPlayer = errors.New("no player attached")

// Rect is a frame in host coordinates
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Scale shrinks the size by factor, keeping the origin
func (r Rect) Scale(factor float64) Rect {
	return Rect{
		X:      r.X,
		Y:      r.Y,
		Width:  int(float64(r.Width) * factor),
		Height: int(float64(r.Height) * factor),
	}
}

// Empty reports whether the rect has no area
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Player plays one movie file
type Player interface {
	Location() string
	Play(ctx context.Context) error
	Pause() error
	SeekToStart(ctx context.Context) error
	Close() error
}

// Factory constructs a player bound to location, rendering into frame
type Factory func(location string, frame Rect) (Player, error)

// Host is the view the surface is inserted into
type Host interface {
	Bounds() Rect
	Insert(s *Surface)
}

// Surface is the single reusable element presenting the current player
type Surface struct {
	Frame Rect

	mu     sync.Mutex
	player Player
}

func (s *Surface) bind(p Player) {
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
}

// Location returns the file bound to the surface, or ""
func (s *Surface) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return ""
	}
	return s.player.Location()
}

// Attacher owns the playback surface and at most one player
type Attacher struct {
	host      Host
	scale     float64
	newPlayer Factory

	mu      sync.Mutex
	surface *Surface
	player  Player
}

// NewAttacher creates an attacher. A scale outside (0, 1] falls back to DefaultScale.
func NewAttacher(host Host, scale float64, newPlayer Factory) *Attacher {
	if scale <= 0 || scale > 1 {
		scale = DefaultScale
	}
	return &Attacher{host: host, scale: scale, newPlayer: newPlayer}
}

// AttachAndPlay replaces the current player with one bound to location and
// plays it from the start
func (a *Attacher) AttachAndPlay(ctx context.Context, location string) error {
	if location == "" {
		return fmt.Errorf("playback location is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.surface == nil {
		a.surface = &Surface{Frame: a.host.Bounds().Scale(a.scale)}
		a.host.Insert(a.surface)
		slog.Debug("Playback surface created", "frame", a.surface.Frame)
	}

	a.releaseLocked()

	player, err := a.newPlayer(location, a.surface.Frame)
	if err != nil {
		return fmt.Errorf("failed to create player for %s: %w", location, err)
	}
	a.player = player
	a.surface.bind(player)

	if err := player.SeekToStart(ctx); err != nil {
		return fmt.Errorf("failed to rewind %s: %w", location, err)
	}
	if err := player.Play(ctx); err != nil {
		return fmt.Errorf("failed to play %s: %w", location, err)
	}

	slog.Info("Playing recording", "location", location)
	return nil
}

// Replay plays the current player again from the start
func (a *Attacher) Replay(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.player == nil {
		return ErrNoPlayer
	}
	if err := a.player.SeekToStart(ctx); err != nil {
		return fmt.Errorf("failed to rewind: %w", err)
	}
	if err := a.player.Play(ctx); err != nil {
		return fmt.Errorf("failed to replay: %w", err)
	}
	return nil
}

// Location returns the file of the current player, or ""
func (a *Attacher) Location() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.player == nil {
		return ""
	}
	return a.player.Location()
}

// Surface returns the playback surface, nil until the first attach
func (a *Attacher) Surface() *Surface {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.surface
}

// Close releases the current player
func (a *Attacher) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked()
	return nil
}

func (a *Attacher) releaseLocked() {
	if a.player == nil {
		return
	}
	if err := a.player.Pause(); err != nil {
		slog.Debug("Failed to pause previous player", "error", err)
	}
	if err := a.player.Close(); err != nil {
		slog.Warn("Failed to release previous player", "location", a.player.Location(), "error", err)
	}
	a.player = nil
	if a.surface != nil {
		a.surface.bind(nil)
	}
}

// ScreenHost is a fixed-size host, typically the display the player windows open on
type ScreenHost struct {
	Width  int
	Height int
}

func (h ScreenHost) Bounds() Rect {
	return Rect{Width: h.Width, Height: h.Height}
}

func (h ScreenHost) Insert(s *Surface) {
	slog.Debug("Surface inserted", "width", s.Frame.Width, "height", s.Frame.Height)
}
