package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/videorecorder/internal/device"
)

// Input attaches a capture device to a session
type Input struct {
	Device device.Device
}

// NewDeviceInput wraps a selected device
func NewDeviceInput(d device.Device) (*Input, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("device %q has no identifier", d.Name)
	}
	if d.Kind != device.KindVideo && d.Kind != device.KindAudio {
		return nil, fmt.Errorf("device %q has unsupported kind %q", d.Name, d.Kind)
	}
	return &Input{Device: d}, nil
}

// Capabilities bound what a session accepts
type Capabilities struct {
	MaxVideoInputs int
	MaxAudioInputs int
	Presets        []Preset
}

// DefaultCapabilities accept one camera, one microphone and every preset
func DefaultCapabilities() Capabilities {
	return Capabilities{MaxVideoInputs: 1, MaxAudioInputs: 1, Presets: AllPresets}
}

type sessionState struct {
	inputs []*Input
	output *MovieFileOutput
	preset Preset
}

func (s sessionState) clone() sessionState {
	c := s
	c.inputs = append([]*Input(nil), s.inputs...)
	return c
}

func (s sessionState) count(kind device.Kind) int {
	n := 0
	for _, in := range s.inputs {
		if in.Device.Kind == kind {
			n++
		}
	}
	return n
}

// Session is a capture pipeline description. Inputs, output and preset are
// only mutated between BeginConfiguration and CommitConfiguration; changes
// are staged and become visible atomically on commit.
type Session struct {
	mu        sync.RWMutex
	caps      Capabilities
	committed sessionState
	staged    *sessionState
}

// NewSession creates an empty session with the given capabilities
func NewSession(caps Capabilities) *Session {
	return &Session{caps: caps, committed: sessionState{preset: DefaultPreset}}
}

// BeginConfiguration opens a configuration bracket
func (s *Session) BeginConfiguration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged != nil {
		return ErrAlreadyConfiguring
	}
	staged := s.committed.clone()
	s.staged = &staged
	return nil
}

// CommitConfiguration applies every staged change
func (s *Session) CommitConfiguration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return ErrNotConfiguring
	}

	previous := s.committed.output
	s.committed = *s.staged
	s.staged = nil

	if previous != nil && previous != s.committed.output {
		previous.detach(s)
	}
	if s.committed.output != nil {
		s.committed.output.attach(s)
	}

	slog.Debug("Capture session configuration committed", "inputs", len(s.committed.inputs), "preset", s.committed.preset)
	return nil
}

// AbortConfiguration discards staged changes and leaves the committed state untouched
func (s *Session) AbortConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged != nil && s.staged.output != nil && s.staged.output != s.committed.output {
		s.staged.output.release(s)
	}
	s.staged = nil
}

// IsConfiguring reports whether a bracket is open
func (s *Session) IsConfiguring() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staged != nil
}

// CanAddInput checks an input against capabilities and what is already staged
func (s *Session) CanAddInput(in *Input) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.committed
	if s.staged != nil {
		state = *s.staged
	}
	return s.canAddInput(state, in)
}

func (s *Session) canAddInput(state sessionState, in *Input) bool {
	if in == nil {
		return false
	}
	for _, existing := range state.inputs {
		if existing.Device.Kind == in.Device.Kind && existing.Device.ID == in.Device.ID {
			return false
		}
	}

	switch in.Device.Kind {
	case device.KindVideo:
		return state.count(device.KindVideo) < s.caps.MaxVideoInputs
	case device.KindAudio:
		return state.count(device.KindAudio) < s.caps.MaxAudioInputs
	}
	return false
}

// AddInput stages an input
func (s *Session) AddInput(in *Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return ErrNotConfiguring
	}
	if !s.canAddInput(*s.staged, in) {
		return fmt.Errorf("input cannot be added to session")
	}
	s.staged.inputs = append(s.staged.inputs, in)
	return nil
}

// RemoveInput stages the removal of an input
func (s *Session) RemoveInput(in *Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return ErrNotConfiguring
	}
	for i, existing := range s.staged.inputs {
		if existing == in {
			s.staged.inputs = append(s.staged.inputs[:i:i], s.staged.inputs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("input is not part of session")
}

// CanSetPreset reports whether the session supports the preset
func (s *Session) CanSetPreset(p Preset) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, supported := range s.caps.Presets {
		if supported == p {
			return true
		}
	}
	return false
}

// SetPreset stages a preset
func (s *Session) SetPreset(p Preset) error {
	if !s.CanSetPreset(p) {
		return fmt.Errorf("preset %s is not supported", p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return ErrNotConfiguring
	}
	s.staged.preset = p
	return nil
}

// CanAddOutput reports whether the output can be staged on this session
func (s *Session) CanAddOutput(out *MovieFileOutput) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.committed
	if s.staged != nil {
		state = *s.staged
	}
	return s.canAddOutput(state, out)
}

func (s *Session) canAddOutput(state sessionState, out *MovieFileOutput) bool {
	if out == nil || state.output != nil {
		return false
	}
	return out.available(s)
}

// AddOutput stages the file output
func (s *Session) AddOutput(out *MovieFileOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return ErrNotConfiguring
	}
	if !s.canAddOutput(*s.staged, out) {
		return fmt.Errorf("output cannot be added to session")
	}
	out.reserve(s)
	s.staged.output = out
	return nil
}

// RemoveOutput stages the removal of the file output
func (s *Session) RemoveOutput() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return ErrNotConfiguring
	}
	s.staged.output = nil
	return nil
}

// Inputs returns the committed inputs
func (s *Session) Inputs() []*Input {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Input(nil), s.committed.inputs...)
}

// Output returns the committed output, or nil
func (s *Session) Output() *MovieFileOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.output
}

// Preset returns the committed preset
func (s *Session) Preset() Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.preset
}

// input returns the committed input of the given kind
func (s *Session) input(kind device.Kind) *Input {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, in := range s.committed.inputs {
		if in.Device.Kind == kind {
			return in
		}
	}
	return nil
}

// Reset tears the session down to its unconfigured state
func (s *Session) Reset() error {
	if err := s.BeginConfiguration(); err != nil {
		return err
	}

	s.mu.Lock()
	s.staged.inputs = nil
	s.staged.output = nil
	s.staged.preset = DefaultPreset
	s.mu.Unlock()

	return s.CommitConfiguration()
}
