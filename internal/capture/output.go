package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/videorecorder/internal/device"
)

// RecordingDelegate receives recording notifications. Both methods are
// called from the output's own goroutine, never from the caller of
// StartRecording or StopRecording.
type RecordingDelegate interface {
	RecordingStarted(location string)
	RecordingFinished(location string, err error)
}

// EncodeSpec is everything an encoder needs to write one movie file
type EncodeSpec struct {
	Video     device.Device
	Audio     *device.Device
	Preset    Preset
	FrameRate int
	Location  string
}

// Encoder starts the external pipeline that writes a movie file
type Encoder interface {
	Start(ctx context.Context, spec EncodeSpec) (Process, error)
}

// Process is a running encoder
type Process interface {
	// Stop asks the encoder to finalize the file
	Stop() error
	// Wait blocks until the encoder exits
	Wait() error
}

// FileValidator checks a finished movie file
type FileValidator func(location string) error

// MovieFileOutput serializes the session's inputs into a movie file
type MovieFileOutput struct {
	encoder   Encoder
	validate  FileValidator
	frameRate int

	mu          sync.Mutex
	owner       *Session
	reserved    *Session
	isRecording bool
	location    string
	startedAt   time.Time
	process     Process
}

// OutputOption configures a MovieFileOutput
type OutputOption func(*MovieFileOutput)

// WithFileValidator replaces the default size check on finished files
func WithFileValidator(v FileValidator) OutputOption {
	return func(o *MovieFileOutput) { o.validate = v }
}

// WithFrameRate sets the capture frame rate passed to the encoder
func WithFrameRate(fps int) OutputOption {
	return func(o *MovieFileOutput) {
		if fps > 0 {
			o.frameRate = fps
		}
	}
}

// NewMovieFileOutput creates an output writing through the encoder
func NewMovieFileOutput(encoder Encoder, opts ...OutputOption) *MovieFileOutput {
	o := &MovieFileOutput{
		encoder:   encoder,
		validate:  ValidateMovieFile,
		frameRate: defaultFrameRate,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// IsRecording reports whether a recording is active. It stays true until
// the finished notification has been issued.
func (o *MovieFileOutput) IsRecording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isRecording
}

// Location returns the target of the active recording, or ""
func (o *MovieFileOutput) Location() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.location
}

// SetFrameRate changes the frame rate used by the next recording
func (o *MovieFileOutput) SetFrameRate(fps int) {
	if fps <= 0 {
		return
	}
	o.mu.Lock()
	o.frameRate = fps
	o.mu.Unlock()
}

// StartRecording begins writing to location. Notifications go to delegate.
func (o *MovieFileOutput) StartRecording(location string, delegate RecordingDelegate) error {
	if location == "" {
		return fmt.Errorf("recording location is required")
	}

	o.mu.Lock()
	if o.isRecording {
		o.mu.Unlock()
		return ErrAlreadyRecording
	}
	session := o.owner
	if session == nil {
		o.mu.Unlock()
		return ErrNotConnected
	}
	o.isRecording = true
	o.location = location
	frameRate := o.frameRate
	o.mu.Unlock()

	spec, err := o.buildSpec(session, location, frameRate)
	if err == nil {
		var process Process
		process, err = o.encoder.Start(context.Background(), spec)
		if err == nil {
			o.mu.Lock()
			o.process = process
			o.startedAt = time.Now()
			o.mu.Unlock()

			go o.monitor(process, location, delegate)
			return nil
		}
	}

	o.mu.Lock()
	o.isRecording = false
	o.location = ""
	o.mu.Unlock()
	return fmt.Errorf("failed to start recording: %w", err)
}

func (o *MovieFileOutput) buildSpec(session *Session, location string, frameRate int) (EncodeSpec, error) {
	video := session.input(device.KindVideo)
	if video == nil {
		return EncodeSpec{}, ErrNotConnected
	}

	spec := EncodeSpec{
		Video:     video.Device,
		Preset:    session.Preset(),
		FrameRate: frameRate,
		Location:  location,
	}
	if audio := session.input(device.KindAudio); audio != nil {
		d := audio.Device
		spec.Audio = &d
	}
	return spec, nil
}

// monitor issues the started notification, waits for the encoder and issues the finished one
func (o *MovieFileOutput) monitor(process Process, location string, delegate RecordingDelegate) {
	if delegate != nil {
		delegate.RecordingStarted(location)
	}

	err := process.Wait()
	if err == nil && o.validate != nil {
		err = o.validate(location)
	}

	o.mu.Lock()
	duration := time.Since(o.startedAt)
	o.isRecording = false
	o.location = ""
	o.process = nil
	o.mu.Unlock()

	if err != nil {
		slog.Warn("Recording finished with error", "location", location, "duration", duration, "error", err)
	} else {
		slog.Debug("Recording finished", "location", location, "duration", duration)
	}

	if delegate != nil {
		delegate.RecordingFinished(location, err)
	}
}

// StopRecording asks the encoder to finalize. It is a no-op when idle or
// when a stop is already pending.
func (o *MovieFileOutput) StopRecording() error {
	o.mu.Lock()
	process := o.process
	o.mu.Unlock()

	if process == nil {
		return nil
	}
	return process.Stop()
}

func (o *MovieFileOutput) available(s *Session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return (o.owner == nil || o.owner == s) && (o.reserved == nil || o.reserved == s)
}

func (o *MovieFileOutput) reserve(s *Session) {
	o.mu.Lock()
	o.reserved = s
	o.mu.Unlock()
}

func (o *MovieFileOutput) release(s *Session) {
	o.mu.Lock()
	if o.reserved == s {
		o.reserved = nil
	}
	o.mu.Unlock()
}

func (o *MovieFileOutput) attach(s *Session) {
	o.mu.Lock()
	o.owner = s
	o.reserved = nil
	o.mu.Unlock()
}

func (o *MovieFileOutput) detach(s *Session) {
	o.mu.Lock()
	if o.owner == s {
		o.owner = nil
	}
	o.mu.Unlock()
}
