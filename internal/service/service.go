package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/audiolibrelab/videorecorder/internal/capture"
	"github.com/audiolibrelab/videorecorder/internal/config"
	"github.com/audiolibrelab/videorecorder/internal/device"
	"github.com/audiolibrelab/videorecorder/internal/permission"
	"github.com/audiolibrelab/videorecorder/internal/playback"
	"github.com/audiolibrelab/videorecorder/internal/recording"
	"github.com/audiolibrelab/videorecorder/internal/storage"
	"github.com/spf13/afero"
)

const closeTimeout = 10 * time.Second

// ErrNotConfigured is returned when recording is requested before Open succeeded
var ErrNotConfigured = errors.New("capture session is not configured")

// ErrBusy is returned when an operation needs the recorder to be idle
var ErrBusy = errors.New("recording in progress")

// Service represents the core videorecorder service interface
type Service interface {
	// Session lifecycle
	Open(ctx context.Context) error
	Run(ctx context.Context) error
	Close() error

	// Recording operations
	Toggle(ctx context.Context) error
	Status() Status
	Subscribe() (<-chan recording.Snapshot, func())

	// Playback operations
	Replay(ctx context.Context) error
	Play(ctx context.Context, name string) error

	// Recordings
	ListRecordings() ([]storage.Recording, error)
	OpenRecording(name string) (afero.File, error)
	DeleteRecording(name string) error

	// Devices
	Devices(ctx context.Context, kind device.Kind) ([]device.Device, error)

	// Configuration operations
	Reload(ctx context.Context, cfg *config.Config) error
	GetConfig() *config.Config

	GetLastError() string
}

// Status is the service state reported to the CLI and HTTP clients
type Status struct {
	State      recording.State    `json:"state"`
	Recording  recording.Snapshot `json:"recording"`
	Configured bool               `json:"configured"`
	Video      *device.Device     `json:"video,omitempty"`
	Audio      *device.Device     `json:"audio,omitempty"`
	Preset     capture.Preset     `json:"preset"`
	Directory  string             `json:"directory"`
	Playing    string             `json:"playing,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

// Option configures a VideoRecorderService
type Option func(*VideoRecorderService)

// WithDiscoverer replaces device discovery
func WithDiscoverer(d device.Discoverer) Option {
	return func(s *VideoRecorderService) { s.discoverer = d }
}

// WithAuthorizer replaces the permission store
func WithAuthorizer(a permission.Authorizer) Option {
	return func(s *VideoRecorderService) { s.authorizer = a }
}

// WithPrompter sets how undecided permissions are asked for
func WithPrompter(p permission.Prompter) Option {
	return func(s *VideoRecorderService) { s.prompter = p }
}

// WithEncoder replaces the ffmpeg encoder
func WithEncoder(e capture.Encoder) Option {
	return func(s *VideoRecorderService) { s.encoder = e }
}

// WithFileValidator replaces the finished file check
func WithFileValidator(v capture.FileValidator) Option {
	return func(s *VideoRecorderService) { s.validator = v }
}

// WithFs sets the filesystem holding recordings and permissions
func WithFs(fs afero.Fs) Option {
	return func(s *VideoRecorderService) { s.fs = fs }
}

// WithPlayerFactory replaces the external player programs
func WithPlayerFactory(f playback.Factory) Option {
	return func(s *VideoRecorderService) { s.playerFactory = f }
}

// WithHost sets the view playback surfaces are inserted into
func WithHost(h playback.Host) Option {
	return func(s *VideoRecorderService) { s.host = h }
}

// WithLogWriter sends ffmpeg and player output to w
func WithLogWriter(w io.Writer) Option {
	return func(s *VideoRecorderService) { s.logWriter = w }
}

// VideoRecorderService is the main service implementation. It owns the
// capture session, its output and the recording controller.
type VideoRecorderService struct {
	fs            afero.Fs
	discoverer    device.Discoverer
	authorizer    permission.Authorizer
	prompter      permission.Prompter
	encoder       capture.Encoder
	validator     capture.FileValidator
	playerFactory playback.Factory
	host          playback.Host
	logWriter     io.Writer

	customDiscoverer bool
	customAuthorizer bool
	customHost       bool

	session    *capture.Session
	output     *capture.MovieFileOutput
	controller *recording.Controller

	// sessionMu serializes toggles against session reconfiguration
	sessionMu sync.Mutex

	mu         sync.RWMutex
	cfg        *config.Config
	library    *storage.Library
	attacher   *playback.Attacher
	video      *device.Device
	audio      *device.Device
	configured bool

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new service from cfg
func New(cfg *config.Config, opts ...Option) *VideoRecorderService {
	s := &VideoRecorderService{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.logWriter == nil {
		s.logWriter = io.Discard
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.encoder == nil {
		s.encoder = capture.NewFFmpegEncoder(runtime.GOOS, s.logWriter)
	}
	if s.playerFactory == nil {
		s.playerFactory = func(location string, frame playback.Rect) (playback.Player, error) {
			s.mu.RLock()
			players := s.cfg.Playback.Players
			s.mu.RUnlock()
			return playback.NewProcessFactory(players, playback.ExecStarter(s.logWriter))(location, frame)
		}
	}
	s.customDiscoverer = s.discoverer != nil
	s.customAuthorizer = s.authorizer != nil
	s.customHost = s.host != nil

	outputOpts := []capture.OutputOption{capture.WithFrameRate(cfg.Capture.FrameRate)}
	if s.validator != nil {
		outputOpts = append(outputOpts, capture.WithFileValidator(s.validator))
	}
	s.session = capture.NewSession(capture.DefaultCapabilities())
	s.output = capture.NewMovieFileOutput(s.encoder, outputOpts...)
	s.controller = recording.NewController(s.output, s, recording.CompletionFunc(s.recordingCompleted))

	s.applyConfig(cfg)
	return s
}

// applyConfig rebuilds the config-derived collaborators. Callers hold mu or
// have exclusive access.
func (s *VideoRecorderService) applyConfig(cfg *config.Config) {
	s.cfg = cfg
	s.library = storage.New(s.fs, cfg.Output.Directory, storage.WithExtension(cfg.Output.Extension))
	s.output.SetFrameRate(cfg.Capture.FrameRate)

	if !s.customDiscoverer {
		s.discoverer = discovererFromConfig(cfg)
	}
	if !s.customAuthorizer {
		s.authorizer = permission.NewStore(s.fs, cfg.Permission.Store, kindsFromStrings(cfg.Permission.Restricted), s.prompter)
	}
	if !s.customHost {
		s.host = playback.ScreenHost{Width: cfg.Playback.ScreenWidth, Height: cfg.Playback.ScreenHeight}
	}

	if s.attacher != nil {
		_ = s.attacher.Close()
	}
	s.attacher = playback.NewAttacher(s.host, cfg.Playback.Scale, s.playerFactory)
}

func discovererFromConfig(cfg *config.Config) device.Discoverer {
	if len(cfg.Devices) == 0 {
		return device.NewDiscoverer(cfg.Capture.Backend)
	}

	devices := make(device.StaticDiscoverer, 0, len(cfg.Devices))
	for _, def := range cfg.Devices {
		position, _ := device.ParsePosition(def.Position)
		devices = append(devices, device.Device{
			ID:       def.Device,
			Name:     def.Name,
			Kind:     device.Kind(def.Kind),
			Type:     device.Type(def.Type),
			Position: position,
		})
	}
	return devices
}

func kindsFromStrings(values []string) []device.Kind {
	kinds := make([]device.Kind, 0, len(values))
	for _, v := range values {
		kinds = append(kinds, device.Kind(v))
	}
	return kinds
}

// Open passes the permission gate, selects devices and configures the
// capture session
func (s *VideoRecorderService) Open(ctx context.Context) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(ctx); err != nil {
		s.setLastError(err.Error())
		return err
	}
	s.clearLastError()
	return nil
}

func (s *VideoRecorderService) openLocked(ctx context.Context) error {
	cfg := s.cfg
	audioEnabled := cfg.Capture.AudioEnabled()

	kinds := []device.Kind{device.KindVideo}
	if audioEnabled {
		kinds = append(kinds, device.KindAudio)
	}
	if err := permission.Gate(ctx, s.authorizer, kinds...); err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}

	position, err := device.ParsePosition(cfg.Capture.VideoPosition)
	if err != nil {
		return err
	}
	videoTypes, err := device.ParseTypes(cfg.Capture.VideoTypes)
	if err != nil {
		return err
	}

	video, err := device.Select(ctx, s.discoverer, device.KindVideo, position, videoTypes)
	if err != nil {
		return fmt.Errorf("failed to select camera: %w", err)
	}

	var audio *device.Device
	if audioEnabled {
		audioTypes, err := device.ParseTypes(cfg.Capture.AudioTypes)
		if err != nil {
			return err
		}
		mic, err := device.Select(ctx, s.discoverer, device.KindAudio, device.PositionUnspecified, audioTypes)
		switch {
		case err == nil:
			audio = &mic
		case errors.Is(err, device.ErrUnavailable):
			slog.Warn("No microphone available, recording video only", "error", err)
		default:
			return fmt.Errorf("failed to select microphone: %w", err)
		}
	}

	preset, err := capture.ParsePreset(cfg.Capture.Preset)
	if err != nil {
		return err
	}

	if s.configured {
		if s.output.IsRecording() {
			return ErrBusy
		}
		if err := s.session.Reset(); err != nil {
			return fmt.Errorf("failed to reset capture session: %w", err)
		}
		s.configured = false
		s.video, s.audio = nil, nil
	}

	if err := capture.Configure(s.session, video, audio, preset, s.output); err != nil {
		return err
	}

	s.video = &video
	s.audio = audio
	s.configured = true
	return nil
}

// Run processes recording commands and notifications until ctx is cancelled
func (s *VideoRecorderService) Run(ctx context.Context) error {
	return s.controller.Run(ctx)
}

// Close stops any recording, releases the player and tears the session down
func (s *VideoRecorderService) Close() error {
	if s.output.IsRecording() {
		if err := s.output.StopRecording(); err != nil {
			slog.Warn("Failed to stop recording on close", "error", err)
		}
	}

	// let the encoder finalize the file before the session goes away
	deadline := time.Now().Add(closeTimeout)
	for s.output.IsRecording() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if s.output.IsRecording() {
		slog.Warn("Recording still finalizing on close", "location", s.output.Location())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.attacher.Close()
	if !s.configured {
		return nil
	}
	s.configured = false
	s.video, s.audio = nil, nil
	return s.session.Reset()
}

// Toggle starts or stops recording
func (s *VideoRecorderService) Toggle(ctx context.Context) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	s.mu.RLock()
	configured := s.configured
	s.mu.RUnlock()

	if !configured {
		return ErrNotConfigured
	}

	slog.Debug("Service.Toggle called")
	if err := s.controller.Toggle(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to toggle recording: %v", err))
		return err
	}
	return nil
}

// NewLocation hands the controller a fresh file in the current recordings directory
func (s *VideoRecorderService) NewLocation() (string, error) {
	s.mu.RLock()
	library := s.library
	s.mu.RUnlock()
	return library.NewLocation()
}

// recordingCompleted receives every finished recording location, including
// recordings that finished with an error
func (s *VideoRecorderService) recordingCompleted(ctx context.Context, location string, err error) {
	if err != nil {
		s.setLastError(fmt.Sprintf("Recording finished with error: %v", err))
	} else {
		s.clearLastError()
	}

	s.mu.RLock()
	autoPlay := s.cfg.Playback.AutoPlayEnabled()
	attacher := s.attacher
	s.mu.RUnlock()

	if !autoPlay {
		return
	}
	if ctx.Err() != nil {
		slog.Info("Recording saved during shutdown, not playing it", "location", location)
		return
	}
	if playErr := attacher.AttachAndPlay(ctx, location); playErr != nil {
		s.setLastError(fmt.Sprintf("Playback failed: %v", playErr))
	}
}

// Status returns the current service state
func (s *VideoRecorderService) Status() Status {
	snapshot := s.controller.Snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		State:      snapshot.State,
		Recording:  snapshot,
		Configured: s.configured,
		Video:      s.video,
		Audio:      s.audio,
		Preset:     s.session.Preset(),
		Directory:  s.library.Directory(),
		Playing:    s.attacher.Location(),
		LastError:  s.GetLastError(),
	}
}

// Subscribe streams recording snapshots
func (s *VideoRecorderService) Subscribe() (<-chan recording.Snapshot, func()) {
	return s.controller.Subscribe()
}

// Replay plays the current recording again from the start
func (s *VideoRecorderService) Replay(ctx context.Context) error {
	s.mu.RLock()
	attacher := s.attacher
	s.mu.RUnlock()

	return attacher.Replay(ctx)
}

// Play attaches the named recording, or the newest one when name is empty
func (s *VideoRecorderService) Play(ctx context.Context, name string) error {
	s.mu.RLock()
	library, attacher := s.library, s.attacher
	s.mu.RUnlock()

	var path string
	if name == "" {
		latest, err := library.Latest()
		if err != nil {
			return err
		}
		path = latest.Path
	} else {
		resolved, err := library.Resolve(name)
		if err != nil {
			return err
		}
		path = resolved
	}

	if err := attacher.AttachAndPlay(ctx, path); err != nil {
		s.setLastError(fmt.Sprintf("Playback failed: %v", err))
		return err
	}
	return nil
}

// ListRecordings returns recordings newest first
func (s *VideoRecorderService) ListRecordings() ([]storage.Recording, error) {
	s.mu.RLock()
	library := s.library
	s.mu.RUnlock()
	return library.List()
}

// OpenRecording opens a recording for streaming
func (s *VideoRecorderService) OpenRecording(name string) (afero.File, error) {
	s.mu.RLock()
	library := s.library
	s.mu.RUnlock()
	return library.Open(name)
}

// DeleteRecording removes a recording that is neither being written nor played
func (s *VideoRecorderService) DeleteRecording(name string) error {
	s.mu.RLock()
	library, attacher := s.library, s.attacher
	s.mu.RUnlock()

	path, err := library.Resolve(name)
	if err != nil {
		return err
	}
	if s.output.Location() == path {
		return ErrBusy
	}
	if attacher.Location() == path {
		_ = attacher.Close()
	}
	return library.Remove(name)
}

// Devices lists the capture devices of kind
func (s *VideoRecorderService) Devices(ctx context.Context, kind device.Kind) ([]device.Device, error) {
	s.mu.RLock()
	discoverer := s.discoverer
	s.mu.RUnlock()
	return discoverer.Devices(ctx, kind)
}

// Reload applies a new configuration and reconfigures the session when it
// was open. It refuses while recording.
func (s *VideoRecorderService) Reload(ctx context.Context, cfg *config.Config) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if s.output.IsRecording() {
		return ErrBusy
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wasConfigured := s.configured
	s.applyConfig(cfg)
	slog.Info("Configuration reloaded", "directory", cfg.Output.Directory, "preset", cfg.Capture.Preset)

	if !wasConfigured {
		return nil
	}
	if err := s.openLocked(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to reconfigure after reload: %v", err))
		return err
	}
	return nil
}

// GetConfig returns the current configuration
func (s *VideoRecorderService) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *VideoRecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *VideoRecorderService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *VideoRecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
