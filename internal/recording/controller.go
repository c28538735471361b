package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/videorecorder/internal/capture"
	"github.com/google/uuid"
)

// State is the observable recording state
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
)

// ErrStopped is returned when the event loop is no longer running
var ErrStopped = errors.New("recording controller stopped")

// defaultShutdownTimeout bounds how long Run waits for the encoder to
// finalize an active recording on the way out
const defaultShutdownTimeout = 5 * time.Second

// Output is the part of a movie file output the controller drives
type Output interface {
	IsRecording() bool
	StartRecording(location string, delegate capture.RecordingDelegate) error
	StopRecording() error
}

// LocationProvider hands out a fresh file location per recording
type LocationProvider interface {
	NewLocation() (string, error)
}

// CompletionHandler receives the location of every finished recording,
// including recordings that finished with an error
type CompletionHandler interface {
	RecordingCompleted(ctx context.Context, location string, err error)
}

// CompletionFunc adapts a function to CompletionHandler
type CompletionFunc func(ctx context.Context, location string, err error)

func (f CompletionFunc) RecordingCompleted(ctx context.Context, location string, err error) {
	f(ctx, location, err)
}

// Snapshot is a point-in-time view of the controller
type Snapshot struct {
	State        State     `json:"state"`
	RecordingID  string    `json:"recording_id,omitempty"`
	Location     string    `json:"location,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastLocation string    `json:"last_location,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Completed    int       `json:"completed"`
}

type toggleCmd struct {
	reply chan error
}

type startedEvent struct {
	location string
}

type finishedEvent struct {
	location string
	err      error
}

// Controller owns the Idle/Recording state machine. Every command and
// output notification is handled on the goroutine running Run.
type Controller struct {
	output    Output
	locations LocationProvider
	onFinish  CompletionHandler

	events          chan any
	done            chan struct{}
	shutdownTimeout time.Duration

	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers map[chan Snapshot]struct{}
	stopped     bool

	// loop-owned
	pendingID string
}

// NewController creates a controller. onFinish may be nil.
func NewController(output Output, locations LocationProvider, onFinish CompletionHandler) *Controller {
	return &Controller{
		output:      output,
		locations:   locations,
		onFinish:    onFinish,
		events:          make(chan any, 16),
		done:            make(chan struct{}),
		shutdownTimeout: defaultShutdownTimeout,
		snapshot:        Snapshot{State: StateIdle},
		subscribers:     make(map[chan Snapshot]struct{}),
	}
}

// Run processes commands and notifications until ctx is cancelled. An
// active recording is stopped on the way out.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	slog.Debug("Recording controller started")

	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx)
			c.closeSubscribers()
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// shutdown stops an active recording and waits up to shutdownTimeout for
// its finished notification so the last location still reaches onFinish.
func (c *Controller) shutdown(ctx context.Context) {
	if !c.output.IsRecording() {
		return
	}

	slog.Info("Stopping active recording on shutdown")
	if err := c.output.StopRecording(); err != nil {
		slog.Warn("Failed to stop recording on shutdown", "error", err)
	}

	timeout := time.NewTimer(c.shutdownTimeout)
	defer timeout.Stop()
	for {
		select {
		case ev := <-c.events:
			switch e := ev.(type) {
			case toggleCmd:
				e.reply <- ErrStopped
			case finishedEvent:
				c.finished(ctx, e.location, e.err)
				return
			default:
				c.handle(ctx, ev)
			}
		case <-timeout.C:
			slog.Warn("Recording did not finish before shutdown", "location", c.Snapshot().Location, "timeout", c.shutdownTimeout)
			return
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev any) {
	switch e := ev.(type) {
	case toggleCmd:
		e.reply <- c.toggle()
	case startedEvent:
		c.started(e.location)
	case finishedEvent:
		c.finished(ctx, e.location, e.err)
	default:
		slog.Warn("Unknown recording event", "event", fmt.Sprintf("%T", ev))
	}
}

// Toggle starts a recording when idle and stops it when recording
func (c *Controller) Toggle(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.events <- toggleCmd{reply: reply}:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// The state comes from the output itself, so a toggle arriving before the
// finished notification issues another stop instead of a second start.
func (c *Controller) toggle() error {
	if c.output.IsRecording() {
		slog.Debug("Toggle: stopping recording")
		if err := c.output.StopRecording(); err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		return nil
	}

	location, err := c.locations.NewLocation()
	if err != nil {
		return fmt.Errorf("failed to allocate recording location: %w", err)
	}

	c.pendingID = uuid.New().String()
	slog.Debug("Toggle: starting recording", "recording_id", c.pendingID, "location", location)

	if err := c.output.StartRecording(location, c); err != nil {
		c.pendingID = ""
		return err
	}
	return nil
}

func (c *Controller) started(location string) {
	id := c.pendingID
	if id == "" {
		id = uuid.New().String()
	}

	slog.Info("Recording started", "recording_id", id, "location", location)
	c.update(func(s *Snapshot) {
		s.State = StateRecording
		s.RecordingID = id
		s.Location = location
		s.StartedAt = time.Now()
	})
}

func (c *Controller) finished(ctx context.Context, location string, err error) {
	c.mu.RLock()
	id := c.snapshot.RecordingID
	c.mu.RUnlock()

	if err != nil {
		slog.Error("Recording finished with error", "recording_id", id, "location", location, "error", err)
	} else {
		slog.Info("Recording finished", "recording_id", id, "location", location)
	}

	c.pendingID = ""
	c.update(func(s *Snapshot) {
		s.State = StateIdle
		s.RecordingID = ""
		s.Location = ""
		s.StartedAt = time.Time{}
		s.Completed++
		if location != "" {
			s.LastLocation = location
		}
		s.LastError = ""
		if err != nil {
			s.LastError = err.Error()
		}
	})

	if location == "" || c.onFinish == nil {
		return
	}
	c.onFinish.RecordingCompleted(ctx, location, err)
}

// RecordingStarted implements capture.RecordingDelegate
func (c *Controller) RecordingStarted(location string) {
	c.post(startedEvent{location: location})
}

// RecordingFinished implements capture.RecordingDelegate
func (c *Controller) RecordingFinished(location string, err error) {
	c.post(finishedEvent{location: location, err: err})
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
		slog.Debug("Dropping recording event after shutdown", "event", fmt.Sprintf("%T", ev))
	}
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Subscribe returns a channel receiving the latest snapshot after every
// change. Slow subscribers only see the most recent one. Once Run has
// returned the channel carries the final snapshot and is already closed.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	ch <- c.snapshot
	if c.stopped {
		close(ch)
		c.mu.Unlock()
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subscribers[ch]; ok {
				delete(c.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (c *Controller) update(fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.snapshot)
	for ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- c.snapshot
	}
}

func (c *Controller) closeSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for ch := range c.subscribers {
		delete(c.subscribers, ch)
		close(ch)
	}
}
