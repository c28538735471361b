package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultPlayers in order of preference
var DefaultPlayers = []string{"mpv", "ffplay", "vlc"}

const closeTimeout = 2 * time.Second

// Process is a running player program
type Process interface {
	Signal(sig os.Signal) error
	Kill() error
	Wait() error
}

// Starter launches a player program
type Starter func(name string, args ...string) (Process, error)

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p execProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p execProcess) Wait() error                { return p.cmd.Wait() }

// ExecStarter runs players as child processes with output sent to logWriter
func ExecStarter(logWriter io.Writer) Starter {
	if logWriter == nil {
		logWriter = io.Discard
	}
	return func(name string, args ...string) (Process, error) {
		cmd := exec.Command(name, args...)
		cmd.Stdout = logWriter
		cmd.Stderr = logWriter
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return execProcess{cmd: cmd}, nil
	}
}

// FindPlayer returns the first program of preference found by lookPath
func FindPlayer(preference []string, lookPath func(string) (string, error)) (string, error) {
	if len(preference) == 0 {
		preference = DefaultPlayers
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	for _, player := range preference {
		if _, err := lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no video player found (tried: %s)", strings.Join(preference, ", "))
}

// PlayerArgs builds the command line for binary playing location inside frame
func PlayerArgs(binary, location string, frame Rect) ([]string, error) {
	switch binary {
	case "mpv":
		args := []string{"--really-quiet", "--force-window=yes", "--keep-open=no"}
		if !frame.Empty() {
			args = append(args, fmt.Sprintf("--geometry=%dx%d+%d+%d", frame.Width, frame.Height, frame.X, frame.Y))
		}
		return append(args, "--", location), nil
	case "ffplay":
		args := []string{"-hide_banner", "-loglevel", "error", "-autoexit"}
		if !frame.Empty() {
			args = append(args,
				"-x", strconv.Itoa(frame.Width),
				"-y", strconv.Itoa(frame.Height),
				"-left", strconv.Itoa(frame.X),
				"-top", strconv.Itoa(frame.Y),
			)
		}
		return append(args, location), nil
	case "vlc":
		args := []string{"--play-and-exit", "--no-video-title-show"}
		if !frame.Empty() {
			args = append(args,
				"--width", strconv.Itoa(frame.Width),
				"--height", strconv.Itoa(frame.Height),
				"--video-x", strconv.Itoa(frame.X),
				"--video-y", strconv.Itoa(frame.Y),
			)
		}
		return append(args, location), nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", binary)
	}
}

// ProcessPlayer plays a file in an external program. Pausing suspends the
// process; rewinding ends it so the next Play starts from the beginning.
type ProcessPlayer struct {
	binary   string
	location string
	frame    Rect
	start    Starter

	mu      sync.Mutex
	process Process
	exited  chan struct{}
	paused  bool
}

// NewProcessPlayer creates a player for location. A nil starter runs real processes.
func NewProcessPlayer(binary, location string, frame Rect, start Starter) *ProcessPlayer {
	if start == nil {
		start = ExecStarter(nil)
	}
	return &ProcessPlayer{binary: binary, location: location, frame: frame, start: start}
}

// NewProcessFactory builds players with the first available program of preference
func NewProcessFactory(preference []string, start Starter) Factory {
	return func(location string, frame Rect) (Player, error) {
		binary, err := FindPlayer(preference, nil)
		if err != nil {
			return nil, err
		}
		if _, err := PlayerArgs(binary, location, frame); err != nil {
			return nil, err
		}
		return NewProcessPlayer(binary, location, frame, start), nil
	}
}

func (p *ProcessPlayer) Location() string {
	return p.location
}

// Binary returns the player program
func (p *ProcessPlayer) Binary() string {
	return p.binary
}

// Play starts the program, or resumes it when paused
func (p *ProcessPlayer) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.process != nil {
		if !p.paused {
			return nil
		}
		if err := p.process.Signal(syscall.SIGCONT); err != nil {
			return fmt.Errorf("failed to resume %s: %w", p.binary, err)
		}
		p.paused = false
		return nil
	}

	args, err := PlayerArgs(p.binary, p.location, p.frame)
	if err != nil {
		return err
	}

	slog.Debug("Starting player", "binary", p.binary, "args", args)
	process, err := p.start(p.binary, args...)
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", p.binary, err)
	}

	exited := make(chan struct{})
	p.process = process
	p.exited = exited
	p.paused = false

	go func() {
		err := process.Wait()
		p.mu.Lock()
		if p.process == process {
			p.process = nil
			p.paused = false
		}
		p.mu.Unlock()
		close(exited)

		if err != nil {
			slog.Debug("Player exited", "binary", p.binary, "error", err)
		}
	}()
	return nil
}

// Pause suspends the program. It is a no-op when nothing is playing.
func (p *ProcessPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.process == nil || p.paused {
		return nil
	}
	if err := p.process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("failed to pause %s: %w", p.binary, err)
	}
	p.paused = true
	return nil
}

// SeekToStart ends the running program so playback restarts from zero
func (p *ProcessPlayer) SeekToStart(ctx context.Context) error {
	return p.terminate(ctx)
}

// Close ends the running program
func (p *ProcessPlayer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return p.terminate(ctx)
}

func (p *ProcessPlayer) terminate(ctx context.Context) error {
	p.mu.Lock()
	process, exited, paused := p.process, p.exited, p.paused
	p.process = nil
	p.exited = nil
	p.paused = false
	p.mu.Unlock()

	if process == nil {
		return nil
	}

	// a stopped process cannot handle SIGTERM until resumed
	if paused {
		_ = process.Signal(syscall.SIGCONT)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		slog.Debug("Failed to signal player, killing", "binary", p.binary, "error", err)
		_ = process.Kill()
	}

	select {
	case <-exited:
		return nil
	case <-time.After(closeTimeout):
		slog.Warn("Player did not exit, killing", "binary", p.binary)
		if err := process.Kill(); err != nil {
			return fmt.Errorf("failed to kill %s: %w", p.binary, err)
		}
		<-exited
		return nil
	case <-ctx.Done():
		_ = process.Kill()
		return ctx.Err()
	}
}
