package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/videorecorder/internal/device"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Prompter asks the user a yes/no question
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// PrompterFunc adapts a function to Prompter
type PrompterFunc func(ctx context.Context, question string) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

// AutoPrompter answers every question with the same decision
func AutoPrompter(granted bool) Prompter {
	return PrompterFunc(func(context.Context, string) (bool, error) { return granted, nil })
}

// ScanLines reads in line by line on a single goroutine and closes the
// returned channel at EOF. Every consumer of a terminal should share one
// channel so no reader buffers input meant for another.
func ScanLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// TerminalPrompter asks on a terminal and accepts y/yes. Answers come from
// Lines, usually ScanLines(os.Stdin).
type TerminalPrompter struct {
	Lines <-chan string
	Out   io.Writer
}

func (p TerminalPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprintf(p.Out, "%s [y/N]: ", question)

	select {
	case line := <-p.Lines:
		a := strings.ToLower(strings.TrimSpace(line))
		return a == "y" || a == "yes", nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type storeFile struct {
	Decisions   map[device.Kind]string `yaml:"decisions"`
	LastUpdated string                 `yaml:"last_updated"`
}

// Store persists access decisions in a YAML file
type Store struct {
	fs         afero.Fs
	path       string
	restricted map[device.Kind]bool
	prompter   Prompter

	mu sync.Mutex
}

// NewStore creates a file-backed authorizer. Kinds listed in restricted can
// never be authorized.
func NewStore(fs afero.Fs, path string, restricted []device.Kind, prompter Prompter) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	r := make(map[device.Kind]bool, len(restricted))
	for _, k := range restricted {
		r[k] = true
	}
	return &Store{fs: fs, path: path, restricted: r, prompter: prompter}
}

// DefaultStorePath is where decisions are kept when no path is configured
func DefaultStorePath() string {
	return os.ExpandEnv("$HOME/.config/videorecorder/permissions.yaml")
}

// Status returns the decision recorded for kind
func (s *Store) Status(kind device.Kind) Status {
	if s.restricted[kind] {
		return StatusRestricted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		slog.Warn("Failed to read permission store", "path", s.path, "error", err)
		return StatusNotDetermined
	}

	switch f.Decisions[kind] {
	case StatusAuthorized.String():
		return StatusAuthorized
	case StatusDenied.String():
		return StatusDenied
	}
	return StatusNotDetermined
}

// RequestAccess prompts in the background and records the answer
func (s *Store) RequestAccess(ctx context.Context, kind device.Kind) <-chan Result {
	result := make(chan Result, 1)

	go func() {
		if s.restricted[kind] {
			result <- Result{Granted: false}
			return
		}
		if s.prompter == nil {
			result <- Result{Err: fmt.Errorf("no prompter configured to ask for %s access", kind)}
			return
		}

		granted, err := s.prompter.Confirm(ctx, fmt.Sprintf("Allow videorecorder to access the %s capture device?", kind))
		if err != nil {
			result <- Result{Err: err}
			return
		}
		if err := s.Set(kind, granted); err != nil {
			result <- Result{Granted: granted, Err: err}
			return
		}
		result <- Result{Granted: granted}
	}()

	return result
}

// Set records a decision
func (s *Store) Set(kind device.Kind, granted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}

	decision := StatusDenied
	if granted {
		decision = StatusAuthorized
	}
	f.Decisions[kind] = decision.String()

	slog.Debug("Recording permission decision", "kind", kind, "decision", decision)
	return s.save(f)
}

// Reset forgets the decision for kind, or every decision when kind is empty
func (s *Store) Reset(kind device.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if kind == "" {
		f.Decisions = map[device.Kind]string{}
	} else {
		delete(f.Decisions, kind)
	}
	return s.save(f)
}

func (s *Store) load() (*storeFile, error) {
	f := &storeFile{Decisions: map[device.Kind]string{}}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read permission store: %w", err)
	}

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse permission store: %w", err)
	}
	if f.Decisions == nil {
		f.Decisions = map[device.Kind]string{}
	}
	return f, nil
}

func (s *Store) save(f *storeFile) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create permission directory: %w", err)
	}

	f.LastUpdated = time.Now().Format(time.RFC3339)
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal permission store: %w", err)
	}

	if err := afero.WriteFile(s.fs, s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write permission store: %w", err)
	}
	return nil
}
