package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// DefaultExtension is the container extension of every recording
const DefaultExtension = "mov"

// ErrNotFound is returned for names that do not match a recording
var ErrNotFound = errors.New("recording not found")

// ErrInvalidName is returned for names that would escape the directory
var ErrInvalidName = errors.New("invalid recording name")

// Recording describes a finished movie file
type Recording struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
}

// Library owns the recordings directory
type Library struct {
	fs        afero.Fs
	directory string
	extension string
	now       func() time.Time
}

// Option configures a Library
type Option func(*Library)

// WithClock replaces time.Now for location generation
func WithClock(now func() time.Time) Option {
	return func(l *Library) { l.now = now }
}

// WithExtension overrides the movie extension
func WithExtension(ext string) Option {
	return func(l *Library) {
		if ext = strings.TrimPrefix(ext, "."); ext != "" {
			l.extension = ext
		}
	}
}

// New creates a library rooted at directory on fs. A nil fs uses the OS filesystem.
func New(fs afero.Fs, directory string, opts ...Option) *Library {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	l := &Library{fs: fs, directory: directory, extension: DefaultExtension, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Directory returns the recordings directory
func (l *Library) Directory() string {
	return l.directory
}

// NewLocation returns a fresh path named after the current UTC time in RFC 3339
// form. Names sort chronologically; a numeric suffix resolves collisions within
// the same second.
func (l *Library) NewLocation() (string, error) {
	if err := l.fs.MkdirAll(l.directory, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	base := l.now().UTC().Format(time.RFC3339)
	path := filepath.Join(l.directory, base+"."+l.extension)

	for i := 1; ; i++ {
		exists, err := afero.Exists(l.fs, path)
		if err != nil {
			return "", fmt.Errorf("failed to check recording location: %w", err)
		}
		if !exists {
			return path, nil
		}
		path = filepath.Join(l.directory, fmt.Sprintf("%s-%d.%s", base, i, l.extension))
	}
}

// List returns recordings newest first
func (l *Library) List() ([]Recording, error) {
	if err := l.fs.MkdirAll(l.directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	files, err := afero.ReadDir(l.fs, l.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recordings []Recording
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if !strings.EqualFold(strings.TrimPrefix(filepath.Ext(file.Name()), "."), l.extension) {
			continue
		}

		recordings = append(recordings, Recording{
			Name:         file.Name(),
			Path:         filepath.Join(l.directory, file.Name()),
			Size:         file.Size(),
			SizeHuman:    formatBytes(file.Size()),
			ModTime:      file.ModTime(),
			ModTimeHuman: file.ModTime().Format("2006-01-02 15:04:05"),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		if recordings[i].ModTime.Equal(recordings[j].ModTime) {
			return recordings[i].Name > recordings[j].Name
		}
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

// Latest returns the newest recording
func (l *Library) Latest() (Recording, error) {
	recordings, err := l.List()
	if err != nil {
		return Recording{}, err
	}
	if len(recordings) == 0 {
		return Recording{}, fmt.Errorf("%w in %s", ErrNotFound, l.directory)
	}
	return recordings[0], nil
}

// Resolve maps a recording name to its path, refusing names outside the directory
func (l *Library) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Join(l.directory, name)
	if _, err := l.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to stat recording: %w", err)
	}
	return path, nil
}

// Open opens a recording for reading
func (l *Library) Open(name string) (afero.File, error) {
	path, err := l.Resolve(name)
	if err != nil {
		return nil, err
	}
	return l.fs.Open(path)
}

// Remove deletes a recording
func (l *Library) Remove(name string) error {
	path, err := l.Resolve(name)
	if err != nil {
		return err
	}
	if err := l.fs.Remove(path); err != nil {
		return fmt.Errorf("failed to remove recording: %w", err)
	}
	slog.Info("Recording removed", "path", path)
	return nil
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
