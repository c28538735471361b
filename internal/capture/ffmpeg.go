package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/videorecorder/internal/device"
)

const (
	stopTimeout      = 5 * time.Second
	minMovieFileSize = 1024
)

// FFmpegEncoder writes movie files with an ffmpeg child process
type FFmpegEncoder struct {
	binary    string
	goos      string
	logWriter io.Writer
}

// NewFFmpegEncoder creates an encoder for the given platform. ffmpeg output
// is copied to logWriter when it is not nil.
func NewFFmpegEncoder(goos string, logWriter io.Writer) *FFmpegEncoder {
	if logWriter == nil {
		logWriter = io.Discard
	}
	return &FFmpegEncoder{binary: "ffmpeg", goos: goos, logWriter: logWriter}
}

// BuildArgs constructs the ffmpeg command line for a recording
func (e *FFmpegEncoder) BuildArgs(spec EncodeSpec) ([]string, error) {
	args := []string{"-hide_banner", "-nostdin"}

	frameRate := spec.FrameRate
	if frameRate <= 0 {
		frameRate = defaultFrameRate
	}

	switch e.goos {
	case "darwin":
		// avfoundation takes "video:audio" device indices in one input
		input := spec.Video.ID + ":"
		if spec.Audio != nil {
			input += spec.Audio.ID
		} else {
			input += "none"
		}
		args = append(args,
			"-f", "avfoundation",
			"-framerate", strconv.Itoa(frameRate),
			"-video_size", spec.Preset.VideoSize(),
			"-i", input,
		)

	case "linux":
		args = append(args,
			"-f", "v4l2",
			"-framerate", strconv.Itoa(frameRate),
			"-video_size", spec.Preset.VideoSize(),
			"-i", spec.Video.ID,
		)
		if spec.Audio != nil {
			if node, ok := strings.CutPrefix(spec.Audio.ID, device.PulsePrefix); ok {
				args = append(args, "-f", "pulse", "-i", node)
			} else {
				args = append(args, "-f", "alsa", "-i", spec.Audio.ID)
			}
		}

	default:
		return nil, fmt.Errorf("video capture not supported on %s", e.goos)
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(frameRate*2),
	)
	if spec.Audio != nil {
		args = append(args, "-c:a", "aac")
	} else {
		args = append(args, "-an")
	}

	// file: keeps the timestamp's colons from being read as a protocol prefix
	args = append(args, "-y", "file:"+spec.Location)
	return args, nil
}

// Start launches ffmpeg writing spec.Location
func (e *FFmpegEncoder) Start(ctx context.Context, spec EncodeSpec) (Process, error) {
	args, err := e.BuildArgs(spec)
	if err != nil {
		return nil, err
	}

	slog.Info("Starting FFmpeg capture", "command", e.binary+" "+strings.Join(args, " "))

	cmd := exec.Command(e.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	p := &ffmpegProcess{cmd: cmd, done: make(chan struct{}), logWriter: e.logWriter}
	p.readers.Add(2)
	go p.readOutput(stdout, "stdout")
	go p.readOutput(stderr, "stderr")
	go p.wait()

	return p, nil
}

type ffmpegProcess struct {
	cmd       *exec.Cmd
	logWriter io.Writer

	readers  sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
	waitErr  error

	bufMu     sync.Mutex
	stderrBuf strings.Builder
}

// readOutput reads from a pipe and buffers stderr for error reports
func (p *ffmpegProcess) readOutput(pipe io.ReadCloser, label string) {
	defer p.readers.Done()
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(p.logWriter, line)
		if label == "stderr" {
			p.bufMu.Lock()
			p.stderrBuf.WriteString(line + "\n")
			p.bufMu.Unlock()
		}
	}
}

func (p *ffmpegProcess) wait() {
	// pipes must be drained before Wait closes them
	p.readers.Wait()
	p.waitErr = normalizeExit(p.cmd.Wait())
	if p.waitErr != nil {
		p.bufMu.Lock()
		slog.Debug("FFmpeg stderr", "output", p.stderrBuf.String())
		p.bufMu.Unlock()
	}
	close(p.done)
}

// Stop sends SIGINT so ffmpeg finalizes the container, then kills it if it
// has not exited within the timeout
func (p *ffmpegProcess) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if p.cmd.Process == nil {
			return
		}

		slog.Debug("Sending SIGINT to FFmpeg process")
		if sigErr := p.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			slog.Debug("Failed to send interrupt to FFmpeg, killing", "error", sigErr)
			if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = fmt.Errorf("failed to stop FFmpeg: %w", killErr)
			}
			return
		}

		go func() {
			select {
			case <-p.done:
			case <-time.After(stopTimeout):
				slog.Warn("FFmpeg did not exit within timeout, force killing")
				p.cmd.Process.Kill()
			}
		}()
	})
	return err
}

// Wait blocks until ffmpeg exits
func (p *ffmpegProcess) Wait() error {
	<-p.done
	return p.waitErr
}

// normalizeExit treats the exits ffmpeg produces on interrupt as success
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Exit code 255 is ffmpeg's graceful exit after an interrupt
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
	}
	return fmt.Errorf("FFmpeg process failed: %w", err)
}

// ValidateMovieFile checks that a finished recording exists and is not empty
func ValidateMovieFile(location string) error {
	info, err := os.Stat(location)
	if err != nil {
		return fmt.Errorf("recording file not found: %s", location)
	}
	if info.Size() < minMovieFileSize {
		return fmt.Errorf("recording failed: file too small (%d bytes)", info.Size())
	}
	return nil
}
