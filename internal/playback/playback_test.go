package playback

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	location string
	calls    []string
	playErr  error
}

func (p *fakePlayer) Location() string { return p.location }

func (p *fakePlayer) Play(context.Context) error {
	p.calls = append(p.calls, "play")
	return p.playErr
}

func (p *fakePlayer) Pause() error {
	p.calls = append(p.calls, "pause")
	return nil
}

func (p *fakePlayer) SeekToStart(context.Context) error {
	p.calls = append(p.calls, "seek")
	return nil
}

func (p *fakePlayer) Close() error {
	p.calls = append(p.calls, "close")
	return nil
}

type fakeHost struct {
	bounds   Rect
	inserted []*Surface
}

func (h *fakeHost) Bounds() Rect      { return h.bounds }
func (h *fakeHost) Insert(s *Surface) { h.inserted = append(h.inserted, s) }

type recordingFactory struct {
	players []*fakePlayer
	frames  []Rect
	err     error
}

func (f *recordingFactory) new(location string, frame Rect) (Player, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePlayer{location: location}
	f.players = append(f.players, p)
	f.frames = append(f.frames, frame)
	return p, nil
}

func TestAttacher_FirstAttachCreatesSurface(t *testing.T) {
	host := &fakeHost{bounds: Rect{Width: 1920, Height: 1080}}
	factory := &recordingFactory{}
	a := NewAttacher(host, 0, factory.new)

	require.NoError(t, a.AttachAndPlay(context.Background(), "/rec/a.mov"))

	require.Len(t, host.inserted, 1)
	assert.Equal(t, Rect{Width: 480, Height: 270}, host.inserted[0].Frame)
	assert.Equal(t, "/rec/a.mov", host.inserted[0].Location())

	require.Len(t, factory.players, 1)
	assert.Equal(t, []string{"seek", "play"}, factory.players[0].calls)
	assert.Equal(t, Rect{Width: 480, Height: 270}, factory.frames[0])
}

func TestAttacher_ReattachReleasesPreviousPlayer(t *testing.T) {
	host := &fakeHost{bounds: Rect{Width: 800, Height: 600}}
	factory := &recordingFactory{}
	a := NewAttacher(host, 0.5, factory.new)
	ctx := context.Background()

	require.NoError(t, a.AttachAndPlay(ctx, "/rec/a.mov"))
	require.NoError(t, a.AttachAndPlay(ctx, "/rec/b.mov"))

	assert.Len(t, host.inserted, 1, "surface is reused")
	require.Len(t, factory.players, 2)
	assert.Equal(t, []string{"seek", "play", "pause", "close"}, factory.players[0].calls)
	assert.Equal(t, []string{"seek", "play"}, factory.players[1].calls)
	assert.Equal(t, "/rec/b.mov", a.Location())
	assert.Equal(t, "/rec/b.mov", a.Surface().Location())
	assert.Equal(t, Rect{Width: 400, Height: 300}, a.Surface().Frame)
}

func TestAttacher_ReplayWithoutPlayer(t *testing.T) {
	a := NewAttacher(&fakeHost{}, 0, (&recordingFactory{}).new)
	assert.ErrorIs(t, a.Replay(context.Background()), ErrNoPlayer)
}

func TestAttacher_ReplayReusesPlayer(t *testing.T) {
	factory := &recordingFactory{}
	a := NewAttacher(&fakeHost{bounds: Rect{Width: 100, Height: 100}}, 0, factory.new)
	ctx := context.Background()

	require.NoError(t, a.AttachAndPlay(ctx, "/rec/a.mov"))
	require.NoError(t, a.Replay(ctx))

	require.Len(t, factory.players, 1)
	assert.Equal(t, []string{"seek", "play", "seek", "play"}, factory.players[0].calls)
}

func TestAttacher_FactoryFailureLeavesNoPlayer(t *testing.T) {
	factory := &recordingFactory{}
	a := NewAttacher(&fakeHost{}, 0, factory.new)
	ctx := context.Background()

	require.NoError(t, a.AttachAndPlay(ctx, "/rec/a.mov"))
	factory.err = errors.New("no video player found")

	assert.Error(t, a.AttachAndPlay(ctx, "/rec/b.mov"))
	assert.Equal(t, "", a.Location())
	assert.ErrorIs(t, a.Replay(ctx), ErrNoPlayer)
	assert.Equal(t, []string{"seek", "play", "pause", "close"}, factory.players[0].calls)
}

func TestAttacher_EmptyLocation(t *testing.T) {
	a := NewAttacher(&fakeHost{}, 0, (&recordingFactory{}).new)
	assert.Error(t, a.AttachAndPlay(context.Background(), ""))
	assert.Nil(t, a.Surface())
}

func TestFindPlayer(t *testing.T) {
	available := map[string]bool{"ffplay": true, "vlc": true}
	lookPath := func(name string) (string, error) {
		if available[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}

	player, err := FindPlayer(nil, lookPath)
	require.NoError(t, err)
	assert.Equal(t, "ffplay", player)

	player, err = FindPlayer([]string{"vlc", "ffplay"}, lookPath)
	require.NoError(t, err)
	assert.Equal(t, "vlc", player)

	_, err = FindPlayer([]string{"mpv"}, lookPath)
	assert.EqualError(t, err, "no video player found (tried: mpv)")
}

func TestPlayerArgs(t *testing.T) {
	frame := Rect{X: 10, Y: 20, Width: 480, Height: 270}

	args, err := PlayerArgs("mpv", "/rec/a.mov", frame)
	require.NoError(t, err)
	assert.Equal(t, []string{"--really-quiet", "--force-window=yes", "--keep-open=no", "--geometry=480x270+10+20", "--", "/rec/a.mov"}, args)

	args, err = PlayerArgs("ffplay", "/rec/a.mov", frame)
	require.NoError(t, err)
	assert.Equal(t, []string{"-hide_banner", "-loglevel", "error", "-autoexit", "-x", "480", "-y", "270", "-left", "10", "-top", "20", "/rec/a.mov"}, args)

	args, err = PlayerArgs("vlc", "/rec/a.mov", Rect{})
	require.NoError(t, err)
	assert.Equal(t, []string{"--play-and-exit", "--no-video-title-show", "/rec/a.mov"}, args)

	_, err = PlayerArgs("aplay", "/rec/a.mov", frame)
	assert.Error(t, err)
}

type fakeProcess struct {
	mu      sync.Mutex
	signals []os.Signal
	exit    chan struct{}
	once    sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exit: make(chan struct{})}
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if sig == syscall.SIGTERM {
		p.once.Do(func() { close(p.exit) })
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() { close(p.exit) })
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.exit
	return nil
}

func (p *fakeProcess) received() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

type fakeStarter struct {
	mu        sync.Mutex
	processes []*fakeProcess
	args      [][]string
}

func (s *fakeStarter) start(name string, args ...string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := newFakeProcess()
	s.processes = append(s.processes, p)
	s.args = append(s.args, append([]string{name}, args...))
	return p, nil
}

func TestProcessPlayer_PauseResume(t *testing.T) {
	starter := &fakeStarter{}
	p := NewProcessPlayer("ffplay", "/rec/a.mov", Rect{}, starter.start)
	ctx := context.Background()

	require.NoError(t, p.Play(ctx))
	require.NoError(t, p.Play(ctx), "second play while running is a no-op")
	require.Len(t, starter.processes, 1)

	require.NoError(t, p.Pause())
	require.NoError(t, p.Pause())
	require.NoError(t, p.Play(ctx))

	assert.Equal(t, []os.Signal{syscall.SIGSTOP, syscall.SIGCONT}, starter.processes[0].received())
	assert.Equal(t, []string{"ffplay", "-hide_banner", "-loglevel", "error", "-autoexit", "/rec/a.mov"}, starter.args[0])

	require.NoError(t, p.Close())
}

func TestProcessPlayer_SeekRestartsProcess(t *testing.T) {
	starter := &fakeStarter{}
	p := NewProcessPlayer("mpv", "/rec/a.mov", Rect{}, starter.start)
	ctx := context.Background()

	require.NoError(t, p.SeekToStart(ctx), "seek before play is a no-op")
	require.NoError(t, p.Play(ctx))
	require.NoError(t, p.Pause())
	require.NoError(t, p.SeekToStart(ctx))
	require.NoError(t, p.Play(ctx))

	require.Len(t, starter.processes, 2)
	assert.Equal(t, []os.Signal{syscall.SIGSTOP, syscall.SIGCONT, syscall.SIGTERM}, starter.processes[0].received())

	require.NoError(t, p.Close())
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, starter.processes[1].received())
}

func TestProcessPlayer_PauseWhenIdle(t *testing.T) {
	p := NewProcessPlayer("vlc", "/rec/a.mov", Rect{}, (&fakeStarter{}).start)
	assert.NoError(t, p.Pause())
	assert.NoError(t, p.Close())
}
