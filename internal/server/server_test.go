package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/videorecorder/internal/config"
	"github.com/audiolibrelab/videorecorder/internal/device"
	"github.com/audiolibrelab/videorecorder/internal/playback"
	"github.com/audiolibrelab/videorecorder/internal/recording"
	"github.com/audiolibrelab/videorecorder/internal/service"
	"github.com/audiolibrelab/videorecorder/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu         sync.Mutex
	status     service.Status
	toggleErr  error
	replayErr  error
	played     []string
	deleted    []string
	fs         afero.Fs
	library    *storage.Library
	subscriber chan recording.Snapshot
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/rec/take.mov", []byte("0123456789"), 0644))
	return &fakeService{
		status:     service.Status{State: recording.StateIdle, Configured: true, Directory: "/rec"},
		fs:         fs,
		library:    storage.New(fs, "/rec"),
		subscriber: make(chan recording.Snapshot, 4),
	}
}

func (f *fakeService) Open(context.Context) error { return nil }
func (f *fakeService) Run(context.Context) error  { return nil }
func (f *fakeService) Close() error               { return nil }

func (f *fakeService) Toggle(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return f.toggleErr
	}
	if f.status.State == recording.StateIdle {
		f.status.State = recording.StateRecording
	} else {
		f.status.State = recording.StateIdle
	}
	return nil
}

func (f *fakeService) Status() service.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status
	s.Recording.State = s.State
	return s
}

// Subscribe queues the current snapshot first, as the controller does
func (f *fakeService) Subscribe() (<-chan recording.Snapshot, func()) {
	f.subscriber <- f.Status().Recording
	return f.subscriber, func() {}
}

func (f *fakeService) Replay(context.Context) error { return f.replayErr }

func (f *fakeService) Play(_ context.Context, name string) error {
	if name != "" {
		if _, err := f.library.Resolve(name); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, name)
	f.status.Playing = name
	return nil
}

func (f *fakeService) ListRecordings() ([]storage.Recording, error) { return f.library.List() }

func (f *fakeService) OpenRecording(name string) (afero.File, error) { return f.library.Open(name) }

func (f *fakeService) DeleteRecording(name string) error {
	if name == "busy.mov" {
		return service.ErrBusy
	}
	if err := f.library.Remove(name); err != nil {
		return err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeService) Devices(_ context.Context, kind device.Kind) ([]device.Device, error) {
	if kind == device.KindVideo {
		return []device.Device{{ID: "0", Name: "Camera", Kind: device.KindVideo, Type: device.TypeWideAngle}}, nil
	}
	return []device.Device{{ID: "1", Name: "Mic", Kind: device.KindAudio, Type: device.TypeMicrophone}}, nil
}

func (f *fakeService) Reload(context.Context, *config.Config) error { return nil }
func (f *fakeService) GetConfig() *config.Config                    { return config.Default() }
func (f *fakeService) GetLastError() string                         { return "" }

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestStatus(t *testing.T) {
	h := New(newFakeService(t), "0").Handler()

	rec := do(t, h, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[StatusResponse](t, rec)
	assert.Equal(t, recording.StateIdle, resp.Status.State)
	assert.Equal(t, "Ready to record", resp.Message)

	rec = do(t, h, http.MethodPost, "/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestToggle(t *testing.T) {
	svc := newFakeService(t)
	h := New(svc, "0").Handler()

	rec := do(t, h, http.MethodPost, "/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Recording requested", decode[GenericResponse](t, rec).Message)
	assert.Equal(t, recording.StateRecording, svc.Status().State)

	rec = do(t, h, http.MethodPost, "/toggle", nil)
	assert.Equal(t, "Stop requested", decode[GenericResponse](t, rec).Message)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/toggle", nil).Code)
}

func TestToggle_NotConfigured(t *testing.T) {
	svc := newFakeService(t)
	svc.toggleErr = service.ErrNotConfigured
	h := New(svc, "0").Handler()

	rec := do(t, h, http.MethodPost, "/toggle", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[GenericResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not configured")
}

func TestReplay_NothingAttached(t *testing.T) {
	svc := newFakeService(t)
	svc.replayErr = playback.ErrNoPlayer
	h := New(svc, "0").Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/replay", nil).Code)
}

func TestPlay(t *testing.T) {
	svc := newFakeService(t)
	h := New(svc, "0").Handler()

	rec := do(t, h, http.MethodPost, "/play", strings.NewReader(`{"name":"take.mov"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/play?name=missing.mov", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/play", strings.NewReader(`{bad`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"take.mov"}, svc.played)
}

func TestDevices(t *testing.T) {
	h := New(newFakeService(t), "0").Handler()

	rec := do(t, h, http.MethodGet, "/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[DevicesResponse](t, rec)
	assert.Len(t, resp.Video, 1)
	assert.Len(t, resp.Audio, 1)

	rec = do(t, h, http.MethodGet, "/devices?kind=audio", nil)
	resp = decode[DevicesResponse](t, rec)
	assert.Empty(t, resp.Video)
	assert.Equal(t, "Mic", resp.Audio[0].Name)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/devices?kind=screen", nil).Code)
}

func TestRecordings(t *testing.T) {
	svc := newFakeService(t)
	h := New(svc, "0").Handler()

	rec := do(t, h, http.MethodGet, "/recordings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[RecordingsResponse](t, rec)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "take.mov", list.Recordings[0].Name)

	rec = do(t, h, http.MethodGet, "/recordings/take.mov", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/quicktime", rec.Header().Get("Content-Type"))
	assert.Equal(t, "0123456789", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/recordings/take.mov", nil)
	req.Header.Set("Range", "bytes=2-4")
	ranged := httptest.NewRecorder()
	h.ServeHTTP(ranged, req)
	assert.Equal(t, http.StatusPartialContent, ranged.Code)
	assert.Equal(t, "234", ranged.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/recordings/missing.mov", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/recordings/.hidden", nil).Code)
}

func TestDeleteRecording(t *testing.T) {
	svc := newFakeService(t)
	h := New(svc, "0").Handler()

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodDelete, "/recordings/busy.mov", nil).Code)

	rec := do(t, h, http.MethodDelete, "/recordings/take.mov", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"take.mov"}, svc.deleted)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/recordings/take.mov", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPut, "/recordings/take.mov", nil).Code)
}

func TestEvents(t *testing.T) {
	svc := newFakeService(t)
	ts := httptest.NewServer(New(svc, "0").Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var initial recording.Snapshot
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, recording.StateIdle, initial.State)

	svc.subscriber <- recording.Snapshot{State: recording.StateRecording, Location: "/rec/next.mov"}

	var update recording.Snapshot
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, recording.StateRecording, update.State, "initial state is sent once")
	assert.Equal(t, "/rec/next.mov", update.Location)

	close(svc.subscriber)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestIndex(t *testing.T) {
	h := New(newFakeService(t), "0").Handler()

	rec := do(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/events")

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope", nil).Code)
}
