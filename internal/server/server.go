package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/audiolibrelab/videorecorder/internal/device"
	"github.com/audiolibrelab/videorecorder/internal/playback"
	"github.com/audiolibrelab/videorecorder/internal/recording"
	"github.com/audiolibrelab/videorecorder/internal/service"
	"github.com/audiolibrelab/videorecorder/internal/storage"
	"github.com/gorilla/websocket"
)

const (
	writeWait       = 5 * time.Second
	pingInterval    = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the recorder over HTTP
type Server struct {
	service service.Service
	port    string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status  service.Status `json:"status"`
	Message string         `json:"message"`
}

// DevicesResponse lists the capture devices per kind
type DevicesResponse struct {
	Video []device.Device `json:"video,omitempty"`
	Audio []device.Device `json:"audio,omitempty"`
}

// RecordingsResponse lists the recordings directory
type RecordingsResponse struct {
	Directory  string              `json:"directory"`
	Recordings []storage.Recording `json:"recordings"`
	Count      int                 `json:"count"`
}

// PlayRequest selects a recording to play. An empty name plays the newest.
type PlayRequest struct {
	Name string `json:"name"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, port string) *Server {
	return &Server{service: svc, port: port}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/toggle", s.handleToggle)
	mux.HandleFunc("/replay", s.handleReplay)
	mux.HandleFunc("/play", s.handlePlay)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/recordings", s.handleRecordings)
	mux.HandleFunc("/recordings/", s.handleRecording)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting VideoRecorder Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down web server: %w", err)
	}
	slog.Info("Web server stopped")
	return nil
}

// handleIndex serves a minimal control page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleStatus returns the current recorder status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	status := s.service.Status()
	sendJSON(w, http.StatusOK, StatusResponse{
		Status:  status,
		Message: generateStatusMessage(status),
	})
}

func generateStatusMessage(status service.Status) string {
	switch {
	case !status.Configured:
		return "Capture session not configured"
	case status.State == recording.StateRecording:
		return fmt.Sprintf("Recording to %s", status.Recording.Location)
	case status.Playing != "":
		return fmt.Sprintf("Ready, playing %s", status.Playing)
	default:
		return "Ready to record"
	}
}

// handleToggle starts or stops recording
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	wasRecording := s.service.Status().State == recording.StateRecording
	if err := s.service.Toggle(r.Context()); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to toggle recording: %v", err),
			"operation", "toggle")
		return
	}

	message := "Recording requested"
	if wasRecording {
		message = "Stop requested"
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: message})
}

// handleReplay restarts the current playback
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.Replay(r.Context()); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to replay: %v", err),
			"operation", "replay")
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Replaying"})
}

// handlePlay attaches a recording to the player
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req PlayRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	}
	if req.Name == "" {
		req.Name = r.URL.Query().Get("name")
	}

	if err := s.service.Play(r.Context(), req.Name); err != nil {
		s.sendErrorResponse(w, statusForError(err),
			fmt.Sprintf("Failed to play recording: %v", err),
			"operation", "play", "name", req.Name)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Playing " + s.service.Status().Playing})
}

// handleDevices lists capture devices, optionally filtered with ?kind=
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	kinds := []device.Kind{device.KindVideo, device.KindAudio}
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := device.ParseKind(raw)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		kinds = []device.Kind{kind}
	}

	var response DevicesResponse
	for _, kind := range kinds {
		devices, err := s.service.Devices(r.Context(), kind)
		if err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to list %s devices: %v", kind, err),
				"operation", "devices")
			return
		}
		if kind == device.KindVideo {
			response.Video = devices
		} else {
			response.Audio = devices
		}
	}
	sendJSON(w, http.StatusOK, response)
}

// handleConfig returns the resolved configuration
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	sendJSON(w, http.StatusOK, s.service.GetConfig())
}

// handleRecordings lists the recordings directory
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err),
			"operation", "list_recordings")
		return
	}
	if recordings == nil {
		recordings = []storage.Recording{}
	}

	sendJSON(w, http.StatusOK, RecordingsResponse{
		Directory:  s.service.Status().Directory,
		Recordings: recordings,
		Count:      len(recordings),
	})
}

// handleRecording streams (GET) or deletes (DELETE) one recording
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/recordings/")
	if name == "" {
		http.Error(w, "Recording name required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.streamRecording(w, r, name)
	case http.MethodDelete:
		if err := s.service.DeleteRecording(name); err != nil {
			s.sendErrorResponse(w, statusForError(err),
				fmt.Sprintf("Failed to delete recording: %v", err),
				"operation", "delete_recording", "name", name)
			return
		}
		sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Deleted " + name})
	default:
		w.Header().Set("Allow", "GET, HEAD, DELETE")
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) streamRecording(w http.ResponseWriter, r *http.Request, name string) {
	file, err := s.service.OpenRecording(name)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "video/quicktime")
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, name, info.ModTime(), file)
}

// handleEvents upgrades to a websocket and pushes a snapshot on every
// recording state change
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.service.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeEvent(conn, snapshot); err != nil {
				slog.Debug("Websocket client gone", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, snapshot recording.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snapshot)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrNotConfigured), errors.Is(err, service.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, playback.ErrNoPlayer):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	sendJSON(w, http.StatusMethodNotAllowed, GenericResponse{Success: false, Error: "Method not allowed"})
	return false
}

func sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// sendErrorResponse sends a structured error response and logs the error
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	sendJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

// getLocalIP returns the outbound interface address for the startup banner
func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>VideoRecorder</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: sans-serif; text-align: center; padding: 40px; }
        button { font-size: 1.5em; padding: 20px 40px; border-radius: 12px; border: none; }
        .idle { background: #c0392b; color: white; }
        .recording { background: #7f8c8d; color: white; }
    </style>
</head>
<body>
    <h1>VideoRecorder</h1>
    <p id="state">connecting...</p>
    <button id="toggle" class="idle" onclick="fetch('/toggle', {method: 'POST'})">Record</button>
    <button onclick="fetch('/replay', {method: 'POST'})">Replay</button>
    <p id="last"></p>
    <script>
        const proto = location.protocol === 'https:' ? 'wss' : 'ws';
        const ws = new WebSocket(proto + '://' + location.host + '/events');
        ws.onmessage = (msg) => {
            const s = JSON.parse(msg.data);
            const recording = s.state === 'RECORDING';
            document.getElementById('state').textContent = recording ? 'Recording ' + s.location : 'Idle';
            const button = document.getElementById('toggle');
            button.textContent = recording ? 'Stop' : 'Record';
            button.className = recording ? 'recording' : 'idle';
            document.getElementById('last').textContent = s.last_location ? 'Last: ' + s.last_location : '';
        };
        ws.onclose = () => { document.getElementById('state').textContent = 'disconnected'; };
    </script>
</body>
</html>`
