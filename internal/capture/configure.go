package capture

import (
	"errors"
	"log/slog"

	"github.com/audiolibrelab/videorecorder/internal/device"
)

// Configure attaches the video input, the optional audio input, the preset
// and the file output inside a single configuration bracket. Either every
// attachment is committed or the bracket is aborted and the session keeps
// its previous state.
func Configure(session *Session, video device.Device, audio *device.Device, preset Preset, output *MovieFileOutput) (err error) {
	if err := session.BeginConfiguration(); err != nil {
		return &ConfigurationError{Stage: StageBegin, Reason: "cannot open configuration", Err: err}
	}

	committed := false
	defer func() {
		if !committed {
			session.AbortConfiguration()
			slog.Debug("Capture session configuration aborted", "error", err)
		}
	}()

	videoInput, err := NewDeviceInput(video)
	if err != nil {
		return &ConfigurationError{Stage: StageVideoInput, Reason: "invalid device", Err: err}
	}
	if video.Kind != device.KindVideo || !session.CanAddInput(videoInput) {
		return &ConfigurationError{Stage: StageVideoInput, Reason: "incompatible input " + video.Name}
	}
	if err := session.AddInput(videoInput); err != nil {
		return &ConfigurationError{Stage: StageVideoInput, Reason: "add failed", Err: err}
	}

	if err := applyPreset(session, preset); err != nil {
		return err
	}

	if audio != nil {
		audioInput, err := NewDeviceInput(*audio)
		if err != nil {
			return &ConfigurationError{Stage: StageAudioInput, Reason: "invalid device", Err: err}
		}
		if audio.Kind != device.KindAudio || !session.CanAddInput(audioInput) {
			return &ConfigurationError{Stage: StageAudioInput, Reason: "incompatible input " + audio.Name}
		}
		if err := session.AddInput(audioInput); err != nil {
			return &ConfigurationError{Stage: StageAudioInput, Reason: "add failed", Err: err}
		}
	}

	if output == nil || !session.CanAddOutput(output) {
		return &ConfigurationError{Stage: StageOutput, Reason: "output cannot be added"}
	}
	if err := session.AddOutput(output); err != nil {
		return &ConfigurationError{Stage: StageOutput, Reason: "add failed", Err: err}
	}

	if err := session.CommitConfiguration(); err != nil {
		if errors.Is(err, ErrNotConfiguring) {
			committed = true
		}
		return &ConfigurationError{Stage: StageCommit, Reason: "commit failed", Err: err}
	}
	committed = true

	slog.Info("Capture session configured", "video", video.Name, "audio", audio != nil, "preset", session.Preset())
	return nil
}

// applyPreset stages preset when the session supports it. An unsupported
// preset keeps the session default.
func applyPreset(session *Session, preset Preset) error {
	if !session.CanSetPreset(preset) {
		slog.Warn("Session preset not supported, keeping default", "preset", preset, "default", session.Preset())
		return nil
	}
	if err := session.SetPreset(preset); err != nil {
		return &ConfigurationError{Stage: StagePreset, Reason: "preset failed", Err: err}
	}
	return nil
}
