package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationRejected is matched by every ConfigurationError
	ErrConfigurationRejected = errors.New("capture session rejected configuration")
	ErrNotConfiguring        = errors.New("session is not inside a configuration bracket")
	ErrAlreadyConfiguring    = errors.New("session configuration already in progress")
	ErrAlreadyRecording      = errors.New("a recording is already in progress")
	ErrNotConnected          = errors.New("output is not attached to a configured session")
)

// Stage names the configuration step that failed
type Stage string

const (
	StageBegin      Stage = "begin"
	StageVideoInput Stage = "video input"
	StagePreset     Stage = "preset"
	StageAudioInput Stage = "audio input"
	StageOutput     Stage = "file output"
	StageCommit     Stage = "commit"
)

// ConfigurationError reports a rejected session attachment
type ConfigurationError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture session rejected %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("capture session rejected %s: %s", e.Stage, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfigurationRejected
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
