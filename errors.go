package screenrecorder

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by blocking calls that gave up waiting.
	ErrTimeout = errors.New("timeout")

	// ErrClosed is returned by sources and queues that will not produce anything anymore.
	ErrClosed = errors.New("closed")

	ErrNotStarted     = errors.New("the session is not started")
	ErrInvalidState   = errors.New("the operation is not allowed in the current state")
	ErrNotImplemented = errors.New("not implemented")
)

// ConfigError is returned when the configuration is invalid; nothing was allocated.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid config: %s", e.Reason)
	}
	return fmt.Sprintf("invalid config field '%s': %s", e.Field, e.Reason)
}

// ResourceError is returned when a source, device, file or other
// external resource cannot be acquired or was lost.
type ResourceError struct {
	Resource string
	Err      error
}

func (e ResourceError) Error() string {
	return fmt.Sprintf("resource '%s' failure: %v", e.Resource, e.Err)
}

func (e ResourceError) Unwrap() error {
	return e.Err
}

// FormatError is returned for a malformed or unsupported video frame.
type FormatError struct {
	Reason string
}

func (e FormatError) Error() string {
	return fmt.Sprintf("unsupported video frame format: %s", e.Reason)
}

// AudioFormatError is returned for an unsupported audio sample format or channel layout.
type AudioFormatError struct {
	Reason string
}

func (e AudioFormatError) Error() string {
	return fmt.Sprintf("unsupported audio format: %s", e.Reason)
}

type EncoderInitError struct {
	Codec string
	Err   error
}

func (e EncoderInitError) Error() string {
	return fmt.Sprintf("unable to initialize encoder '%s': %v", e.Codec, e.Err)
}

func (e EncoderInitError) Unwrap() error {
	return e.Err
}

type EncodeError struct {
	Track TrackKind
	Err   error
}

func (e EncodeError) Error() string {
	return fmt.Sprintf("unable to encode %s: %v", e.Track, e.Err)
}

func (e EncodeError) Unwrap() error {
	return e.Err
}

type MuxError struct {
	Err error
}

func (e MuxError) Error() string {
	return fmt.Sprintf("muxer failure: %v", e.Err)
}

func (e MuxError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the error must stop the recording.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var (
		formatErr      FormatError
		audioFormatErr AudioFormatError
	)
	switch {
	case errors.As(err, &formatErr), errors.As(err, &audioFormatErr):
		return false
	case errors.Is(err, ErrTimeout):
		return false
	}
	return true
}
