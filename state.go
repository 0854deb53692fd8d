package screenrecorder

import (
	"encoding/json"
	"fmt"
	"time"
)

type SessionState uint

const (
	SessionStateUndefined = SessionState(iota)
	SessionStateIdle
	SessionStateStarting
	SessionStateRecording
	SessionStatePaused
	SessionStateStopping
	SessionStateStopped
	SessionStateFailed
	EndOfSessionState
)

func (s SessionState) String() string {
	switch s {
	case SessionStateUndefined:
		return "<undefined>"
	case SessionStateIdle:
		return "idle"
	case SessionStateStarting:
		return "starting"
	case SessionStateRecording:
		return "recording"
	case SessionStatePaused:
		return "paused"
	case SessionStateStopping:
		return "stopping"
	case SessionStateStopped:
		return "stopped"
	case SessionStateFailed:
		return "failed"
	}
	return fmt.Sprintf("unexpected_session_state_%d", uint(s))
}

func (s SessionState) IsTerminal() bool {
	return s == SessionStateStopped || s == SessionStateFailed
}

func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SessionState) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, s, SessionStateUndefined, EndOfSessionState, "SessionState")
}

// Status is a periodic snapshot of a running session.
type Status struct {
	SessionID string        `json:"session_id"`
	State     SessionState  `json:"state"`
	Elapsed   time.Duration `json:"elapsed"`

	VideoFramesCaptured uint64 `json:"video_frames_captured"`
	VideoFramesDropped  uint64 `json:"video_frames_dropped"`
	VideoFramesEncoded  uint64 `json:"video_frames_encoded"`

	AudioBlocksCaptured  uint64        `json:"audio_blocks_captured"`
	AudioSilenceInserted time.Duration `json:"audio_silence_inserted"`
	AudioDuration        time.Duration `json:"audio_duration"`
	AudioLevelDB         float64       `json:"audio_level_db"`

	PacketsMuxed uint64         `json:"packets_muxed"`
	QueueDepths  map[string]int `json:"queue_depths,omitempty"`
}

// ContainerInfo describes a finalized output.
type ContainerInfo struct {
	Path            string                    `json:"path"`
	Tracks          []TrackDescriptor         `json:"tracks"`
	PacketsPerTrack map[TrackID]uint64        `json:"packets_per_track"`
	DurationByTrack map[TrackID]time.Duration `json:"duration_by_track"`
}

// Summary is the final report of a session.
type Summary struct {
	Status
	Container *ContainerInfo `json:"container,omitempty"`

	// OutputValid is false if the container could not be finalized.
	OutputValid bool   `json:"output_valid"`
	Error       string `json:"error,omitempty"`
}

// Observer receives status snapshots and state transitions.
//
// Callbacks are invoked from the session's goroutines and must not block.
type Observer interface {
	OnStatus(Status)
	OnStateChange(from, to SessionState, err error)
}

// ObserverFunc adapts a plain status callback to Observer.
type ObserverFunc func(Status)

var _ Observer = ObserverFunc(nil)

func (fn ObserverFunc) OnStatus(s Status) {
	fn(s)
}

func (fn ObserverFunc) OnStateChange(from, to SessionState, err error) {}

// Observers fans out notifications to multiple observers.
type Observers []Observer

var _ Observer = Observers(nil)

func (s Observers) OnStatus(st Status) {
	for _, o := range s {
		o.OnStatus(st)
	}
}

func (s Observers) OnStateChange(from, to SessionState, err error) {
	for _, o := range s {
		o.OnStateChange(from, to, err)
	}
}
