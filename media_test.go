package screenrecorder

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVideoFrameValidate(t *testing.T) {
	ok := &VideoFrame{Width: 4, Height: 2, Stride: 16, PixelFormat: PixelFormatRGBA, Data: make([]byte, 32)}
	require.NoError(t, ok.Validate())

	for name, f := range map[string]*VideoFrame{
		"nil":        nil,
		"short":      {Width: 4, Height: 2, Stride: 16, PixelFormat: PixelFormatRGBA, Data: make([]byte, 31)},
		"stride":     {Width: 4, Height: 2, Stride: 8, PixelFormat: PixelFormatBGRA, Data: make([]byte, 32)},
		"zero":       {Width: 0, Height: 2, Stride: 16, PixelFormat: PixelFormatRGBA, Data: make([]byte, 32)},
		"format":     {Width: 4, Height: 2, Stride: 16, PixelFormat: PixelFormatUndefined, Data: make([]byte, 32)},
		"i420_short": {Width: 4, Height: 2, Stride: 4, PixelFormat: PixelFormatI420, Data: make([]byte, 11)},
	} {
		err := f.Validate()
		var formatErr FormatError
		require.True(t, errors.As(err, &formatErr), name)
	}

	i420 := &VideoFrame{Width: 3, Height: 3, Stride: 3, PixelFormat: PixelFormatI420, Data: make([]byte, PixelFormatI420.FrameSize(3, 3))}
	require.NoError(t, i420.Validate())
}

func TestAudioBlockDuration(t *testing.T) {
	b := &AudioBlock{SampleRate: 48000, Channels: 2, SampleFormat: SampleFormatS16LE, Data: make([]byte, 960*2*2)}
	require.Equal(t, 960, b.Samples())
	require.Equal(t, 20*time.Millisecond, b.Duration())
	require.Equal(t, 960, DurationSamples(20*time.Millisecond, 48000))

	empty := &AudioBlock{SampleRate: 48000, SampleFormat: SampleFormatF32LE, Data: make([]byte, 16)}
	require.Zero(t, empty.Samples())
}

func TestIsFatal(t *testing.T) {
	require.False(t, IsFatal(nil))
	require.False(t, IsFatal(FormatError{Reason: "x"}))
	require.False(t, IsFatal(fmt.Errorf("wrapped: %w", AudioFormatError{Reason: "x"})))
	require.False(t, IsFatal(ErrTimeout))
	require.True(t, IsFatal(EncodeError{Track: TrackKindVideo, Err: errors.New("boom")}))
	require.True(t, IsFatal(MuxError{Err: errors.New("disk full")}))
	require.True(t, errors.Is(ResourceError{Resource: "screen", Err: ErrClosed}, ErrClosed))
}

func TestEnumText(t *testing.T) {
	var k AudioSourceKind
	require.NoError(t, k.UnmarshalText([]byte("loopback")))
	require.Equal(t, AudioSourceKindLoopback, k)

	var s SessionState
	require.NoError(t, s.UnmarshalJSON([]byte(`"paused"`)))
	require.Equal(t, SessionStatePaused, s)
	require.True(t, SessionStateFailed.IsTerminal())
	require.False(t, SessionStateRecording.IsTerminal())
}
