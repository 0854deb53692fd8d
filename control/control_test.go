package control

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/screenrecorder"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type fakeRecorder struct {
	locker sync.Mutex
	state  screenrecorder.SessionState
	stops  int
}

func (r *fakeRecorder) Pause(ctx context.Context) error {
	r.locker.Lock()
	defer r.locker.Unlock()
	if r.state != screenrecorder.SessionStateRecording {
		return screenrecorder.ErrInvalidState
	}
	r.state = screenrecorder.SessionStatePaused
	return nil
}

func (r *fakeRecorder) Resume(ctx context.Context) error {
	r.locker.Lock()
	defer r.locker.Unlock()
	if r.state != screenrecorder.SessionStatePaused {
		return screenrecorder.ErrInvalidState
	}
	r.state = screenrecorder.SessionStateRecording
	return nil
}

func (r *fakeRecorder) Stop(ctx context.Context) (*screenrecorder.Summary, error) {
	r.locker.Lock()
	defer r.locker.Unlock()
	r.stops++
	r.state = screenrecorder.SessionStateStopped
	return &screenrecorder.Summary{
		Status: r.statusLocked(),
		Container: &screenrecorder.ContainerInfo{
			Path: "/tmp/out.flv",
			Tracks: []screenrecorder.TrackDescriptor{{
				ID:         0,
				Kind:       screenrecorder.TrackKindVideo,
				VideoCodec: screenrecorder.VideoCodecMJPEG,
				Width:      1280,
				Height:     720,
				FrameRate:  30,
			}},
			PacketsPerTrack: map[screenrecorder.TrackID]uint64{0: 150},
			DurationByTrack: map[screenrecorder.TrackID]time.Duration{0: 5 * time.Second},
		},
		OutputValid: true,
	}, nil
}

func (r *fakeRecorder) Status() screenrecorder.Status {
	r.locker.Lock()
	defer r.locker.Unlock()
	return r.statusLocked()
}

func (r *fakeRecorder) statusLocked() screenrecorder.Status {
	return screenrecorder.Status{
		SessionID:           "test-session",
		State:               r.state,
		Elapsed:             1500 * time.Millisecond,
		VideoFramesCaptured: 45,
		VideoFramesDropped:  2,
		VideoFramesEncoded:  43,
		AudioDuration:       1480 * time.Millisecond,
		AudioLevelDB:        -12.5,
		QueueDepths:         map[string]int{"video_capture": 3},
	}
}

func newTestClient(t *testing.T, recorder Recorder) *Client {
	ctx, cancelFn := context.WithCancel(context.Background())
	listener := bufconn.Listen(1 << 20)
	srv := NewServer(recorder)

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancelFn()
		require.NoError(t, <-served)
	})

	return NewClient("passthrough:///bufconn", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}))
}

func TestControl(t *testing.T) {
	ctx := context.Background()
	recorder := &fakeRecorder{state: screenrecorder.SessionStateRecording}
	client := newTestClient(t, recorder)

	require.NoError(t, client.Pause(ctx))
	require.Equal(t, screenrecorder.SessionStatePaused, recorder.Status().State)
	require.ErrorIs(t, client.Pause(ctx), screenrecorder.ErrInvalidState)

	st, err := client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, recorder.Status(), *st)

	require.NoError(t, client.Resume(ctx))
	require.ErrorIs(t, client.Resume(ctx), screenrecorder.ErrInvalidState)

	summary, err := client.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, screenrecorder.SessionStateStopped, summary.State)
	require.True(t, summary.OutputValid)
	require.Equal(t, "/tmp/out.flv", summary.Container.Path)
	require.Equal(t, uint64(150), summary.Container.PacketsPerTrack[0])
	require.Equal(t, 5*time.Second, summary.Container.DurationByTrack[0])
	require.Equal(t, screenrecorder.VideoCodecMJPEG, summary.Container.Tracks[0].VideoCodec)
	require.Equal(t, 1, recorder.stops)
}

type failedRecorder struct {
	fakeRecorder
}

func (r *failedRecorder) Stop(ctx context.Context) (*screenrecorder.Summary, error) {
	err := screenrecorder.MuxError{Err: context.DeadlineExceeded}
	return &screenrecorder.Summary{
		Status: screenrecorder.Status{State: screenrecorder.SessionStateFailed},
		Error:  err.Error(),
	}, err
}

func TestControlStopFailedSession(t *testing.T) {
	client := newTestClient(t, &failedRecorder{})

	summary, err := client.Stop(context.Background())
	require.Error(t, err)
	require.NotNil(t, summary)
	require.Equal(t, screenrecorder.SessionStateFailed, summary.State)
	require.False(t, summary.OutputValid)
	require.Equal(t, summary.Error, err.Error())
}
