package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/codec"
)

func testConfig(t *testing.T, width, height uint32) screenrecorder.RecorderConfig {
	cfg := screenrecorder.DefaultConfig()
	cfg.OutputPath = filepath.Join(t.TempDir(), "out.flv")
	cfg.Video.ScreenWidth = width
	cfg.Video.ScreenHeight = height
	cfg.Video.FrameRate = 25
	cfg.Audio.Sources = []screenrecorder.AudioSourceConfig{{
		ID:      "mic",
		Kind:    screenrecorder.AudioSourceKindMicrophone,
		Enabled: true,
	}}
	cfg.SourceTimeout = 5 * time.Millisecond
	cfg.StatusInterval = 10 * time.Millisecond
	return cfg
}

// stubVideo is a fast video transform emitting a tiny MJPEG-looking packet per frame.
type stubVideo struct {
	params  screenrecorder.VideoEncoderParams
	delay   time.Duration
	encoded atomic.Uint64
	closed  atomic.Bool
}

var _ screenrecorder.VideoTransform = (*stubVideo)(nil)

func (v *stubVideo) Encode(ctx context.Context, frame *screenrecorder.VideoFrame) ([]screenrecorder.EncodedPacket, error) {
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	v.encoded.Add(1)
	return []screenrecorder.EncodedPacket{{
		TrackID:    v.params.TrackID,
		Data:       []byte{0xff, 0xd8, 0xff, 0xd9},
		PTS:        frame.Timestamp,
		DTS:        frame.Timestamp,
		Duration:   time.Second / time.Duration(v.params.FrameRate),
		IsKeyFrame: true,
	}}, nil
}

func (v *stubVideo) Flush(ctx context.Context) ([]screenrecorder.EncodedPacket, error) {
	return nil, nil
}

func (v *stubVideo) Close() error {
	v.closed.Store(true)
	return nil
}

func (v *stubVideo) TrackDescriptor() screenrecorder.TrackDescriptor {
	return screenrecorder.TrackDescriptor{
		ID:         v.params.TrackID,
		Kind:       screenrecorder.TrackKindVideo,
		TimeBase:   time.Millisecond,
		VideoCodec: screenrecorder.VideoCodecMJPEG,
		Width:      v.params.Width,
		Height:     v.params.Height,
		FrameRate:  v.params.FrameRate,
	}
}

// testEncoders uses stubVideo for video and the real codecs for audio.
type testEncoders struct {
	codec.Factory
	videoDelay time.Duration
	videoErr   error
	audioErr   error

	locker sync.Mutex
	video  *stubVideo
}

func (f *testEncoders) OpenVideo(ctx context.Context, params screenrecorder.VideoEncoderParams) (screenrecorder.VideoTransform, error) {
	if f.videoErr != nil {
		return nil, f.videoErr
	}
	f.locker.Lock()
	defer f.locker.Unlock()
	f.video = &stubVideo{params: params, delay: f.videoDelay}
	return f.video, nil
}

func (f *testEncoders) OpenAudio(ctx context.Context, params screenrecorder.AudioEncoderParams) (screenrecorder.AudioTransform, error) {
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	return f.Factory.OpenAudio(ctx, params)
}

func (f *testEncoders) openedVideo() *stubVideo {
	f.locker.Lock()
	defer f.locker.Unlock()
	return f.video
}

type frameFeed chan *screenrecorder.VideoFrame

func (f frameFeed) NextFrame(ctx context.Context, timeout time.Duration) (*screenrecorder.VideoFrame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case frame, ok := <-f:
		if !ok {
			return nil, screenrecorder.ErrClosed
		}
		return frame, nil
	case <-t.C:
		return nil, screenrecorder.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type audioFeed chan *screenrecorder.AudioBlock

func (f audioFeed) NextBlock(ctx context.Context, timeout time.Duration) (*screenrecorder.AudioBlock, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case block, ok := <-f:
		if !ok {
			return nil, screenrecorder.ErrClosed
		}
		return block, nil
	case <-t.C:
		return nil, screenrecorder.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// countingMuxers wraps a MuxerFactory and can make the muxer fail after some packets.
type countingMuxers struct {
	screenrecorder.MuxerFactory
	failAfter int64

	opened atomic.Int64
	muxer  atomic.Pointer[countingMuxer]
}

func (f *countingMuxers) OpenMuxer(ctx context.Context, path string, tracks []screenrecorder.TrackDescriptor) (screenrecorder.Muxer, error) {
	f.opened.Add(1)
	m, err := f.MuxerFactory.OpenMuxer(ctx, path, tracks)
	if err != nil {
		return nil, err
	}
	cm := &countingMuxer{Muxer: m, failAfter: f.failAfter}
	f.muxer.Store(cm)
	return cm, nil
}

type countingMuxer struct {
	screenrecorder.Muxer
	failAfter int64
	written   atomic.Int64
	aborted   atomic.Bool
	finalized atomic.Bool
}

func (m *countingMuxer) WritePacket(ctx context.Context, pkt screenrecorder.EncodedPacket) error {
	if m.failAfter > 0 && m.written.Load() >= m.failAfter {
		return errors.New("no space left on device")
	}
	m.written.Add(1)
	return m.Muxer.WritePacket(ctx, pkt)
}

func (m *countingMuxer) Finalize(ctx context.Context) (*screenrecorder.ContainerInfo, error) {
	m.finalized.Store(true)
	return m.Muxer.Finalize(ctx)
}

func (m *countingMuxer) Abort(ctx context.Context) error {
	m.aborted.Store(true)
	return m.Muxer.Abort(ctx)
}

type recordingObserver struct {
	locker      sync.Mutex
	statuses    int
	transitions []screenrecorder.SessionState
	lastErr     error
}

var _ screenrecorder.Observer = (*recordingObserver)(nil)

func (o *recordingObserver) OnStatus(screenrecorder.Status) {
	o.locker.Lock()
	defer o.locker.Unlock()
	o.statuses++
}

func (o *recordingObserver) OnStateChange(from, to screenrecorder.SessionState, err error) {
	o.locker.Lock()
	defer o.locker.Unlock()
	o.transitions = append(o.transitions, to)
	if err != nil {
		o.lastErr = err
	}
}

func (o *recordingObserver) snapshot() (int, []screenrecorder.SessionState) {
	o.locker.Lock()
	defer o.locker.Unlock()
	return o.statuses, append([]screenrecorder.SessionState(nil), o.transitions...)
}
