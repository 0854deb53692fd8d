package encoder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/screenrecorder"
)

type fakeTransform[T any] struct {
	locker     sync.Mutex
	encodeFn   func(in T) ([]screenrecorder.EncodedPacket, error)
	flushes    [][]screenrecorder.EncodedPacket
	flushCalls int
	endless    bool
	closed     bool
}

func (t *fakeTransform[T]) Encode(_ context.Context, in T) ([]screenrecorder.EncodedPacket, error) {
	t.locker.Lock()
	defer t.locker.Unlock()
	return t.encodeFn(in)
}

func (t *fakeTransform[T]) Flush(context.Context) ([]screenrecorder.EncodedPacket, error) {
	t.locker.Lock()
	defer t.locker.Unlock()
	t.flushCalls++
	if t.endless {
		return []screenrecorder.EncodedPacket{{}}, nil
	}
	if len(t.flushes) == 0 {
		return nil, nil
	}
	pkts := t.flushes[0]
	t.flushes = t.flushes[1:]
	return pkts, nil
}

func (t *fakeTransform[T]) Close() error {
	t.locker.Lock()
	defer t.locker.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransform[T]) TrackDescriptor() screenrecorder.TrackDescriptor {
	return screenrecorder.TrackDescriptor{}
}

type packetCollector struct {
	locker sync.Mutex
	pkts   []screenrecorder.EncodedPacket
}

func (c *packetCollector) sink(_ context.Context, pkt screenrecorder.EncodedPacket) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.pkts = append(c.pkts, pkt)
	return nil
}

func (c *packetCollector) packets() []screenrecorder.EncodedPacket {
	c.locker.Lock()
	defer c.locker.Unlock()
	return append([]screenrecorder.EncodedPacket(nil), c.pkts...)
}

func frameToPacket(f *screenrecorder.VideoFrame) []screenrecorder.EncodedPacket {
	return []screenrecorder.EncodedPacket{{
		PTS:        f.Timestamp,
		DTS:        f.Timestamp,
		IsKeyFrame: true,
		Data:       []byte{byte(f.Index)},
	}}
}

func testFrame(idx uint64) *screenrecorder.VideoFrame {
	return &screenrecorder.VideoFrame{
		Width:       2,
		Height:      2,
		Stride:      8,
		PixelFormat: screenrecorder.PixelFormatRGBA,
		Data:        make([]byte, 16),
		Timestamp:   time.Duration(idx) * time.Millisecond,
		Index:       idx,
	}
}

type servable interface {
	Serve(context.Context) error
	isServing() bool
}

func serve(ctx context.Context, s servable) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(ctx)
	}()
	for !s.isServing() {
		time.Sleep(time.Millisecond)
	}
	return errCh
}

func TestVideoEncodesInSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransform[*screenrecorder.VideoFrame]{
		encodeFn: func(f *screenrecorder.VideoFrame) ([]screenrecorder.EncodedPacket, error) {
			return frameToPacket(f), nil
		},
	}
	var c packetCollector
	e := NewVideo(tr, 16, c.sink)
	errCh := serve(ctx, e)

	for i := uint64(0); i < 10; i++ {
		require.NoError(t, e.Submit(ctx, testFrame(i)))
	}
	_, err := e.Drain(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	pkts := c.packets()
	require.Len(t, pkts, 10)
	for i, pkt := range pkts {
		require.Equal(t, byte(i), pkt.Data[0])
	}
	stats := e.Stats.Convert()
	require.Equal(t, uint64(10), stats.Encoded)
	require.Zero(t, stats.Dropped)

	require.NoError(t, e.Close())
	require.True(t, tr.closed)
}

func TestVideoRetriesOnce(t *testing.T) {
	ctx := context.Background()
	failed := false
	tr := &fakeTransform[*screenrecorder.VideoFrame]{
		encodeFn: func(f *screenrecorder.VideoFrame) ([]screenrecorder.EncodedPacket, error) {
			if f.Index == 3 && !failed {
				failed = true
				return nil, errors.New("transient")
			}
			return frameToPacket(f), nil
		},
	}
	var c packetCollector
	e := NewVideo(tr, 16, c.sink)
	for i := uint64(0); i < 5; i++ {
		require.NoError(t, e.Submit(ctx, testFrame(i)))
	}
	errCh := serve(ctx, e)
	_, err := e.Drain(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	require.Len(t, c.packets(), 5)
	stats := e.Stats.Convert()
	require.Equal(t, uint64(1), stats.Retries)
	require.Equal(t, uint64(5), stats.Encoded)
}

func TestVideoPersistentFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransform[*screenrecorder.VideoFrame]{
		encodeFn: func(f *screenrecorder.VideoFrame) ([]screenrecorder.EncodedPacket, error) {
			if f.Index == 2 {
				return nil, errors.New("broken")
			}
			return frameToPacket(f), nil
		},
	}
	var c packetCollector
	e := NewVideo(tr, 16, c.sink)
	for i := uint64(0); i < 6; i++ {
		require.NoError(t, e.Submit(ctx, testFrame(i)))
	}

	err := e.Serve(ctx)
	var encErr screenrecorder.EncodeError
	require.ErrorAs(t, err, &encErr)
	require.Equal(t, screenrecorder.TrackKindVideo, encErr.Track)
	require.True(t, screenrecorder.IsFatal(err))

	_, err = e.Drain(ctx)
	require.NoError(t, err)
	stats := e.Stats.Convert()
	require.Equal(t, uint64(2), stats.Encoded)
	require.Equal(t, uint64(1), stats.Retries)
	// frames 3..5 never reached the transform
	require.Equal(t, uint64(3), stats.Dropped)
}

func TestDrainFlushesUntilEmpty(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransform[*screenrecorder.VideoFrame]{
		encodeFn: func(*screenrecorder.VideoFrame) ([]screenrecorder.EncodedPacket, error) {
			return nil, nil
		},
		flushes: [][]screenrecorder.EncodedPacket{
			{{DTS: 1}, {DTS: 2}},
			{{DTS: 3}},
			{{DTS: 4}, {DTS: 5}},
		},
	}
	var c packetCollector
	e := NewVideo(tr, 4, c.sink)
	errCh := serve(ctx, e)

	pkts, err := e.Drain(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Len(t, pkts, 5)
	require.Equal(t, 4, tr.flushCalls)
	require.Equal(t, pkts, c.packets())

	again, err := e.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, pkts, again)
	require.Equal(t, 4, tr.flushCalls)
}

func TestDrainGivesUpOnEndlessFlush(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransform[*screenrecorder.VideoFrame]{endless: true}
	e := NewVideo(tr, 4, func(context.Context, screenrecorder.EncodedPacket) error { return nil })
	_, err := e.Drain(ctx)
	var encErr screenrecorder.EncodeError
	require.ErrorAs(t, err, &encErr)
	require.Equal(t, MaxFlushIterations, tr.flushCalls)
}

func TestVideoDropOldestAccounting(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransform[*screenrecorder.VideoFrame]{
		encodeFn: func(f *screenrecorder.VideoFrame) ([]screenrecorder.EncodedPacket, error) {
			return frameToPacket(f), nil
		},
	}
	var c packetCollector
	e := NewVideo(tr, 4, c.sink)

	const produced = 10
	for i := uint64(0); i < produced; i++ {
		require.NoError(t, e.Submit(ctx, testFrame(i)))
		require.LessOrEqual(t, e.QueueLen(), e.QueueCap())
	}
	require.Equal(t, 4, e.QueueLen())

	errCh := serve(ctx, e)
	_, err := e.Drain(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	stats := e.Stats.Convert()
	require.Equal(t, uint64(produced), stats.Submitted)
	require.Equal(t, uint64(4), stats.Encoded)
	require.Equal(t, stats.Submitted-stats.Encoded, stats.Dropped)
	require.Equal(t, uint64(4), stats.MaxQueueDepth)

	// the newest frames survive
	pkts := c.packets()
	require.Len(t, pkts, 4)
	assert.Equal(t, byte(6), pkts[0].Data[0])
	assert.Equal(t, byte(9), pkts[3].Data[0])

	require.ErrorIs(t, e.Submit(ctx, testFrame(100)), screenrecorder.ErrClosed)
}

func TestDTSGuard(t *testing.T) {
	ctx := context.Background()
	dts := []time.Duration{0, 40, 30, 80}
	i := 0
	tr := &fakeTransform[*screenrecorder.VideoFrame]{
		encodeFn: func(*screenrecorder.VideoFrame) ([]screenrecorder.EncodedPacket, error) {
			d := dts[i] * time.Millisecond
			i++
			return []screenrecorder.EncodedPacket{{PTS: d, DTS: d}}, nil
		},
	}
	var c packetCollector
	e := NewVideo(tr, 8, c.sink)
	for idx := range dts {
		require.NoError(t, e.Submit(ctx, testFrame(uint64(idx))))
	}
	errCh := serve(ctx, e)
	_, err := e.Drain(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	pkts := c.packets()
	require.Len(t, pkts, 4)
	for j := 1; j < len(pkts); j++ {
		require.GreaterOrEqual(t, pkts[j].DTS, pkts[j-1].DTS)
		require.GreaterOrEqual(t, pkts[j].PTS, pkts[j].DTS)
	}
	require.Equal(t, 40*time.Millisecond, pkts[2].DTS)
	require.Equal(t, uint64(1), e.Stats.Reordered.Load())
}

func TestSinkErrorStopsWorker(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransform[*screenrecorder.VideoFrame]{
		encodeFn: func(f *screenrecorder.VideoFrame) ([]screenrecorder.EncodedPacket, error) {
			return frameToPacket(f), nil
		},
	}
	muxErr := screenrecorder.MuxError{Err: errors.New("disk full")}
	e := NewVideo(tr, 4, func(context.Context, screenrecorder.EncodedPacket) error { return muxErr })
	require.NoError(t, e.Submit(ctx, testFrame(0)))
	err := e.Serve(ctx)
	require.ErrorIs(t, err, muxErr)
}

func testBlock(ts time.Duration, value byte) *screenrecorder.AudioBlock {
	data := make([]byte, 960*2*2)
	for i := range data {
		data[i] = value
	}
	return &screenrecorder.AudioBlock{
		SourceID:     "mix",
		SampleRate:   48000,
		Channels:     2,
		SampleFormat: screenrecorder.SampleFormatS16LE,
		Data:         data,
		Timestamp:    ts,
	}
}

func TestAudioSubstitutesSilenceOnTimeout(t *testing.T) {
	ctx := context.Background()
	var encoded []*screenrecorder.AudioBlock
	tr := &fakeTransform[*screenrecorder.AudioBlock]{
		encodeFn: func(b *screenrecorder.AudioBlock) ([]screenrecorder.EncodedPacket, error) {
			encoded = append(encoded, b)
			return []screenrecorder.EncodedPacket{{PTS: b.Timestamp, DTS: b.Timestamp, Duration: b.Duration()}}, nil
		},
	}
	var c packetCollector
	e := NewAudio(tr, 1, 10*time.Millisecond, c.sink)

	require.NoError(t, e.Submit(ctx, testBlock(0, 1)))
	startedAt := time.Now()
	require.NoError(t, e.Submit(ctx, testBlock(20*time.Millisecond, 1)))
	require.GreaterOrEqual(t, time.Since(startedAt), 10*time.Millisecond)
	require.Equal(t, uint64(1), e.Stats.SilenceInserted.Load())
	require.LessOrEqual(t, e.QueueLen(), e.QueueCap())

	errCh := serve(ctx, e)
	_, err := e.Drain(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	require.Len(t, encoded, 2)
	require.Equal(t, byte(1), encoded[0].Data[0])
	require.Equal(t, 20*time.Millisecond, encoded[1].Timestamp)
	require.Equal(t, 20*time.Millisecond, encoded[1].Duration())
	for _, v := range encoded[1].Data {
		require.Zero(t, v)
	}

	var total time.Duration
	for _, pkt := range c.packets() {
		total += pkt.Duration
	}
	require.Equal(t, 40*time.Millisecond, total)
	require.Zero(t, e.Stats.Dropped.Load())
}

func TestAudioQueueStaysWithinCapacityWhenStalled(t *testing.T) {
	ctx := context.Background()
	var encoded []*screenrecorder.AudioBlock
	tr := &fakeTransform[*screenrecorder.AudioBlock]{
		encodeFn: func(b *screenrecorder.AudioBlock) ([]screenrecorder.EncodedPacket, error) {
			encoded = append(encoded, b)
			return []screenrecorder.EncodedPacket{{PTS: b.Timestamp, DTS: b.Timestamp, Duration: b.Duration()}}, nil
		},
	}
	var c packetCollector
	e := NewAudio(tr, 2, time.Millisecond, c.sink)

	const blocks = 50
	for i := 0; i < blocks; i++ {
		require.NoError(t, e.Submit(ctx, testBlock(time.Duration(i)*20*time.Millisecond, 1)))
		require.LessOrEqual(t, e.QueueLen(), e.QueueCap())
	}
	require.Equal(t, uint64(blocks-2), e.Stats.SilenceInserted.Load())
	require.LessOrEqual(t, e.Stats.MaxQueueDepth.Load(), uint64(e.QueueCap()))

	errCh := serve(ctx, e)
	_, err := e.Drain(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	var total time.Duration
	prevEnd := time.Duration(0)
	for i, b := range encoded {
		require.Equal(t, prevEnd, b.Timestamp, "block %d", i)
		prevEnd = b.Timestamp + b.Duration()
		if i >= 2 {
			for _, v := range b.Data {
				require.Zero(t, v)
			}
		}
	}
	for _, pkt := range c.packets() {
		total += pkt.Duration
	}
	require.Equal(t, blocks*20*time.Millisecond, total)
	require.Zero(t, e.Stats.Dropped.Load())
}
