package muxer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/screenrecorder"
)

type fakeMuxer struct {
	locker    sync.Mutex
	packets   []screenrecorder.EncodedPacket
	failAfter int
	finalized bool
	aborted   bool

	// block makes WritePacket hang until Abort
	block   bool
	release chan struct{}
}

func (m *fakeMuxer) WritePacket(_ context.Context, pkt screenrecorder.EncodedPacket) error {
	m.locker.Lock()
	if m.aborted {
		m.locker.Unlock()
		return screenrecorder.MuxError{Err: screenrecorder.ErrClosed}
	}
	if m.block {
		if m.release == nil {
			m.release = make(chan struct{})
		}
		release := m.release
		m.locker.Unlock()
		<-release
		return screenrecorder.MuxError{Err: screenrecorder.ErrClosed}
	}
	defer m.locker.Unlock()
	if m.failAfter > 0 && len(m.packets) >= m.failAfter {
		return screenrecorder.MuxError{Err: errors.New("connection lost")}
	}
	m.packets = append(m.packets, pkt)
	return nil
}

func (m *fakeMuxer) Finalize(context.Context) (*screenrecorder.ContainerInfo, error) {
	m.locker.Lock()
	defer m.locker.Unlock()
	m.finalized = true
	return &screenrecorder.ContainerInfo{Path: "primary"}, nil
}

func (m *fakeMuxer) Abort(context.Context) error {
	m.locker.Lock()
	defer m.locker.Unlock()
	if !m.aborted && m.release != nil {
		close(m.release)
	}
	m.aborted = true
	return nil
}

func (m *fakeMuxer) snapshot() (packets int, finalized, aborted bool) {
	m.locker.Lock()
	defer m.locker.Unlock()
	return len(m.packets), m.finalized, m.aborted
}

func TestTeeDetachesFailingSecondary(t *testing.T) {
	ctx := context.Background()
	primary := &fakeMuxer{}
	good := &fakeMuxer{}
	bad := &fakeMuxer{failAfter: 2}

	tee := NewTee(primary)
	tee.AddSecondary(ctx, "good", good)
	tee.AddSecondary(ctx, "bad", bad)

	for i := 0; i < 5; i++ {
		require.NoError(t, tee.WritePacket(ctx, screenrecorder.EncodedPacket{DTS: screenrecorder.Timestamp(i)}))
	}
	require.Eventually(t, func() bool {
		_, _, aborted := bad.snapshot()
		return aborted
	}, 5*time.Second, time.Millisecond)

	detached := tee.Detached(ctx)
	require.Len(t, detached, 1)
	require.Contains(t, detached, "bad")

	info, err := tee.Finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, "primary", info.Path)

	n, finalized, _ := primary.snapshot()
	require.Equal(t, 5, n)
	require.True(t, finalized)
	n, finalized, _ = good.snapshot()
	require.Equal(t, 5, n, "the secondary gets the queue written out on Finalize")
	require.True(t, finalized)
	n, finalized, _ = bad.snapshot()
	require.Equal(t, 2, n)
	require.False(t, finalized)
}

func TestTeeStalledSecondaryDoesNotBlockThePrimary(t *testing.T) {
	ctx := context.Background()
	primary := &fakeMuxer{}
	stalled := &fakeMuxer{block: true}

	tee := NewTee(primary)
	tee.QueueSize = 4
	tee.DrainTimeout = 50 * time.Millisecond
	tee.AddSecondary(ctx, "stalled", stalled)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			require.NoError(t, tee.WritePacket(ctx, screenrecorder.EncodedPacket{DTS: screenrecorder.Timestamp(i)}))
		}
		_, err := tee.Finalize(ctx)
		require.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("the primary is blocked by a stalled secondary")
	}

	n, finalized, _ := primary.snapshot()
	require.Equal(t, 100, n)
	require.True(t, finalized)

	require.ErrorIs(t, tee.Detached(ctx)["stalled"], ErrSecondaryStalled)
	require.Greater(t, tee.Dropped(ctx)["stalled"], uint64(0))
	require.Eventually(t, func() bool {
		_, _, aborted := stalled.snapshot()
		return aborted
	}, 5*time.Second, time.Millisecond)
	_, finalized, _ = stalled.snapshot()
	require.False(t, finalized)
}

func TestTeePrimaryFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	primary := &fakeMuxer{failAfter: 1}
	secondary := &fakeMuxer{}
	tee := NewTee(primary)
	tee.AddSecondary(ctx, "s", secondary)

	require.NoError(t, tee.WritePacket(ctx, screenrecorder.EncodedPacket{}))
	err := tee.WritePacket(ctx, screenrecorder.EncodedPacket{})
	var muxErr screenrecorder.MuxError
	require.ErrorAs(t, err, &muxErr)

	require.NoError(t, tee.Abort(ctx))
	_, _, aborted := primary.snapshot()
	require.True(t, aborted)
	_, _, aborted = secondary.snapshot()
	require.True(t, aborted)
}

func TestTeeFactorySkipsFailingSecondary(t *testing.T) {
	ctx := context.Background()
	primary := &fakeMuxer{}
	f := &TeeFactory{
		Primary: screenrecorder.MuxerFactoryFunc(func(context.Context, string, []screenrecorder.TrackDescriptor) (screenrecorder.Muxer, error) {
			return primary, nil
		}),
		Secondaries: map[string]screenrecorder.MuxerFactory{
			"unreachable": screenrecorder.MuxerFactoryFunc(func(context.Context, string, []screenrecorder.TrackDescriptor) (screenrecorder.Muxer, error) {
				return nil, screenrecorder.ResourceError{Resource: "rtmp://nowhere", Err: errors.New("refused")}
			}),
		},
	}
	m, err := f.OpenMuxer(ctx, "out.flv", nil)
	require.NoError(t, err)
	tee, ok := m.(*Tee)
	require.True(t, ok)
	require.Equal(t, primary, tee.Primary)
	require.NoError(t, tee.WritePacket(ctx, screenrecorder.EncodedPacket{}))
	n, _, _ := primary.snapshot()
	require.Equal(t, 1, n)

	only, err := (&TeeFactory{Primary: f.Primary}).OpenMuxer(ctx, "out.flv", nil)
	require.NoError(t, err)
	require.Equal(t, primary, only)
}
