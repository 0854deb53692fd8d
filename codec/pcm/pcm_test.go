package pcm

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/screenrecorder"
)

func s16Block(ts time.Duration, frames int, channels uint16) *screenrecorder.AudioBlock {
	data := make([]byte, frames*int(channels)*2)
	for i := 0; i < len(data)/2; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(i)))
	}
	return &screenrecorder.AudioBlock{
		SampleRate:   44100,
		Channels:     channels,
		SampleFormat: screenrecorder.SampleFormatS16LE,
		Data:         data,
		Timestamp:    ts,
	}
}

func TestPacketization(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, screenrecorder.AudioEncoderParams{TrackID: 2, SampleRate: 44100, Channels: 2})
	require.NoError(t, err)

	var pkts []screenrecorder.EncodedPacket
	for i := 0; i < 3; i++ {
		out, err := e.Encode(ctx, s16Block(time.Duration(i)*20*time.Millisecond, 882, 2))
		require.NoError(t, err)
		pkts = append(pkts, out...)
	}
	// 3*882 = 2646 = 2*1024 + 598
	require.Len(t, pkts, 2)
	flushed, err := e.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	pkts = append(pkts, flushed...)

	require.Len(t, pkts[0].Data, 1024*4)
	require.Len(t, pkts[2].Data, 598*4)
	var (
		total   time.Duration
		samples int
	)
	for i, pkt := range pkts {
		require.Equal(t, screenrecorder.TrackID(2), pkt.TrackID)
		require.Equal(t, screenrecorder.SamplesDuration(samples, 44100), pkt.PTS)
		if i > 0 {
			require.Greater(t, pkt.PTS, pkts[i-1].PTS)
		}
		samples += len(pkt.Data) / 4
		total += pkt.Duration
	}
	require.InDelta(t, float64(60*time.Millisecond), float64(total), float64(time.Millisecond))
	require.Equal(t, e.Duration(), screenrecorder.SamplesDuration(2646, 44100))

	again, err := e.Flush(ctx)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestEncodeConvertsFloat(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, screenrecorder.AudioEncoderParams{SampleRate: 44100, Channels: 1})
	require.NoError(t, err)

	data := make([]byte, 1024*4)
	for i := 0; i < 1024; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(0.5))
	}
	pkts, err := e.Encode(ctx, &screenrecorder.AudioBlock{
		SampleRate:   44100,
		Channels:     1,
		SampleFormat: screenrecorder.SampleFormatF32LE,
		Data:         data,
	})
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	require.Len(t, pkts[0].Data, 1024*2)
	v := int16(binary.LittleEndian.Uint16(pkts[0].Data))
	require.InDelta(t, 16384, int(v), 1)
}

func TestEncodeRejectsFormatChange(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, screenrecorder.AudioEncoderParams{SampleRate: 44100, Channels: 2})
	require.NoError(t, err)
	_, err = e.Encode(ctx, s16Block(0, 100, 1))
	var formatErr screenrecorder.AudioFormatError
	require.ErrorAs(t, err, &formatErr)
}

func TestNewRejectsBadParams(t *testing.T) {
	ctx := context.Background()
	var initErr screenrecorder.EncoderInitError
	_, err := New(ctx, screenrecorder.AudioEncoderParams{Channels: 2})
	require.ErrorAs(t, err, &initErr)
	_, err = New(ctx, screenrecorder.AudioEncoderParams{SampleRate: 44100, Channels: 3})
	require.ErrorAs(t, err, &initErr)
}
