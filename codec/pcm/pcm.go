// Package pcm implements an uncompressed audio transform producing
// signed 16-bit little-endian interleaved packets.
package pcm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/audioproc"
)

// FrameSamples is the amount of samples per channel in every packet but the last one.
const FrameSamples = 1024

type Encoder struct {
	params screenrecorder.AudioEncoderParams

	pending      []byte
	started      bool
	firstPTS     screenrecorder.Timestamp
	samplesTotal int64
	closed       atomic.Bool
}

var _ screenrecorder.AudioTransform = (*Encoder)(nil)

func New(
	ctx context.Context,
	params screenrecorder.AudioEncoderParams,
) (_ret *Encoder, _err error) {
	logger.Debugf(ctx, "pcm.New(%#+v)", params)
	defer func() { logger.Debugf(ctx, "/pcm.New: %v", _err) }()

	if params.SampleRate == 0 {
		return nil, screenrecorder.EncoderInitError{Codec: "pcm", Err: fmt.Errorf("sample rate is not set")}
	}
	if params.Channels == 0 || params.Channels > 2 {
		return nil, screenrecorder.EncoderInitError{Codec: "pcm", Err: fmt.Errorf("unsupported amount of channels: %d", params.Channels)}
	}
	if params.Quality != nil {
		logger.Debugf(ctx, "pcm ignores the quality setting %#+v", params.Quality)
	}
	return &Encoder{params: params}, nil
}

func (e *Encoder) frameBytes() int {
	return int(e.params.Channels) * screenrecorder.SampleFormatS16LE.BytesPerSample()
}

func (e *Encoder) Encode(
	ctx context.Context,
	block *screenrecorder.AudioBlock,
) ([]screenrecorder.EncodedPacket, error) {
	if e.closed.Load() {
		return nil, screenrecorder.ErrClosed
	}
	if block.SampleRate != e.params.SampleRate || block.Channels != e.params.Channels {
		return nil, screenrecorder.AudioFormatError{
			Reason: fmt.Sprintf("expected %dHz/%dch, received %dHz/%dch", e.params.SampleRate, e.params.Channels, block.SampleRate, block.Channels),
		}
	}

	data := block.Data
	if block.SampleFormat != screenrecorder.SampleFormatS16LE {
		samples, err := audioproc.ToFloat32(block)
		if err != nil {
			return nil, err
		}
		data, err = audioproc.FromFloat32(samples, screenrecorder.SampleFormatS16LE)
		if err != nil {
			return nil, err
		}
	}

	if !e.started {
		e.started = true
		e.firstPTS = block.Timestamp
	}
	e.pending = append(e.pending, data...)

	var result []screenrecorder.EncodedPacket
	packetBytes := FrameSamples * e.frameBytes()
	for len(e.pending) >= packetBytes {
		result = append(result, e.packet(e.pending[:packetBytes]))
		e.pending = e.pending[packetBytes:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return result, nil
}

func (e *Encoder) packet(data []byte) screenrecorder.EncodedPacket {
	samples := len(data) / e.frameBytes()
	pts := e.firstPTS + screenrecorder.SamplesDuration(int(e.samplesTotal), e.params.SampleRate)
	e.samplesTotal += int64(samples)
	return screenrecorder.EncodedPacket{
		TrackID:    e.params.TrackID,
		Data:       append([]byte(nil), data...),
		PTS:        pts,
		DTS:        pts,
		Duration:   screenrecorder.SamplesDuration(samples, e.params.SampleRate),
		IsKeyFrame: true,
	}
}

// Flush returns the buffered remainder (shorter than FrameSamples) as a packet.
func (e *Encoder) Flush(context.Context) ([]screenrecorder.EncodedPacket, error) {
	frameBytes := e.frameBytes()
	usable := len(e.pending) / frameBytes * frameBytes
	if usable == 0 {
		e.pending = nil
		return nil, nil
	}
	pkt := e.packet(e.pending[:usable])
	e.pending = nil
	return []screenrecorder.EncodedPacket{pkt}, nil
}

func (e *Encoder) Close() error {
	e.closed.Store(true)
	return nil
}

// Duration returns the total duration of the packets produced so far.
func (e *Encoder) Duration() time.Duration {
	return screenrecorder.SamplesDuration(int(e.samplesTotal), e.params.SampleRate)
}

func (e *Encoder) TrackDescriptor() screenrecorder.TrackDescriptor {
	return screenrecorder.TrackDescriptor{
		ID:           e.params.TrackID,
		Kind:         screenrecorder.TrackKindAudio,
		TimeBase:     time.Second / time.Duration(e.params.SampleRate),
		AudioCodec:   screenrecorder.AudioCodecPCM,
		SampleRate:   e.params.SampleRate,
		Channels:     e.params.Channels,
		SampleFormat: screenrecorder.SampleFormatS16LE,
	}
}
