//go:build with_libav
// +build with_libav

package libav

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/audioproc"
)

type AudioEncoder struct {
	locker       sync.Mutex
	params       screenrecorder.AudioEncoderParams
	codec        *codec
	frame        *astiav.Frame
	frameSamples int
	pending      []float32
	started      bool
	firstPTS     screenrecorder.Timestamp
	samplesSent  int64
}

var _ screenrecorder.AudioTransform = (*AudioEncoder)(nil)

func channelLayout(channels uint16) (astiav.ChannelLayout, error) {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono, nil
	case 2:
		return astiav.ChannelLayoutStereo, nil
	}
	return astiav.ChannelLayout{}, fmt.Errorf("unsupported amount of channels: %d", channels)
}

func newAudioEncoder(
	ctx context.Context,
	params screenrecorder.AudioEncoderParams,
) (_ret *AudioEncoder, _err error) {
	layout, err := channelLayout(params.Channels)
	if err != nil {
		return nil, err
	}
	name, ok := screenrecorder.GetCustomOption[screenrecorder.EncoderName](params.CustomOptions)
	if !ok {
		name = screenrecorder.EncoderName(AudioEncoderName(params.Codec))
	}

	c, err := newCodec(ctx, codecOptions{
		encoderName:        string(name),
		mediaType:          astiav.MediaTypeAudio,
		hardwareDeviceType: astiav.HardwareDeviceTypeNone,
		options:            newDictionary(ctx, screenrecorder.GetCustomOptions[screenrecorder.EncoderOption](params.CustomOptions)),
		configure: func(cc *astiav.CodecContext) error {
			cc.SetSampleRate(int(params.SampleRate))
			cc.SetChannelLayout(layout)
			cc.SetSampleFormat(astiav.SampleFormatFltp)
			cc.SetTimeBase(astiav.NewRational(1, int(params.SampleRate)))
			if q, ok := params.Quality.(*screenrecorder.AudioQualityConstantBitrate); ok {
				cc.SetBitRate(int64(*q))
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	frameSamples := c.codecContext.FrameSize()
	if frameSamples <= 0 {
		frameSamples = 1024
	}
	e := &AudioEncoder{
		params:       params,
		codec:        c,
		frame:        allocFrame(ctx),
		frameSamples: frameSamples,
	}
	logger.Debugf(ctx, "opened audio encoder '%s' %dHz/%dch, %d samples per frame", name, params.SampleRate, params.Channels, frameSamples)
	return e, nil
}

func (e *AudioEncoder) Encode(
	ctx context.Context,
	block *screenrecorder.AudioBlock,
) ([]screenrecorder.EncodedPacket, error) {
	e.locker.Lock()
	defer e.locker.Unlock()

	if block.SampleRate != e.params.SampleRate || block.Channels != e.params.Channels {
		return nil, screenrecorder.AudioFormatError{
			Reason: fmt.Sprintf("expected %dHz/%dch, received %dHz/%dch", e.params.SampleRate, e.params.Channels, block.SampleRate, block.Channels),
		}
	}
	samples, err := audioproc.ToFloat32(block)
	if err != nil {
		return nil, err
	}
	if !e.started {
		e.started = true
		e.firstPTS = block.Timestamp
	}
	e.pending = append(e.pending, samples...)

	var result []screenrecorder.EncodedPacket
	chunk := e.frameSamples * int(e.params.Channels)
	for len(e.pending) >= chunk {
		pkts, err := e.sendSamples(ctx, e.pending[:chunk])
		if err != nil {
			return result, err
		}
		result = append(result, pkts...)
		e.pending = e.pending[chunk:]
	}
	return result, nil
}

func (e *AudioEncoder) sendSamples(ctx context.Context, interleaved []float32) ([]screenrecorder.EncodedPacket, error) {
	channels := int(e.params.Channels)
	nbSamples := len(interleaved) / channels
	layout, _ := channelLayout(e.params.Channels)

	e.frame.Unref()
	e.frame.SetNbSamples(nbSamples)
	e.frame.SetChannelLayout(layout)
	e.frame.SetSampleFormat(astiav.SampleFormatFltp)
	e.frame.SetSampleRate(int(e.params.SampleRate))
	if err := e.frame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("unable to allocate the frame buffer: %w", err)
	}

	planar := make([]byte, nbSamples*channels*4)
	for i := 0; i < nbSamples; i++ {
		for ch := 0; ch < channels; ch++ {
			offset := (ch*nbSamples + i) * 4
			binary.LittleEndian.PutUint32(planar[offset:], math.Float32bits(interleaved[i*channels+ch]))
		}
	}
	if err := e.frame.Data().SetBytes(planar, 0); err != nil {
		return nil, fmt.Errorf("unable to copy the samples into the frame: %w", err)
	}

	pts := e.firstPTS + screenrecorder.SamplesDuration(int(e.samplesSent), e.params.SampleRate)
	e.frame.SetPts(fromDuration(pts, e.codec.codecContext.TimeBase()))
	e.samplesSent += int64(nbSamples)
	return e.codec.send(ctx, e.frame, e.params.TrackID)
}

// Flush encodes the buffered remainder and drains the encoder.
func (e *AudioEncoder) Flush(ctx context.Context) ([]screenrecorder.EncodedPacket, error) {
	e.locker.Lock()
	defer e.locker.Unlock()

	var result []screenrecorder.EncodedPacket
	if len(e.pending) >= int(e.params.Channels) {
		usable := len(e.pending) / int(e.params.Channels) * int(e.params.Channels)
		pkts, err := e.sendSamples(ctx, e.pending[:usable])
		if err != nil {
			return nil, err
		}
		result = append(result, pkts...)
	}
	e.pending = nil

	pkts, err := e.codec.send(ctx, nil, e.params.TrackID)
	return append(result, pkts...), err
}

func (e *AudioEncoder) Close() error {
	e.locker.Lock()
	defer e.locker.Unlock()
	return e.codec.Close()
}

func (e *AudioEncoder) TrackDescriptor() screenrecorder.TrackDescriptor {
	return screenrecorder.TrackDescriptor{
		ID:           e.params.TrackID,
		Kind:         screenrecorder.TrackKindAudio,
		TimeBase:     toDuration(1, e.codec.codecContext.TimeBase()),
		ExtraData:    e.codec.extraData(),
		AudioCodec:   e.params.Codec,
		SampleRate:   e.params.SampleRate,
		Channels:     e.params.Channels,
		SampleFormat: screenrecorder.SampleFormatF32LE,
	}
}
