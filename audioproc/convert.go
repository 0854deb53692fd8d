package audioproc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xaionaro-go/screenrecorder"
)

// MaxChannels is the widest channel layout accepted from a source.
const MaxChannels = 8

// ToFloat32 decodes the block into interleaved float32 samples in [-1, 1].
func ToFloat32(b *screenrecorder.AudioBlock) ([]float32, error) {
	if b.Channels == 0 || b.Channels > MaxChannels {
		return nil, screenrecorder.AudioFormatError{Reason: fmt.Sprintf("unsupported channel count %d", b.Channels)}
	}
	if b.SampleRate == 0 {
		return nil, screenrecorder.AudioFormatError{Reason: "zero sample rate"}
	}
	bps := b.SampleFormat.BytesPerSample()
	if bps == 0 {
		return nil, screenrecorder.AudioFormatError{Reason: fmt.Sprintf("unsupported sample format %s", b.SampleFormat)}
	}
	if len(b.Data)%(bps*int(b.Channels)) != 0 {
		return nil, screenrecorder.AudioFormatError{Reason: fmt.Sprintf("buffer of %d bytes is not a whole amount of %d-channel %s frames", len(b.Data), b.Channels, b.SampleFormat)}
	}

	n := len(b.Data) / bps
	out := make([]float32, n)
	switch b.SampleFormat {
	case screenrecorder.SampleFormatS16LE:
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(b.Data[i*2:]))) / 32768
		}
	case screenrecorder.SampleFormatS32LE:
		for i := range out {
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(b.Data[i*4:]))) / 2147483648)
		}
	case screenrecorder.SampleFormatF32LE:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[i*4:]))
		}
	}
	return out, nil
}

// FromFloat32 encodes interleaved float32 samples, clamping them into [-1, 1].
func FromFloat32(samples []float32, format screenrecorder.SampleFormat) ([]byte, error) {
	bps := format.BytesPerSample()
	if bps == 0 {
		return nil, screenrecorder.AudioFormatError{Reason: fmt.Sprintf("unsupported sample format %s", format)}
	}
	out := make([]byte, len(samples)*bps)
	for i, s := range samples {
		s = Saturate(s)
		switch format {
		case screenrecorder.SampleFormatS16LE:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(float64(s)*32767))))
		case screenrecorder.SampleFormatS32LE:
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(math.Round(float64(s)*2147483647))))
		case screenrecorder.SampleFormatF32LE:
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
		}
	}
	return out, nil
}

// Remix converts interleaved samples between channel layouts.
// Wider than stereo layouts are downmixed to stereo first.
func Remix(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || from > MaxChannels {
		return nil, screenrecorder.AudioFormatError{Reason: fmt.Sprintf("unsupported channel count %d", from)}
	}
	if to != 1 && to != 2 {
		return nil, screenrecorder.AudioFormatError{Reason: fmt.Sprintf("unsupported output channel count %d", to)}
	}
	if from > 2 {
		samples = downmixToStereo(samples, from)
		from = 2
	}
	switch {
	case from == to:
		return samples, nil
	case from == 1 && to == 2:
		out := make([]float32, len(samples)*2)
		for i, s := range samples {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out, nil
	default:
		out := make([]float32, len(samples)/2)
		for i := range out {
			out[i] = (samples[i*2] + samples[i*2+1]) / 2
		}
		return out, nil
	}
}

func downmixToStereo(samples []float32, channels int) []float32 {
	frames := len(samples) / channels
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		f := samples[i*channels : (i+1)*channels]
		var l, r float32
		switch channels {
		case 3: // left, right, center
			l = f[0] + f[2]*0.707
			r = f[1] + f[2]*0.707
		case 4: // front left/right, back left/right
			l = f[0] + f[2]*0.7
			r = f[1] + f[3]*0.7
		case 6: // 5.1: left, right, center, LFE, surround left/right
			l = f[0] + f[2]*0.707 + f[4]*0.5 + f[3]*0.1
			r = f[1] + f[2]*0.707 + f[5]*0.5 + f[3]*0.1
		default:
			// unknown layout: pan channels linearly from left to right
			for c, s := range f {
				pan := float64(c) / float64(channels-1)
				l += s * float32(math.Sqrt(1-pan))
				r += s * float32(math.Sqrt(pan))
			}
			norm := float32(math.Sqrt(float64(channels) / 2))
			l /= norm
			r /= norm
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	return out
}

// Saturate clamps a sample into [-1, 1].
func Saturate(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	case math.IsNaN(float64(s)):
		return 0
	}
	return s
}
