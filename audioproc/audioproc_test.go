package audioproc

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/screenrecorder"
)

func s16Block(id screenrecorder.AudioSourceID, kind screenrecorder.AudioSourceKind, rate uint32, channels uint16, ts time.Duration, d time.Duration, value int16) *screenrecorder.AudioBlock {
	frames := screenrecorder.DurationSamples(d, rate)
	data := make([]byte, frames*int(channels)*2)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(value))
	}
	return &screenrecorder.AudioBlock{
		SourceID:     id,
		SourceKind:   kind,
		SampleRate:   rate,
		Channels:     channels,
		SampleFormat: screenrecorder.SampleFormatS16LE,
		Data:         data,
		Timestamp:    ts,
	}
}

func floats(t *testing.T, b *screenrecorder.AudioBlock) []float32 {
	s, err := ToFloat32(b)
	require.NoError(t, err)
	return s
}

func TestToFloat32Formats(t *testing.T) {
	b := s16Block("a", screenrecorder.AudioSourceKindMicrophone, 8000, 1, 0, time.Millisecond, 16384)
	s := floats(t, b)
	require.Len(t, s, 8)
	require.InDelta(t, 0.5, s[0], 1e-6)

	enc, err := FromFloat32([]float32{0.25, -2}, screenrecorder.SampleFormatS32LE)
	require.NoError(t, err)
	back, err := ToFloat32(&screenrecorder.AudioBlock{SampleRate: 1, Channels: 1, SampleFormat: screenrecorder.SampleFormatS32LE, Data: enc})
	require.NoError(t, err)
	require.InDelta(t, 0.25, back[0], 1e-6)
	require.InDelta(t, -1, back[1], 1e-6)

	for _, bad := range []*screenrecorder.AudioBlock{
		{SampleRate: 48000, Channels: 0, SampleFormat: screenrecorder.SampleFormatS16LE},
		{SampleRate: 48000, Channels: 9, SampleFormat: screenrecorder.SampleFormatS16LE},
		{SampleRate: 48000, Channels: 2, SampleFormat: screenrecorder.SampleFormatUndefined},
		{SampleRate: 48000, Channels: 2, SampleFormat: screenrecorder.SampleFormatS16LE, Data: make([]byte, 3)},
	} {
		_, err := ToFloat32(bad)
		var fmtErr screenrecorder.AudioFormatError
		require.True(t, errors.As(err, &fmtErr), "%v", bad)
	}
}

func TestRemix(t *testing.T) {
	st, err := Remix([]float32{0.1, 0.2}, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.1, 0.2, 0.2}, st)

	mono, err := Remix([]float32{0.2, 0.4}, 2, 1)
	require.NoError(t, err)
	require.InDelta(t, 0.3, mono[0], 1e-6)

	surround, err := Remix([]float32{1, 0, 0, 0, 0, 0}, 6, 2)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0}, surround)

	_, err = Remix([]float32{0}, 1, 3)
	require.Error(t, err)
}

func TestResamplerLength(t *testing.T) {
	r := NewResampler(44100, 48000, 2)
	total := 0
	for i := 0; i < 100; i++ {
		out, err := r.Resample(make([]float32, 441*2))
		require.NoError(t, err)
		total += len(out) / 2
	}
	// 1 second of input
	require.InDelta(t, 48000, total, 2)

	_, err := r.Resample(make([]float32, 3))
	require.Error(t, err)
}

func TestResamplerContinuity(t *testing.T) {
	r := NewResampler(8000, 16000, 1)
	ramp := make([]float32, 16)
	for i := range ramp {
		ramp[i] = float32(i)
	}
	a, err := r.Resample(ramp[:8])
	require.NoError(t, err)
	b, err := r.Resample(ramp[8:])
	require.NoError(t, err)
	joined := append(a, b...)
	for i := 1; i < len(joined); i++ {
		require.InDelta(t, 0.5, joined[i]-joined[i-1], 1e-6, "at %d", i)
	}
}

func TestLevels(t *testing.T) {
	require.Equal(t, SilenceDB, RMSLevelDB(nil))
	require.Equal(t, SilenceDB, RMSLevelDB(make([]float32, 10)))
	require.InDelta(t, 0, RMSLevelDB([]float32{1, -1, 1, -1}), 1e-9)
	require.InDelta(t, -6.02, PeakLevelDB([]float32{0.5, -0.25}), 0.01)
	require.InDelta(t, 0.5, DBToNormalized(-30, -60, 0), 1e-9)
	require.Equal(t, 0.0, DBToLinear(-150))

	s := []float32{0.5}
	ApplyGainDB(s, 6.0206)
	require.InDelta(t, 1.0, s[0], 1e-3)
}

func TestNoiseGateAttenuatesSteadyNoise(t *testing.T) {
	g := NewNoiseGate()
	noise := make([]float32, 96000)
	for i := range noise {
		noise[i] = float32(0.01 * math.Sin(float64(i)))
	}
	out := g.Denoise(noise, 1, 48000)
	require.Less(t, RMSLevelDB(out[48000:]), RMSLevelDB(noise[48000:])-10)

	loud := make([]float32, 4800)
	for i := range loud {
		loud[i] = float32(0.8 * math.Sin(float64(i)/5))
	}
	out = g.Denoise(loud, 1, 48000)
	require.InDelta(t, RMSLevelDB(loud[2400:]), RMSLevelDB(out[2400:]), 1)
}

func TestProcessMixesWithSaturation(t *testing.T) {
	p, err := New(Config{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock{
		"mic":     s16Block("mic", screenrecorder.AudioSourceKindMicrophone, 48000, 1, 0, 20*time.Millisecond, 24000),
		"speaker": s16Block("speaker", screenrecorder.AudioSourceKindLoopback, 48000, 2, 0, 20*time.Millisecond, 24000),
	})
	require.NoError(t, err)
	require.Equal(t, 20*time.Millisecond, out.Duration())
	s := floats(t, out)
	require.Equal(t, float32(1), s[0])
	require.Equal(t, float32(1), s[len(s)-1])
}

func TestProcessPadsShorterBlock(t *testing.T) {
	p, err := New(Config{SampleRate: 48000, Channels: 1})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock{
		"a": s16Block("a", screenrecorder.AudioSourceKindLoopback, 48000, 1, 100*time.Millisecond, 20*time.Millisecond, 1000),
		"b": s16Block("b", screenrecorder.AudioSourceKindLoopback, 48000, 1, 110*time.Millisecond, 30*time.Millisecond, 1000),
	})
	require.NoError(t, err)
	require.Equal(t, 100*time.Millisecond, out.Timestamp)
	require.Equal(t, 40*time.Millisecond, out.Duration())
}

func TestProcessResamples(t *testing.T) {
	p, err := New(Config{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	var total time.Duration
	for i := 0; i < 50; i++ {
		out, err := p.Process(context.Background(), map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock{
			"a": s16Block("a", screenrecorder.AudioSourceKindLoopback, 44100, 2, time.Duration(i)*20*time.Millisecond, 20*time.Millisecond, 100),
		})
		require.NoError(t, err)
		total += out.Duration()
	}
	require.InDelta(t, float64(time.Second), float64(total), float64(time.Millisecond))
}

func TestProcessBadSourceBecomesSilence(t *testing.T) {
	p, err := New(Config{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)

	bad := s16Block("bad", screenrecorder.AudioSourceKindLoopback, 48000, 2, 0, 20*time.Millisecond, 100)
	bad.SampleFormat = screenrecorder.SampleFormatUndefined
	out, err := p.Process(context.Background(), map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock{
		"bad":  bad,
		"good": s16Block("good", screenrecorder.AudioSourceKindLoopback, 48000, 2, 0, 20*time.Millisecond, 16384),
	})
	var fmtErr screenrecorder.AudioFormatError
	require.True(t, errors.As(err, &fmtErr))
	require.NotNil(t, out)
	require.InDelta(t, 0.5, floats(t, out)[0], 1e-4)
	require.Equal(t, uint64(1), p.Stats.FormatFailures.Load())
}

type countingDenoiser struct{ calls *int }

func (d countingDenoiser) Denoise(s []float32, _ int, _ uint32) []float32 {
	*d.calls++
	return s
}

func TestProcessDenoisesMicrophoneOnly(t *testing.T) {
	calls := 0
	p, err := New(Config{
		SampleRate:     48000,
		Channels:       2,
		NoiseReduction: true,
		NewDenoiser:    func() Denoiser { return countingDenoiser{calls: &calls} },
	})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock{
		"mic":     s16Block("mic", screenrecorder.AudioSourceKindMicrophone, 48000, 1, 0, 20*time.Millisecond, 1),
		"speaker": s16Block("speaker", screenrecorder.AudioSourceKindLoopback, 48000, 2, 0, 20*time.Millisecond, 1),
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	p.Config.NoiseReduction = false
	_, err = p.Process(context.Background(), map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock{
		"mic": s16Block("mic", screenrecorder.AudioSourceKindMicrophone, 48000, 1, 0, 20*time.Millisecond, 1),
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestAlignerWindows(t *testing.T) {
	a := NewAligner(20*time.Millisecond, 2)
	a.AddSource("mic", screenrecorder.AudioSourceKindMicrophone)
	a.AddSource("speaker", screenrecorder.AudioSourceKindLoopback)

	require.NoError(t, a.Push(s16Block("mic", screenrecorder.AudioSourceKindMicrophone, 48000, 1, 0, 30*time.Millisecond, 1)))
	require.False(t, a.Ready(), "speaker has not delivered yet")

	require.NoError(t, a.Push(s16Block("speaker", screenrecorder.AudioSourceKindLoopback, 44100, 2, 0, 20*time.Millisecond, 1)))
	require.True(t, a.Ready())

	w, ok := a.Pop(false)
	require.True(t, ok)
	require.Len(t, w, 2)
	require.Equal(t, 960, w["mic"].Samples())
	require.Equal(t, 882, w["speaker"].Samples())
	require.False(t, a.Ready())

	// force pads the missing part
	w, ok = a.Pop(true)
	require.True(t, ok)
	require.Equal(t, 960, w["mic"].Samples())
	require.Equal(t, 20*time.Millisecond, w["mic"].Timestamp)
	require.Equal(t, uint64(480+882), a.Stats.PaddedFrames.Load())
	require.Equal(t, int64(30*time.Millisecond), a.Stats.SilenceInserted.Load())
	require.False(t, a.Pending())
}

func TestAlignerLaggingSource(t *testing.T) {
	a := NewAligner(20*time.Millisecond, 1)
	a.AddSource("fast", screenrecorder.AudioSourceKindLoopback)
	a.AddSource("silent", screenrecorder.AudioSourceKindLoopback)
	require.NoError(t, a.Push(s16Block("fast", screenrecorder.AudioSourceKindLoopback, 48000, 1, 0, 60*time.Millisecond, 1)))
	require.True(t, a.Ready())
}

func TestAlignerGapAndOverlap(t *testing.T) {
	a := NewAligner(20*time.Millisecond, 1)
	require.NoError(t, a.Push(s16Block("a", screenrecorder.AudioSourceKindLoopback, 48000, 1, 0, 20*time.Millisecond, 1)))
	// a block far ahead: the gap is filled
	require.NoError(t, a.Push(s16Block("a", screenrecorder.AudioSourceKindLoopback, 48000, 1, 200*time.Millisecond, 20*time.Millisecond, 1)))
	require.Equal(t, uint64(180*48), a.Stats.GapFrames.Load())

	// a stale block (already covered): cut off
	require.NoError(t, a.Push(s16Block("a", screenrecorder.AudioSourceKindLoopback, 48000, 1, 20*time.Millisecond, 20*time.Millisecond, 1)))
	require.Equal(t, uint64(20*48), a.Stats.OverlapFrames.Load())

	count := 0
	for a.Pending() {
		_, ok := a.Pop(true)
		require.True(t, ok)
		count++
	}
	require.Equal(t, 11, count)

	require.NoError(t, a.PushSilence("a", screenrecorder.AudioSourceKindLoopback, 48000, a.Position(), 40*time.Millisecond))
	_, ok := a.Pop(false)
	require.True(t, ok)
	_, ok = a.Pop(false)
	require.True(t, ok)
	_, ok = a.Pop(false)
	require.False(t, ok)
	require.Equal(t, int64(220*time.Millisecond), a.Stats.SilenceInserted.Load())

	require.Error(t, a.Push(s16Block("a", screenrecorder.AudioSourceKindLoopback, 44100, 1, a.Position(), 20*time.Millisecond, 1)))
}
