package audioproc

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/xaionaro-go/screenrecorder"
)

const DefaultMaxLagWindows = 3

// Aligner slices the audio of every source into windows of a fixed
// duration placed on the recording timeline.
//
// Incoming blocks are placed by their timestamp: a gap larger than the
// tolerance is filled with silence, an overlap (e.g. a backlog delivered
// after the timeline was already padded) is cut off.
type Aligner struct {
	Window    time.Duration
	Channels  int
	MaxLag    int
	Tolerance time.Duration

	sources []*alignedSource
	byID    map[screenrecorder.AudioSourceID]*alignedSource
	windows uint64

	Stats AlignerStats
}

type AlignerStats struct {
	GapFrames      atomic.Uint64
	OverlapFrames  atomic.Uint64
	PaddedFrames   atomic.Uint64
	WindowsEmitted atomic.Uint64

	// SilenceInserted is the total duration (in nanoseconds) of silence
	// put into the sources: gaps, padding and PushSilence.
	SilenceInserted atomic.Int64
}

func (s *AlignerStats) addSilence(frames int, rate uint32) {
	if frames <= 0 || rate == 0 {
		return
	}
	s.SilenceInserted.Add(int64(screenrecorder.SamplesDuration(frames, rate)))
}

type alignedSource struct {
	id          screenrecorder.AudioSourceID
	kind        screenrecorder.AudioSourceKind
	rate        uint32
	buf         []float32
	takenFrames int
	closed      bool
}

func NewAligner(window time.Duration, channels int) *Aligner {
	return &Aligner{
		Window:    window,
		Channels:  channels,
		MaxLag:    DefaultMaxLagWindows,
		Tolerance: DefaultMaxLagWindows * window,
		byID:      map[screenrecorder.AudioSourceID]*alignedSource{},
	}
}

// AddSource registers a source expected to deliver audio.
func (a *Aligner) AddSource(id screenrecorder.AudioSourceID, kind screenrecorder.AudioSourceKind) {
	if _, ok := a.byID[id]; ok {
		return
	}
	src := &alignedSource{id: id, kind: kind}
	a.sources = append(a.sources, src)
	a.byID[id] = src
}

// CloseSource marks the source as finished: it is not waited for anymore.
func (a *Aligner) CloseSource(id screenrecorder.AudioSourceID) {
	if src, ok := a.byID[id]; ok {
		src.closed = true
	}
}

// Position returns the timeline position of the next window.
func (a *Aligner) Position() screenrecorder.Timestamp {
	return time.Duration(a.windows) * a.Window
}

func (a *Aligner) source(id screenrecorder.AudioSourceID, kind screenrecorder.AudioSourceKind) *alignedSource {
	src, ok := a.byID[id]
	if !ok {
		a.AddSource(id, kind)
		src = a.byID[id]
	}
	return src
}

func (a *Aligner) Push(b *screenrecorder.AudioBlock) error {
	raw, err := ToFloat32(b)
	if err != nil {
		return err
	}
	samples, err := Remix(raw, int(b.Channels), a.Channels)
	if err != nil {
		return err
	}
	src := a.source(b.SourceID, b.SourceKind)
	if err := a.initRate(src, b.SampleRate); err != nil {
		return err
	}
	a.appendAligned(src, b.Timestamp, samples)
	return nil
}

// PushSilence places silence of the given duration for the source at ts.
func (a *Aligner) PushSilence(
	id screenrecorder.AudioSourceID,
	kind screenrecorder.AudioSourceKind,
	sampleRate uint32,
	ts screenrecorder.Timestamp,
	d time.Duration,
) error {
	src := a.source(id, kind)
	if err := a.initRate(src, sampleRate); err != nil {
		return err
	}
	frames := screenrecorder.DurationSamples(d, src.rate)
	kept := a.appendAligned(src, ts, make([]float32, frames*a.Channels))
	a.Stats.addSilence(kept, src.rate)
	return nil
}

func (a *Aligner) initRate(src *alignedSource, rate uint32) error {
	if rate == 0 {
		return screenrecorder.AudioFormatError{Reason: "zero sample rate"}
	}
	switch src.rate {
	case 0:
		src.rate = rate
		src.takenFrames = screenrecorder.DurationSamples(a.Position(), rate)
	case rate:
	default:
		return screenrecorder.AudioFormatError{Reason: fmt.Sprintf("source '%s' changed its sample rate from %d to %d", src.id, src.rate, rate)}
	}
	return nil
}

// appendAligned returns the amount of frames of samples which were kept.
func (a *Aligner) appendAligned(src *alignedSource, ts screenrecorder.Timestamp, samples []float32) int {
	ch := a.Channels
	endFrame := src.takenFrames + len(src.buf)/ch
	startFrame := screenrecorder.DurationSamples(ts, src.rate)
	tolerance := screenrecorder.DurationSamples(a.Tolerance, src.rate)

	switch diff := startFrame - endFrame; {
	case diff > tolerance:
		src.buf = append(src.buf, make([]float32, diff*ch)...)
		a.Stats.GapFrames.Add(uint64(diff))
		a.Stats.addSilence(diff, src.rate)
	case -diff > tolerance:
		cut := min(-diff, len(samples)/ch)
		samples = samples[cut*ch:]
		a.Stats.OverlapFrames.Add(uint64(cut))
	}
	src.buf = append(src.buf, samples...)
	return len(samples) / ch
}

func (a *Aligner) windowFrames(src *alignedSource) int {
	return screenrecorder.DurationSamples(time.Duration(a.windows+1)*a.Window, src.rate) -
		screenrecorder.DurationSamples(time.Duration(a.windows)*a.Window, src.rate)
}

// Ready reports whether a window can be emitted without forcing: every
// open source has a full window buffered, or some source is MaxLag windows ahead.
func (a *Aligner) Ready() bool {
	if len(a.sources) == 0 {
		return false
	}
	all := true
	for _, src := range a.sources {
		if src.rate == 0 {
			if !src.closed {
				all = false
			}
			continue
		}
		buffered := len(src.buf) / a.Channels
		wf := a.windowFrames(src)
		if buffered >= wf*a.MaxLag {
			return true
		}
		if buffered < wf && !src.closed {
			all = false
		}
	}
	return all && a.Pending()
}

// Pending reports whether any source has buffered samples.
func (a *Aligner) Pending() bool {
	for _, src := range a.sources {
		if len(src.buf) > 0 {
			return true
		}
	}
	return false
}

// Pop emits the next window of every source that has delivered audio,
// padding the missing part with silence. Unless force is set it emits
// only if Ready. The returned map is empty if no source has delivered
// anything yet.
func (a *Aligner) Pop(force bool) (map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock, bool) {
	if !force && !a.Ready() {
		return nil, false
	}
	ts := a.Position()
	result := make(map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock, len(a.sources))
	for _, src := range a.sources {
		if src.rate == 0 {
			continue
		}
		wf := a.windowFrames(src)
		n := wf * a.Channels
		window := make([]float32, n)
		taken := copy(window, src.buf)
		src.buf = src.buf[taken:]
		if len(src.buf) == 0 {
			src.buf = nil
		}
		if pad := (n - taken) / a.Channels; pad > 0 {
			a.Stats.PaddedFrames.Add(uint64(pad))
			a.Stats.addSilence(pad, src.rate)
		}
		src.takenFrames += wf

		data, _ := FromFloat32(window, screenrecorder.SampleFormatF32LE)
		result[src.id] = &screenrecorder.AudioBlock{
			SourceID:     src.id,
			SourceKind:   src.kind,
			SampleRate:   src.rate,
			Channels:     uint16(a.Channels),
			SampleFormat: screenrecorder.SampleFormatF32LE,
			Data:         data,
			Timestamp:    ts,
		}
	}
	a.windows++
	a.Stats.WindowsEmitted.Add(1)
	return result, true
}
