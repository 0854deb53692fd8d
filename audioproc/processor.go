// Package audioproc normalizes, denoises and mixes the audio of all sources
// into the single stream fed to the audio encoder.
package audioproc

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/screenrecorder"
)

type SourceConfig struct {
	Kind   screenrecorder.AudioSourceKind
	GainDB float64
}

type Config struct {
	SampleRate     uint32
	Channels       uint16
	NoiseReduction bool
	Sources        map[screenrecorder.AudioSourceID]SourceConfig

	// NewDenoiser creates a denoiser per microphone source; NewNoiseGate if nil.
	NewDenoiser func() Denoiser
}

type Stats struct {
	BlocksProcessed  atomic.Uint64
	ResampleFailures atomic.Uint64
	FormatFailures   atomic.Uint64
	SilenceSamples   atomic.Uint64
}

type sourceState struct {
	resampler *Resampler
	denoiser  Denoiser
}

// Processor keeps per-source resampling and denoising state; Process must
// not be called concurrently.
type Processor struct {
	Config  Config
	Stats   Stats
	sources map[screenrecorder.AudioSourceID]*sourceState
}

func New(cfg Config) (*Processor, error) {
	if cfg.SampleRate == 0 {
		return nil, screenrecorder.ConfigError{Field: "audio.sample_rate", Reason: "is zero"}
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, screenrecorder.ConfigError{Field: "audio.channels", Reason: fmt.Sprintf("expected 1 or 2, got %d", cfg.Channels)}
	}
	if cfg.NewDenoiser == nil {
		cfg.NewDenoiser = func() Denoiser { return NewNoiseGate() }
	}
	return &Processor{
		Config:  cfg,
		sources: map[screenrecorder.AudioSourceID]*sourceState{},
	}, nil
}

type prepared struct {
	start   screenrecorder.Timestamp
	samples []float32
}

// Process converts every block to the target format, denoises microphone
// sources (if enabled), aligns the blocks by timestamp padding the shorter
// ones with silence, and mixes them with saturation.
//
// A source in an unsupported format is replaced by silence of the same
// duration; in that case the mixed block is still returned together with
// an AudioFormatError.
func (p *Processor) Process(
	ctx context.Context,
	blocks map[screenrecorder.AudioSourceID]*screenrecorder.AudioBlock,
) (_ret *screenrecorder.AudioBlock, _err error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no blocks to process")
	}

	ids := make([]screenrecorder.AudioSourceID, 0, len(blocks))
	for id, b := range blocks {
		if b != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 0 {
		return nil, fmt.Errorf("no blocks to process")
	}

	var mErr *multierror.Error
	channels := int(p.Config.Channels)
	items := make([]prepared, 0, len(ids))
	for _, id := range ids {
		b := blocks[id]
		samples, err := p.prepare(ctx, id, b)
		if err != nil {
			p.Stats.FormatFailures.Add(1)
			mErr = multierror.Append(mErr, fmt.Errorf("source '%s': %w", id, err))
			n := screenrecorder.DurationSamples(b.Duration(), p.Config.SampleRate) * channels
			samples = make([]float32, n)
			p.Stats.SilenceSamples.Add(uint64(n / channels))
		}
		items = append(items, prepared{start: b.Timestamp, samples: samples})
	}

	start := items[0].start
	for _, it := range items[1:] {
		if it.start < start {
			start = it.start
		}
	}
	total := 0
	offsets := make([]int, len(items))
	for idx, it := range items {
		offsets[idx] = screenrecorder.DurationSamples(it.start-start, p.Config.SampleRate) * channels
		if end := offsets[idx] + len(it.samples); end > total {
			total = end
		}
	}

	mixed := make([]float32, total)
	for idx, it := range items {
		dst := mixed[offsets[idx]:]
		for i, s := range it.samples {
			dst[i] += s
		}
	}
	for i, s := range mixed {
		mixed[i] = Saturate(s)
	}

	data, err := FromFloat32(mixed, screenrecorder.SampleFormatF32LE)
	if err != nil {
		return nil, err
	}
	p.Stats.BlocksProcessed.Add(1)
	out := &screenrecorder.AudioBlock{
		SourceID:     "mix",
		SampleRate:   p.Config.SampleRate,
		Channels:     p.Config.Channels,
		SampleFormat: screenrecorder.SampleFormatF32LE,
		Data:         data,
		Timestamp:    start,
	}
	if len(ids) == 1 {
		out.SourceID = ids[0]
		out.SourceKind = blocks[ids[0]].SourceKind
	}
	return out, mErr.ErrorOrNil()
}

func (p *Processor) prepare(
	ctx context.Context,
	id screenrecorder.AudioSourceID,
	b *screenrecorder.AudioBlock,
) ([]float32, error) {
	raw, err := ToFloat32(b)
	if err != nil {
		return nil, err
	}
	channels := int(p.Config.Channels)
	samples, err := Remix(raw, int(b.Channels), channels)
	if err != nil {
		return nil, err
	}

	st := p.sources[id]
	if st == nil {
		st = &sourceState{}
		p.sources[id] = st
	}
	if st.resampler == nil || st.resampler.From != b.SampleRate {
		st.resampler = NewResampler(b.SampleRate, p.Config.SampleRate, channels)
	}
	resampled, err := st.resampler.Resample(samples)
	if err != nil {
		p.Stats.ResampleFailures.Add(1)
		n := screenrecorder.DurationSamples(b.Duration(), p.Config.SampleRate) * channels
		logger.Warnf(ctx, "unable to resample %s, substituting %d samples of silence: %v", b, n/channels, err)
		p.Stats.SilenceSamples.Add(uint64(n / channels))
		resampled = make([]float32, n)
	}

	srcCfg := p.Config.Sources[id]
	ApplyGainDB(resampled, srcCfg.GainDB)

	kind := b.SourceKind
	if srcCfg.Kind != screenrecorder.AudioSourceKindUndefined {
		kind = srcCfg.Kind
	}
	if p.Config.NoiseReduction && kind == screenrecorder.AudioSourceKindMicrophone {
		if st.denoiser == nil {
			st.denoiser = p.Config.NewDenoiser()
		}
		resampled = st.denoiser.Denoise(resampled, channels, p.Config.SampleRate)
	}
	return resampled, nil
}

// Silence returns a silent block in the output format.
func (p *Processor) Silence(ts screenrecorder.Timestamp, d time.Duration) *screenrecorder.AudioBlock {
	n := screenrecorder.DurationSamples(d, p.Config.SampleRate) * int(p.Config.Channels)
	return &screenrecorder.AudioBlock{
		SourceID:     "silence",
		SampleRate:   p.Config.SampleRate,
		Channels:     p.Config.Channels,
		SampleFormat: screenrecorder.SampleFormatF32LE,
		Data:         make([]byte, n*4),
		Timestamp:    ts,
	}
}
