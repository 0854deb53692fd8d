package synthetic

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/xaionaro-go/screenrecorder"
)

// AudioSource generates S16LE blocks of a sine tone (or silence if
// Frequency is zero). Timestamps are contiguous: block N starts at
// N*BlockDuration.
type AudioSource struct {
	Kind          screenrecorder.AudioSourceKind
	SampleRate    uint32
	Channels      uint16
	BlockDuration time.Duration
	Frequency     float64
	// Amplitude is in range [0, 1].
	Amplitude float64

	// Blocks limits the amount of blocks; 0 means unlimited. After the
	// last block the source times out, or reports ErrClosed if CloseWhenDone.
	Blocks        uint64
	CloseWhenDone bool

	// StallAfter makes the source stop delivering (timing out) after
	// the given amount of blocks, as a hung device does; 0 disables it.
	StallAfter uint64

	// Paced makes the source deliver blocks in real time.
	Paced bool

	locker    sync.Mutex
	index     uint64
	startedAt time.Time
}

var _ screenrecorder.AudioSource = (*AudioSource)(nil)

func NewAudioSource(kind screenrecorder.AudioSourceKind, sampleRate uint32, channels uint16) *AudioSource {
	return &AudioSource{
		Kind:          kind,
		SampleRate:    sampleRate,
		Channels:      channels,
		BlockDuration: 20 * time.Millisecond,
		Frequency:     440,
		Amplitude:     0.5,
	}
}

// Produced returns the amount of blocks returned so far.
func (s *AudioSource) Produced() uint64 {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.index
}

func (s *AudioSource) NextBlock(ctx context.Context, timeout time.Duration) (*screenrecorder.AudioBlock, error) {
	s.locker.Lock()
	defer s.locker.Unlock()

	if s.SampleRate == 0 || s.Channels == 0 || s.BlockDuration <= 0 {
		return nil, fmt.Errorf("the synthetic audio source is not configured: %dHz %dch %v", s.SampleRate, s.Channels, s.BlockDuration)
	}
	if s.StallAfter > 0 && s.index >= s.StallAfter {
		return nil, idle(ctx, timeout)
	}
	if s.Blocks > 0 && s.index >= s.Blocks {
		if s.CloseWhenDone {
			return nil, screenrecorder.ErrClosed
		}
		return nil, idle(ctx, timeout)
	}

	ts := time.Duration(s.index) * s.BlockDuration
	if s.Paced {
		if s.startedAt.IsZero() {
			s.startedAt = time.Now()
		}
		wait := time.Until(s.startedAt.Add(ts + s.BlockDuration))
		if wait > timeout {
			return nil, idle(ctx, timeout)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	first := screenrecorder.DurationSamples(ts, s.SampleRate)
	samples := screenrecorder.DurationSamples(ts+s.BlockDuration, s.SampleRate) - first
	data := make([]byte, samples*int(s.Channels)*2)
	if s.Frequency > 0 {
		for i := 0; i < samples; i++ {
			t := float64(first+i) / float64(s.SampleRate)
			v := int16(math.Round(s.Amplitude * math.MaxInt16 * math.Sin(2*math.Pi*s.Frequency*t)))
			for ch := 0; ch < int(s.Channels); ch++ {
				binary.LittleEndian.PutUint16(data[(i*int(s.Channels)+ch)*2:], uint16(v))
			}
		}
	}
	s.index++
	return &screenrecorder.AudioBlock{
		SourceKind:   s.Kind,
		SampleRate:   s.SampleRate,
		Channels:     s.Channels,
		SampleFormat: screenrecorder.SampleFormatS16LE,
		Data:         data,
		Timestamp:    ts,
	}, nil
}
