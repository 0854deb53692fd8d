package audioproc

import (
	"fmt"
	"math"
)

// Resampler converts a continuous interleaved stream between sample rates
// using linear interpolation. It keeps the fractional position and the
// last frame between calls so consecutive blocks join without clicks.
type Resampler struct {
	From     uint32
	To       uint32
	Channels int

	pos     float64
	last    []float32
	hasLast bool
}

func NewResampler(from, to uint32, channels int) *Resampler {
	return &Resampler{From: from, To: to, Channels: channels}
}

func (r *Resampler) Resample(in []float32) ([]float32, error) {
	if r.From == 0 || r.To == 0 {
		return nil, fmt.Errorf("invalid rates %d -> %d", r.From, r.To)
	}
	ch := r.Channels
	if ch <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", ch)
	}
	if len(in)%ch != 0 {
		return nil, fmt.Errorf("%d samples is not a whole amount of %d-channel frames", len(in), ch)
	}
	if r.From == r.To {
		out := make([]float32, len(in))
		copy(out, in)
		return out, nil
	}

	frames := len(in) / ch
	if frames == 0 {
		return nil, nil
	}

	step := float64(r.From) / float64(r.To)
	sample := func(idx, c int) float32 {
		if idx < 0 {
			return r.last[c]
		}
		return in[idx*ch+c]
	}

	out := make([]float32, 0, (int(float64(frames)/step)+2)*ch)
	for {
		i := int(math.Floor(r.pos))
		if i+1 >= frames {
			break
		}
		frac := float32(r.pos - float64(i))
		for c := 0; c < ch; c++ {
			a, b := sample(i, c), sample(i+1, c)
			out = append(out, a+(b-a)*frac)
		}
		r.pos += step
	}

	// rebase: the last frame of this block becomes index -1
	r.pos -= float64(frames)
	if r.last == nil {
		r.last = make([]float32, ch)
	}
	copy(r.last, in[(frames-1)*ch:])
	r.hasLast = true
	return out, nil
}
