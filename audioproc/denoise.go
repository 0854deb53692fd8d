package audioproc

import (
	"math"
)

// Denoiser suppresses background noise of a single continuous stream.
type Denoiser interface {
	Denoise(samples []float32, channels int, sampleRate uint32) []float32
}

// NoiseGate is a Denoiser that attenuates the signal whenever its envelope
// is close to the tracked noise floor.
type NoiseGate struct {
	// ThresholdDB is how far above the noise floor the signal must be to open the gate.
	ThresholdDB float64
	// ReductionDB is the attenuation applied while the gate is closed.
	ReductionDB float64
	Attack      float64 // seconds
	Release     float64 // seconds

	floor    float64
	envelope float64
	gain     float64
	primed   bool
}

func NewNoiseGate() *NoiseGate {
	return &NoiseGate{
		ThresholdDB: 6,
		ReductionDB: -24,
		Attack:      0.005,
		Release:     0.150,
		gain:        1,
	}
}

var _ Denoiser = (*NoiseGate)(nil)

func (g *NoiseGate) Denoise(samples []float32, channels int, sampleRate uint32) []float32 {
	if channels <= 0 || sampleRate == 0 || len(samples) == 0 {
		return samples
	}
	out := make([]float32, len(samples))
	frames := len(samples) / channels

	rate := float64(sampleRate)
	envCoef := math.Exp(-1 / (0.010 * rate))
	attackCoef := math.Exp(-1 / (g.Attack * rate))
	releaseCoef := math.Exp(-1 / (g.Release * rate))
	// the floor follows drops immediately; it rises quickly while the
	// gate is closed and very slowly while a signal is present
	floorRiseClosed := math.Exp(-1 / (0.5 * rate))
	floorRiseOpen := math.Exp(-1 / (10 * rate))
	threshold := DBToLinear(g.ThresholdDB)
	closed := DBToLinear(g.ReductionDB)

	if !g.primed {
		g.prime(samples, channels, int(rate/100))
	}

	for i := 0; i < frames; i++ {
		var peak float64
		for c := 0; c < channels; c++ {
			peak = math.Max(peak, math.Abs(float64(samples[i*channels+c])))
		}
		g.envelope = envCoef*g.envelope + (1-envCoef)*peak

		open := g.envelope > g.floor*threshold+1e-6
		switch {
		case g.envelope < g.floor:
			g.floor = g.envelope
		case open:
			g.floor = floorRiseOpen*g.floor + (1-floorRiseOpen)*g.envelope
		default:
			g.floor = floorRiseClosed*g.floor + (1-floorRiseClosed)*g.envelope
		}

		target := closed
		if open {
			target = 1
		}
		if target > g.gain {
			g.gain = attackCoef*g.gain + (1-attackCoef)*target
		} else {
			g.gain = releaseCoef*g.gain + (1-releaseCoef)*target
		}
		for c := 0; c < channels; c++ {
			out[i*channels+c] = samples[i*channels+c] * float32(g.gain)
		}
	}
	return out
}

// prime initializes the envelope and the floor with the mean level of the first frames.
func (g *NoiseGate) prime(samples []float32, channels int, frames int) {
	frames = max(1, min(frames, len(samples)/channels))
	var sum float64
	for i := 0; i < frames; i++ {
		var peak float64
		for c := 0; c < channels; c++ {
			peak = math.Max(peak, math.Abs(float64(samples[i*channels+c])))
		}
		sum += peak
	}
	g.envelope = sum / float64(frames)
	g.floor = g.envelope
	g.primed = true
}
