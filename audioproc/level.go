package audioproc

import (
	"math"
)

// SilenceDB is reported for signals below the noise floor.
const SilenceDB = -200.0

// RMSLevelDB returns the RMS level in dBFS.
func RMSLevelDB(samples []float32) float64 {
	if len(samples) == 0 {
		return SilenceDB
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms <= 1e-10 {
		return SilenceDB
	}
	return 20 * math.Log10(rms)
}

// PeakLevelDB returns the peak level in dBFS.
func PeakLevelDB(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	if peak <= 1e-10 {
		return SilenceDB
	}
	return 20 * math.Log10(peak)
}

// DBToNormalized maps a level into [0, 1] within [minDB, maxDB].
func DBToNormalized(db, minDB, maxDB float64) float64 {
	db = math.Max(minDB, math.Min(maxDB, db))
	return (db - minDB) / (maxDB - minDB)
}

// DBToLinear converts a gain in dB into a multiplier; -120dB and below is mute.
func DBToLinear(db float64) float64 {
	if db <= -120 {
		return 0
	}
	return math.Pow(10, db/20)
}

// ApplyGainDB multiplies the samples in place.
func ApplyGainDB(samples []float32, db float64) {
	if db == 0 {
		return
	}
	gain := float32(DBToLinear(db))
	for i := range samples {
		samples[i] *= gain
	}
}
