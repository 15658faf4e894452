package avatar3d

import "math"

// Bands holds four normalized spectral energies, roughly vowel formants
// (VeryLow) through sibilants and fricatives (Highest).
type Bands struct {
	VeryLow float64 `json:"very_low"`
	LowMid  float64 `json:"low_mid"`
	MidHigh float64 `json:"mid_high"`
	Highest float64 `json:"highest"`
}

type binRange struct{ lo, hi int }

var (
	veryLowRange = binRange{0, 8}
	lowMidRange  = binRange{8, 20}
	midHighRange = binRange{20, 40}
	highestRange = binRange{40, 60}
)

// MinSpectrumBins is the number of bins the band layout expects.
const MinSpectrumBins = 60

// AnalyzeBands reduces byte-scaled frequency bins ([0,255]) into Bands.
// Bins past the end of the input count as zero; non-finite bins count as zero.
func AnalyzeBands(freqs []float64) Bands {
	return Bands{
		VeryLow: bandMean(freqs, veryLowRange),
		LowMid:  bandMean(freqs, lowMidRange),
		MidHigh: bandMean(freqs, midHighRange),
		Highest: bandMean(freqs, highestRange),
	}
}

func bandMean(freqs []float64, r binRange) float64 {
	var sum float64
	for i := r.lo; i < r.hi && i < len(freqs); i++ {
		v := freqs[i]
		if !finite(v) {
			continue
		}
		sum += clamp64(v, 0, 255)
	}
	return sum / float64(r.hi-r.lo) / 255
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampWeight maps any value onto a writable weight; NaN becomes rest.
func clampWeight(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return clamp(v, 0, 1)
}
