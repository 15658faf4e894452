package avatar3d

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func spectrum(n int, fill func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = fill(i)
	}
	return out
}

func TestAnalyzeBands(t *testing.T) {
	tests := []struct {
		name  string
		freqs []float64
		want  Bands
	}{
		{
			name:  "empty",
			freqs: nil,
			want:  Bands{},
		},
		{
			name:  "full scale",
			freqs: spectrum(64, func(int) float64 { return 255 }),
			want:  Bands{VeryLow: 1, LowMid: 1, MidHigh: 1, Highest: 1},
		},
		{
			name: "vowel only",
			freqs: spectrum(64, func(i int) float64 {
				if i < 8 {
					return 200
				}
				return 0
			}),
			want: Bands{VeryLow: 200.0 / 255},
		},
		{
			name:  "forty bins leaves highest empty",
			freqs: spectrum(40, func(int) float64 { return 51 }),
			want:  Bands{VeryLow: 0.2, LowMid: 0.2, MidHigh: 0.2, Highest: 0},
		},
		{
			name:  "short input divides by full band width",
			freqs: spectrum(4, func(int) float64 { return 255 }),
			want:  Bands{VeryLow: 0.5},
		},
		{
			name:  "out of range and non finite bins",
			freqs: []float64{math.NaN(), math.Inf(1), -40, 510, 0, 0, 0, 0},
			want:  Bands{VeryLow: 255.0 / 8 / 255},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeBands(tt.freqs)
			assert.InDelta(t, tt.want.VeryLow, got.VeryLow, 1e-9)
			assert.InDelta(t, tt.want.LowMid, got.LowMid, 1e-9)
			assert.InDelta(t, tt.want.MidHigh, got.MidHigh, 1e-9)
			assert.InDelta(t, tt.want.Highest, got.Highest, 1e-9)
		})
	}
}

func TestAnalyzeBands_IgnoresBinsPastSixty(t *testing.T) {
	freqs := spectrum(128, func(i int) float64 {
		if i >= MinSpectrumBins {
			return 255
		}
		return 0
	})
	assert.Equal(t, Bands{}, AnalyzeBands(freqs))
}
