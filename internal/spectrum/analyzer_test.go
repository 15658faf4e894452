package spectrum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
)

func sine(n, bin int, amp float64, size int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(size))
	}
	return out
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"not power of two", func(c *Config) { c.FFTSize = 300 }, true},
		{"too few bins", func(c *Config) { c.FFTSize = 64 }, true},
		{"smoothing one", func(c *Config) { c.Smoothing = 1 }, true},
		{"inverted decibels", func(c *Config) { c.MinDecibels = -20 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAnalyzer_Silence(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig())
	require.NoError(t, err)

	frame := a.Analyze(make([]float64, 256))

	require.Len(t, frame.Frequencies, 128)
	assert.Zero(t, frame.Volume)
	for _, v := range frame.Frequencies {
		assert.Zero(t, v)
	}
	assert.Equal(t, avatar3d.Bands{}, avatar3d.AnalyzeBands(frame.Frequencies))
}

func TestAnalyzer_SinePeaksAtItsBin(t *testing.T) {
	for _, bin := range []int{4, 12, 30, 50} {
		a, err := NewAnalyzer(DefaultConfig())
		require.NoError(t, err)

		var frame *avatar3d.AudioFrame
		for i := 0; i < 20; i++ {
			frame = a.Analyze(sine(256, bin, 0.01, 256))
		}

		require.Len(t, frame.Frequencies, a.Bins())
		assert.Equal(t, bin, argmax(frame.Frequencies), "bin %d", bin)
		for _, v := range frame.Frequencies {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 255.0)
		}
		assert.InDelta(t, 0.01/math.Sqrt2, frame.Volume, 1e-3)
	}
}

func TestAnalyzer_LowToneDrivesVowelBand(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig())
	require.NoError(t, err)

	var frame *avatar3d.AudioFrame
	for i := 0; i < 20; i++ {
		frame = a.Analyze(sine(256, 3, 0.05, 256))
	}
	bands := avatar3d.AnalyzeBands(frame.Frequencies)

	assert.Greater(t, bands.VeryLow, 0.15)
	assert.Less(t, bands.Highest, 0.05)
	assert.Greater(t, frame.LowFreq, frame.HighFreq)
}

func TestAnalyzer_SmoothingAndReset(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig())
	require.NoError(t, err)

	first := a.Analyze(sine(256, 10, 0.01, 256)).Frequencies[10]
	second := a.Analyze(sine(256, 10, 0.01, 256)).Frequencies[10]
	assert.Greater(t, second, first)

	a.Reset()
	again := a.Analyze(sine(256, 10, 0.01, 256)).Frequencies[10]
	assert.Equal(t, first, again)
}

func TestAnalyzer_ShortAndDirtyInput(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig())
	require.NoError(t, err)

	frame := a.Analyze([]float64{math.NaN(), math.Inf(1), 0.5})
	assert.Len(t, frame.Frequencies, 128)
	assert.False(t, math.IsNaN(frame.Volume))

	frame = a.Analyze(nil)
	assert.Zero(t, frame.Volume)
}
