// Package spectrum turns PCM windows into the byte-scaled frequency frames
// the lip-sync engine consumes, following the Web Audio AnalyserNode model:
// Blackman window, magnitude FFT, exponential smoothing across frames and a
// decibel range mapped onto 0..255.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
)

// ErrInvalidConfig is returned for unusable analyser settings.
var ErrInvalidConfig = errors.New("invalid analyser config")

// Config holds analyser settings. Field names mirror AnalyserNode.
type Config struct {
	FFTSize     int     `mapstructure:"fft_size" json:"fft_size" yaml:"fft_size"`
	Smoothing   float64 `mapstructure:"smoothing" json:"smoothing" yaml:"smoothing"`
	MinDecibels float64 `mapstructure:"min_decibels" json:"min_decibels" yaml:"min_decibels"`
	MaxDecibels float64 `mapstructure:"max_decibels" json:"max_decibels" yaml:"max_decibels"`
}

// DefaultConfig matches a browser AnalyserNode created with fftSize 256.
func DefaultConfig() Config {
	return Config{
		FFTSize:     256,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

func (c Config) Validate() error {
	if c.FFTSize < 2*avatar3d.MinSpectrumBins || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("%w: fft_size %d must be a power of two >= %d", ErrInvalidConfig, c.FFTSize, 2*avatar3d.MinSpectrumBins)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("%w: smoothing %v outside [0,1)", ErrInvalidConfig, c.Smoothing)
	}
	if c.MaxDecibels <= c.MinDecibels {
		return fmt.Errorf("%w: max_decibels %v <= min_decibels %v", ErrInvalidConfig, c.MaxDecibels, c.MinDecibels)
	}
	return nil
}

// Analyzer produces one AudioFrame per call. It keeps the smoothed spectrum
// between calls and is owned by a single frame loop.
type Analyzer struct {
	cfg      Config
	window   []float64
	smoothed []float64
	buf      []float64
}

func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{
		cfg:      cfg,
		window:   window.Blackman(cfg.FFTSize),
		smoothed: make([]float64, cfg.FFTSize/2),
		buf:      make([]float64, cfg.FFTSize),
	}, nil
}

func (a *Analyzer) Config() Config {
	return a.cfg
}

// Bins is the number of frequency bins per frame.
func (a *Analyzer) Bins() int {
	return a.cfg.FFTSize / 2
}

// Analyze windows the most recent FFTSize samples (zero padded in front when
// fewer are given) and returns the frame. Samples are expected in [-1,1].
func (a *Analyzer) Analyze(samples []float64) *avatar3d.AudioFrame {
	n := a.cfg.FFTSize
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	pad := n - len(samples)
	for i := 0; i < pad; i++ {
		a.buf[i] = 0
	}

	var sum float64
	for i, s := range samples {
		if !isFinite(s) {
			s = 0
		}
		sum += s * s
		a.buf[pad+i] = s * a.window[pad+i]
	}
	volume := 0.0
	if len(samples) > 0 {
		volume = math.Min(1, math.Sqrt(sum/float64(len(samples))))
	}

	spec := fft.FFTReal(a.buf)
	bins := a.Bins()
	freqs := make([]float64, bins)
	tau := a.cfg.Smoothing
	scale := 255 / (a.cfg.MaxDecibels - a.cfg.MinDecibels)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(spec[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
		freqs[k] = byteScale(a.smoothed[k], a.cfg.MinDecibels, scale)
	}

	low, mid, high := thirds(freqs)
	return &avatar3d.AudioFrame{
		Volume:      volume,
		LowFreq:     low,
		MidFreq:     mid,
		HighFreq:    high,
		Frequencies: freqs,
	}
}

// Reset clears the smoothing history.
func (a *Analyzer) Reset() {
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
}

func byteScale(mag, minDb, scale float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := math.Floor(scale * (db - minDb))
	return math.Max(0, math.Min(255, v))
}

// thirds averages the lower, middle and upper third of the bins, normalized
// to [0,1].
func thirds(freqs []float64) (low, mid, high float64) {
	n := len(freqs)
	third := n / 3
	if third == 0 {
		return 0, 0, 0
	}
	avg := func(part []float64) float64 {
		var s float64
		for _, v := range part {
			s += v
		}
		return s / float64(len(part)) / 255
	}
	return avg(freqs[:third]), avg(freqs[third : 2*third]), avg(freqs[2*third:])
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
