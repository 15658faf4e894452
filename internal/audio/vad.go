package audio

import (
	"math"
	"sync"
	"time"
)

// VAD implements Voice Activity Detection using RMS energy analysis.
// Silence tolerance is measured on the audio timeline passed to Process, so
// offline runs behave like real-time ones.
type VAD struct {
	config *VADConfig
	mu     sync.RWMutex

	// State
	isActive   bool
	lastActive time.Duration

	// Smoothing
	energyHistory []float64
	historyIndex  int
	filled        int
}

// VADConfig holds VAD configuration
type VADConfig struct {
	Threshold       float64 `mapstructure:"threshold" json:"threshold" yaml:"threshold"`                      // Energy threshold (0-1), default 0.01
	SmoothingFrames int     `mapstructure:"smoothing_frames" json:"smoothing_frames" yaml:"smoothing_frames"` // Number of frames to smooth, default 3
	MaxSilenceMs    int     `mapstructure:"max_silence_ms" json:"max_silence_ms" yaml:"max_silence_ms"`       // Max silence before end, default 300
}

// DefaultVADConfig returns sensible defaults
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		Threshold:       0.01, // RMS threshold
		SmoothingFrames: 3,
		MaxSilenceMs:    300,
	}
}

// NewVAD creates a new VAD instance
func NewVAD(config *VADConfig) *VAD {
	if config == nil {
		config = DefaultVADConfig()
	}
	frames := config.SmoothingFrames
	if frames < 1 {
		frames = 1
	}

	return &VAD{
		config:        config,
		energyHistory: make([]float64, frames),
	}
}

// Process analyzes samples ending at stream position at and returns the
// VAD result.
func (v *VAD) Process(samples []float64, at time.Duration) *VADResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	// Calculate RMS energy
	rms := RMS(samples)

	// Update smoothing history
	v.energyHistory[v.historyIndex] = rms
	v.historyIndex = (v.historyIndex + 1) % len(v.energyHistory)
	if v.filled < len(v.energyHistory) {
		v.filled++
	}

	// Calculate smoothed energy
	smoothedRMS := v.calculateSmoothedRMS()

	// Determine speech activity
	isSpeech := smoothedRMS >= v.config.Threshold

	if isSpeech {
		v.isActive = true
		v.lastActive = at
	} else if v.isActive {
		// Check if silence has exceeded max duration
		silence := at - v.lastActive
		if silence > time.Duration(v.config.MaxSilenceMs)*time.Millisecond {
			v.isActive = false
		} else {
			// Still in speech segment (within silence tolerance)
			isSpeech = true
		}
	}

	// Calculate confidence based on how far above/below threshold
	var confidence float64
	if isSpeech {
		confidence = math.Min(1.0, 0.5+(smoothedRMS-v.config.Threshold)*10)
	} else {
		confidence = math.Max(0.0, 0.5-(v.config.Threshold-smoothedRMS)*10)
	}

	return &VADResult{
		IsSpeech:   isSpeech,
		Confidence: confidence,
		RMS:        smoothedRMS,
	}
}

// RMS computes root mean square energy of float samples. Non-finite samples
// count as silence.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// calculateSmoothedRMS returns the average RMS over the filled history window
func (v *VAD) calculateSmoothedRMS() float64 {
	if v.filled == 0 {
		return 0
	}
	var sum float64
	for _, e := range v.energyHistory {
		sum += e
	}
	return sum / float64(v.filled)
}

// IsActive returns whether speech is currently detected
func (v *VAD) IsActive() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isActive
}

// Reset clears VAD state
func (v *VAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isActive = false
	v.lastActive = 0
	v.historyIndex = 0
	v.filled = 0
	for i := range v.energyHistory {
		v.energyHistory[i] = 0
	}
}

// UpdateConfig updates VAD configuration
func (v *VAD) UpdateConfig(config *VADConfig) {
	if config == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.config = config

	// Resize history if needed
	frames := config.SmoothingFrames
	if frames < 1 {
		frames = 1
	}
	if len(v.energyHistory) != frames {
		v.energyHistory = make([]float64, frames)
		v.historyIndex = 0
		v.filled = 0
	}
}
