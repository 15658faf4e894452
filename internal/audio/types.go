// Package audio decodes PCM audio into float frames, slices it into
// frame-sized chunks and detects voice activity for the lip-sync driver.
package audio

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrInvalidFormat       = errors.New("invalid audio format")
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")
	ErrEmptyClip           = errors.New("audio clip has no samples")
)

// Format describes PCM sample layout.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

// DefaultFormat is 16 kHz mono 16-bit, the capture format of the avatar app.
func DefaultFormat() Format {
	return Format{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}

// Clip is decoded mono audio with samples in [-1,1].
type Clip struct {
	Format  Format
	Samples []float64
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.Format.SampleRate)
}

// Chunk is one frame's worth of audio.
type Chunk struct {
	Samples  []float64     `json:"-"`
	Offset   time.Duration `json:"offset"`    // Position of the first sample in the stream
	Length   time.Duration `json:"duration"`  // Duration of this chunk
	IsSpeech bool          `json:"is_speech"` // VAD result
	RMS      float64       `json:"rms"`       // Root mean square (volume level)
}

// VADResult represents the result of voice activity detection
type VADResult struct {
	IsSpeech   bool    `json:"is_speech"`
	Confidence float64 `json:"confidence"`
	RMS        float64 `json:"rms"`
}

// SpeechSegment is a completed run of speech.
type SpeechSegment struct {
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
	Duration time.Duration `json:"duration"`
	PeakRMS  float64       `json:"peak_rms"`
}
