package avatar3d

import (
	"math"
	"strings"
)

// Per-parameter ceilings after blending.
const (
	MouthOpenCap  = 0.95
	JawOpenCap    = 0.8
	MouthWideCap  = 0.5
	LipPuckerCap  = 0.4
	MouthSmileCap = 0.3
)

// Band thresholds gating each phoneme class.
const (
	vowelThreshold     = 0.15
	consonantThreshold = 0.12
	sibilantThreshold  = 0.1
	fricativeThreshold = 0.08
)

// PhonemeClass records which band-driven contributions fired in a frame.
type PhonemeClass uint8

const (
	ClassVowel PhonemeClass = 1 << iota
	ClassConsonant
	ClassSibilant
	ClassFricative
)

func (c PhonemeClass) Has(other PhonemeClass) bool {
	return c&other != 0
}

func (c PhonemeClass) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(ClassVowel) {
		parts = append(parts, "vowel")
	}
	if c.Has(ClassConsonant) {
		parts = append(parts, "consonant")
	}
	if c.Has(ClassSibilant) {
		parts = append(parts, "sibilant")
	}
	if c.Has(ClassFricative) {
		parts = append(parts, "fricative")
	}
	return strings.Join(parts, "+")
}

// ExpressionParameters are the named facial controls written to the model.
type ExpressionParameters struct {
	MouthOpen  float64 `json:"mouth_open"`
	JawOpen    float64 `json:"jaw_open"`
	MouthWide  float64 `json:"mouth_wide"`
	LipPucker  float64 `json:"lip_pucker"`
	MouthSmile float64 `json:"mouth_smile"`

	Classes PhonemeClass `json:"-"`
}

// SpeechPattern is the per-frame speech character consumed by head motion.
type SpeechPattern struct {
	Intensity float64 `json:"intensity"`
	Rhythm    float64 `json:"rhythm"`
	Variation float64 `json:"variation"`
}

// VisemeSynthesizer turns band energies into ExpressionParameters. It keeps
// no smoothing state; only the last SpeechPattern is carried forward.
type VisemeSynthesizer struct {
	pattern SpeechPattern
}

func NewVisemeSynthesizer() *VisemeSynthesizer {
	return &VisemeSynthesizer{}
}

// Pattern returns the SpeechPattern of the most recent synthesized frame.
// Silent frames leave it untouched.
func (v *VisemeSynthesizer) Pattern() SpeechPattern {
	return v.pattern
}

// Synthesize computes the expression for one speaking frame at time t.
func (v *VisemeSynthesizer) Synthesize(b Bands, volume, t float64) ExpressionParameters {
	intensity := math.Min(1, volume*3)
	rhythm := math.Sin(t*8)*0.15 + 0.85
	variation := math.Sin(t*12.5)*0.1 + math.Cos(t*7.3)*0.05

	var p ExpressionParameters

	if b.VeryLow > vowelThreshold {
		p.MouthOpen = math.Min(0.9, (b.VeryLow*2.5+variation)*rhythm)
		p.MouthWide = math.Min(0.4, b.VeryLow*1.2)
		p.Classes |= ClassVowel
	}

	if b.LowMid > consonantThreshold {
		p.JawOpen = math.Min(0.7, (b.LowMid*2.0+variation*0.5)*rhythm)
		p.LipPucker = math.Min(0.3, b.LowMid*1.5)
		p.Classes |= ClassConsonant
	}

	if b.MidHigh > sibilantThreshold {
		p.MouthSmile = math.Min(0.4, (b.MidHigh*1.8+variation*0.3)*rhythm)
		p.MouthOpen = math.Max(p.MouthOpen, b.MidHigh*0.6)
		p.Classes |= ClassSibilant
	}

	if b.Highest > fricativeThreshold {
		p.LipPucker = math.Max(p.LipPucker, math.Min(0.5, b.Highest*2.0*rhythm))
		p.Classes |= ClassFricative
	}

	emotional := intensity * (1 + math.Sin(t*3.7)*0.2)
	breathing := math.Sin(t*1.2) * 0.05
	micro := math.Cos(t*15.8) * 0.03

	p.MouthOpen = capParam(p.MouthOpen*emotional+breathing, MouthOpenCap)
	p.JawOpen = capParam(p.JawOpen*emotional+micro, JawOpenCap)
	p.MouthWide = capParam(p.MouthWide*rhythm, MouthWideCap)
	p.LipPucker = capParam(p.LipPucker*rhythm+micro, LipPuckerCap)
	p.MouthSmile = capParam(p.MouthSmile*emotional, MouthSmileCap)

	v.pattern = SpeechPattern{Intensity: intensity, Rhythm: rhythm, Variation: variation}
	return p
}

func capParam(v, max float64) float64 {
	if !finite(v) {
		return 0
	}
	return clamp64(v, 0, max)
}
