package avatar3d

// Range is a closed interval sampled uniformly.
type Range struct {
	Min float64 `mapstructure:"min" json:"min" yaml:"min"`
	Max float64 `mapstructure:"max" json:"max" yaml:"max"`
}

func (r Range) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Tuning holds the thresholds that may be adjusted at runtime. The viseme
// formula constants are not part of it.
type Tuning struct {
	VolumeGate        float64 `mapstructure:"volume_gate" json:"volume_gate" yaml:"volume_gate"`
	DecayFactor       float64 `mapstructure:"decay_factor" json:"decay_factor" yaml:"decay_factor"`
	HeadMotionVolume  float64 `mapstructure:"head_motion_volume" json:"head_motion_volume" yaml:"head_motion_volume"`
	FallbackThreshold float64 `mapstructure:"fallback_threshold" json:"fallback_threshold" yaml:"fallback_threshold"`
	FallbackScale     float64 `mapstructure:"fallback_scale" json:"fallback_scale" yaml:"fallback_scale"`

	// BlinkStep is added to the blink timer every tick regardless of the
	// real frame duration.
	BlinkStep             float64 `mapstructure:"blink_step" json:"blink_step" yaml:"blink_step"`
	BlinkIntervalSpeaking Range   `mapstructure:"blink_interval_speaking" json:"blink_interval_speaking" yaml:"blink_interval_speaking"`
	BlinkIntervalIdle     Range   `mapstructure:"blink_interval_idle" json:"blink_interval_idle" yaml:"blink_interval_idle"`
	BlinkDuration         Range   `mapstructure:"blink_duration" json:"blink_duration" yaml:"blink_duration"`
	BlinkIntensity        Range   `mapstructure:"blink_intensity" json:"blink_intensity" yaml:"blink_intensity"`
}

func DefaultTuning() Tuning {
	return Tuning{
		VolumeGate:            0.03,
		DecayFactor:           0.85,
		HeadMotionVolume:      0.1,
		FallbackThreshold:     0.1,
		FallbackScale:         0.6,
		BlinkStep:             0.016,
		BlinkIntervalSpeaking: Range{Min: 2.5, Max: 4.5},
		BlinkIntervalIdle:     Range{Min: 3.5, Max: 6.0},
		BlinkDuration:         Range{Min: 0.08, Max: 0.14},
		BlinkIntensity:        Range{Min: 0.7, Max: 1.0},
	}
}

// normalized replaces unusable fields with defaults so a bad config never
// produces NaN weights or a scheduler that never fires.
func (t Tuning) normalized() Tuning {
	d := DefaultTuning()
	if !finite(t.VolumeGate) || t.VolumeGate < 0 {
		t.VolumeGate = d.VolumeGate
	}
	if !finite(t.DecayFactor) || t.DecayFactor < 0 || t.DecayFactor >= 1 {
		t.DecayFactor = d.DecayFactor
	}
	if !finite(t.HeadMotionVolume) || t.HeadMotionVolume < 0 {
		t.HeadMotionVolume = d.HeadMotionVolume
	}
	if !finite(t.FallbackThreshold) || t.FallbackThreshold < 0 {
		t.FallbackThreshold = d.FallbackThreshold
	}
	if !finite(t.FallbackScale) || t.FallbackScale < 0 || t.FallbackScale > 1 {
		t.FallbackScale = d.FallbackScale
	}
	if !finite(t.BlinkStep) || t.BlinkStep <= 0 {
		t.BlinkStep = d.BlinkStep
	}
	t.BlinkIntervalSpeaking = normalizedRange(t.BlinkIntervalSpeaking, d.BlinkIntervalSpeaking, false)
	t.BlinkIntervalIdle = normalizedRange(t.BlinkIntervalIdle, d.BlinkIntervalIdle, false)
	t.BlinkDuration = normalizedRange(t.BlinkDuration, d.BlinkDuration, false)
	t.BlinkIntensity = normalizedRange(t.BlinkIntensity, d.BlinkIntensity, true)
	return t
}

func normalizedRange(r, def Range, unit bool) Range {
	if !finite(r.Min) || !finite(r.Max) || r.Min <= 0 || r.Max < r.Min {
		return def
	}
	if unit && r.Max > 1 {
		return def
	}
	return r
}
