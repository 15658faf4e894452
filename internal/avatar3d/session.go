package avatar3d

import (
	"math/rand"

	"github.com/rs/zerolog"
)

// AudioFrame is one frame of analysed audio produced by the capture side.
// Frequencies are byte-scaled magnitudes in [0,255], lowest bin first.
type AudioFrame struct {
	Volume      float64   `json:"volume"`
	LowFreq     float64   `json:"low_freq"`
	MidFreq     float64   `json:"mid_freq"`
	HighFreq    float64   `json:"high_freq"`
	Frequencies []float64 `json:"frequencies"`
}

func (f *AudioFrame) usable() bool {
	return f != nil && finite(f.Volume) && f.Volume >= 0
}

// FrameInput is everything the engine consumes for one rendered frame.
type FrameInput struct {
	Speaking    bool
	Audio       *AudioFrame
	ElapsedTime float64
}

// FrameMode reports which path updated the mouth channels.
type FrameMode string

const (
	ModeSpeech FrameMode = "speech"
	ModeDecay  FrameMode = "decay"
)

// FrameOutput is the result of one Update. Channel weights are written into
// the scene's holders; this is the summary.
type FrameOutput struct {
	Time       float64              `json:"time"`
	Mode       FrameMode            `json:"mode"`
	Bands      Bands                `json:"bands"`
	Expression ExpressionParameters `json:"expression"`
	Pattern    SpeechPattern        `json:"pattern"`
	Motion     Motion               `json:"motion"`
	Blink      float32              `json:"blink"`
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithTuning(t Tuning) Option {
	return func(s *Session) {
		s.tuning = t.normalized()
	}
}

// WithRandom fixes the blink scheduler's random source.
func WithRandom(rng *rand.Rand) Option {
	return func(s *Session) {
		s.rng = rng
	}
}

// Session is the per-avatar engine state. It is not safe for concurrent use:
// a single frame loop owns it and calls Update once per rendered frame.
type Session struct {
	logger zerolog.Logger
	tuning Tuning
	rng    *rand.Rand

	registry *ChannelRegistry
	applier  *ChannelApplier
	synth    *VisemeSynthesizer
	motion   *MotionBlender
	blink    *BlinkScheduler

	lastTime   float64
	lastMode   FrameMode
	lastBlinks int
	frames     uint64
}

// NewSession indexes the scene's morph channels and prepares the engine.
func NewSession(scene Scene, opts ...Option) *Session {
	s := &Session{
		logger:   zerolog.Nop(),
		tuning:   DefaultTuning(),
		lastMode: ModeDecay,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = newChannelRegistry(scene, s.logger)
	s.applier = NewChannelApplier(s.registry)
	s.synth = NewVisemeSynthesizer()
	s.motion = NewMotionBlender()
	s.blink = NewBlinkScheduler(s.rng)
	s.SetTuning(s.tuning)

	if s.registry.Empty() {
		s.logger.Warn().Msg("No morph targets found, channel writes disabled")
	}
	for _, p := range Parameters {
		s.logger.Debug().
			Str("parameter", p.String()).
			Strs("channels", s.applier.Bound(p)).
			Msg("Parameter bindings")
	}
	return s
}

// SetTuning swaps the runtime thresholds. Invalid fields fall back to defaults.
func (s *Session) SetTuning(t Tuning) {
	s.tuning = t.normalized()
	s.applier.setTuning(s.tuning)
	s.motion.setTuning(s.tuning)
	s.blink.setTuning(s.tuning)
}

func (s *Session) Tuning() Tuning {
	return s.tuning
}

func (s *Session) Registry() *ChannelRegistry {
	return s.registry
}

func (s *Session) Applier() *ChannelApplier {
	return s.applier
}

func (s *Session) Blink() *BlinkScheduler {
	return s.blink
}

func (s *Session) Frames() uint64 {
	return s.frames
}

// Update runs one frame: mouth synthesis or decay, head motion, then blink.
// It never fails; unusable input routes the mouth to the decay path.
func (s *Session) Update(in FrameInput) FrameOutput {
	t := in.ElapsedTime
	if !finite(t) {
		t = s.lastTime
	}
	s.lastTime = t
	s.frames++

	out := FrameOutput{Time: t, Mode: ModeDecay}
	audioOK := in.Audio.usable()

	if in.Speaking && audioOK && in.Audio.Volume > s.tuning.VolumeGate {
		out.Mode = ModeSpeech
		out.Bands = AnalyzeBands(in.Audio.Frequencies)
		out.Expression = s.synth.Synthesize(out.Bands, in.Audio.Volume, t)
		s.applier.Apply(out.Expression)
	} else {
		s.applier.Decay(float32(s.tuning.DecayFactor))
	}
	out.Pattern = s.synth.Pattern()

	var volume float64
	if audioOK {
		volume = in.Audio.Volume
	}
	out.Motion = s.motion.Evaluate(t, in.Speaking, audioOK, volume, out.Pattern)

	out.Blink = s.blink.Tick(t, in.Speaking)
	s.applier.ApplyBlink(out.Blink)

	s.logTransitions(out)
	return out
}

func (s *Session) logTransitions(out FrameOutput) {
	if out.Mode != s.lastMode {
		s.logger.Debug().
			Str("mode", string(out.Mode)).
			Float64("time", out.Time).
			Msg("Mouth mode changed")
		s.lastMode = out.Mode
	}
	if out.Mode == ModeSpeech {
		s.logger.Trace().
			Str("classes", out.Expression.Classes.String()).
			Float64("mouth_open", out.Expression.MouthOpen).
			Float64("jaw_open", out.Expression.JawOpen).
			Msg("Viseme frame")
	}
	if stats := s.blink.Stats(); stats.Blinks != s.lastBlinks {
		s.logger.Debug().
			Float64("duration", stats.LastDuration).
			Float64("intensity", stats.LastIntensity).
			Msg("Blink started")
		s.lastBlinks = stats.Blinks
	}
}

// Reset returns every channel and scheduler to rest.
func (s *Session) Reset() {
	for _, obj := range s.registry.Objects() {
		for i := range obj.Influences {
			obj.Influences[i] = 0
		}
	}
	s.synth = NewVisemeSynthesizer()
	s.blink.Reset()
	s.lastMode = ModeDecay
}
