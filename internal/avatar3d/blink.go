package avatar3d

import (
	"math"
	"math/rand"
	"time"
)

// BlinkPhase is the state of the blink scheduler.
type BlinkPhase int

const (
	BlinkIdle BlinkPhase = iota
	BlinkClosing
)

func (p BlinkPhase) String() string {
	if p == BlinkClosing {
		return "closing"
	}
	return "idle"
}

// BlinkStats summarizes scheduler activity.
type BlinkStats struct {
	Blinks        int
	LastDuration  float64
	LastIntensity float64
}

// BlinkScheduler produces randomized eye closure pulses. It is ticked once
// per frame: the idle timer advances by a fixed step per tick, while a blink
// in progress is timed against the caller's clock. A started blink always
// runs to completion.
type BlinkScheduler struct {
	rng *rand.Rand

	phase    BlinkPhase
	timer    float64
	interval float64
	armed    bool

	start     float64
	duration  float64
	intensity float64
	weight    float32

	step             float64
	intervalSpeaking Range
	intervalIdle     Range
	durationRange    Range
	intensityRange   Range
	blinks           int
}

// NewBlinkScheduler creates a scheduler. A nil rng seeds one from the clock.
func NewBlinkScheduler(rng *rand.Rand) *BlinkScheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	b := &BlinkScheduler{rng: rng}
	b.setTuning(DefaultTuning())
	return b
}

func (b *BlinkScheduler) setTuning(t Tuning) {
	b.step = t.BlinkStep
	b.intervalSpeaking = t.BlinkIntervalSpeaking
	b.intervalIdle = t.BlinkIntervalIdle
	b.durationRange = t.BlinkDuration
	b.intensityRange = t.BlinkIntensity
}

// Tick advances the scheduler to time now and returns the blink weight.
func (b *BlinkScheduler) Tick(now float64, speaking bool) float32 {
	if b.phase == BlinkIdle {
		if !b.armed {
			b.interval = b.drawInterval(speaking)
			b.armed = true
		}
		b.timer += b.step
		if b.timer < b.interval {
			b.weight = 0
			return 0
		}
		b.begin(now)
	}

	elapsed := math.Max(0, now-b.start)
	if elapsed < b.duration {
		progress := elapsed / b.duration
		b.weight = clampWeight(float32(math.Sin(progress*math.Pi) * b.intensity))
		return b.weight
	}

	b.phase = BlinkIdle
	b.weight = 0
	b.interval = b.drawInterval(speaking)
	return 0
}

func (b *BlinkScheduler) begin(now float64) {
	b.timer = 0
	b.duration = b.uniform(b.durationRange)
	b.intensity = b.uniform(b.intensityRange)
	b.start = now
	b.phase = BlinkClosing
	b.blinks++
}

func (b *BlinkScheduler) drawInterval(speaking bool) float64 {
	if speaking {
		return b.uniform(b.intervalSpeaking)
	}
	return b.uniform(b.intervalIdle)
}

func (b *BlinkScheduler) uniform(r Range) float64 {
	return r.Min + b.rng.Float64()*(r.Max-r.Min)
}

// Trigger starts a blink on the next tick unless one is already running.
func (b *BlinkScheduler) Trigger() {
	if b.phase == BlinkIdle {
		b.armed = true
		b.interval = 0
	}
}

func (b *BlinkScheduler) Phase() BlinkPhase {
	return b.phase
}

func (b *BlinkScheduler) Blinking() bool {
	return b.phase == BlinkClosing
}

func (b *BlinkScheduler) Weight() float32 {
	return b.weight
}

// Interval is the idle time, in timer units, before the next blink.
func (b *BlinkScheduler) Interval() float64 {
	return b.interval
}

func (b *BlinkScheduler) Stats() BlinkStats {
	return BlinkStats{
		Blinks:        b.blinks,
		LastDuration:  b.duration,
		LastIntensity: b.intensity,
	}
}

func (b *BlinkScheduler) Reset() {
	b.phase = BlinkIdle
	b.timer = 0
	b.armed = false
	b.weight = 0
}
