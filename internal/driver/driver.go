// Package driver runs the per-frame loop that feeds the lip-sync engine and
// distributes its output.
package driver

import (
	"context"
	"errors"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/metrics"
	"github.com/normanking/cortexlipsync/internal/scene"
	"github.com/normanking/cortexlipsync/internal/stream"
)

// Broadcaster receives every frame snapshot, typically a *stream.Hub.
type Broadcaster interface {
	Broadcast(frame *stream.FrameMessage) error
}

// Summary describes a finished or running loop.
type Summary struct {
	Frames        int     `json:"frames" yaml:"frames"`
	SpeechFrames  int     `json:"speech_frames" yaml:"speech_frames"`
	Blinks        int     `json:"blinks" yaml:"blinks"`
	PeakMouthOpen float64 `json:"peak_mouth_open" yaml:"peak_mouth_open"`
	Duration      float64 `json:"duration" yaml:"duration"` // Input time of the last frame, seconds
}

// Option configures a Driver.
type Option func(*Driver)

// WithFPS sets the frame rate of a real-time loop.
func WithFPS(fps int) Option {
	return func(d *Driver) {
		if fps > 0 {
			d.fps = fps
		}
	}
}

// WithRealtime paces frames with a ticker. Without it the loop runs as fast
// as the input allows.
func WithRealtime(realtime bool) Option {
	return func(d *Driver) {
		d.realtime = realtime
	}
}

// WithModel writes weights and head motion back into a glTF model.
func WithModel(m *scene.Model) Option {
	return func(d *Driver) {
		d.model = m
	}
}

func WithBroadcaster(b Broadcaster) Option {
	return func(d *Driver) {
		d.broadcaster = b
	}
}

func WithEventBus(b *bus.EventBus) Option {
	return func(d *Driver) {
		d.eventBus = b
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger.With().Str("component", "driver").Logger()
	}
}

// Driver owns the session and is the only goroutine that touches it.
type Driver struct {
	session *avatar3d.Session
	input   Input

	fps         int
	realtime    bool
	model       *scene.Model
	broadcaster Broadcaster
	eventBus    *bus.EventBus
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	tuning chan avatar3d.Tuning

	seq        uint64
	lastMode   avatar3d.FrameMode
	lastBlinks int
	summary    Summary
}

// New creates a driver for session reading from input.
func New(session *avatar3d.Session, input Input, opts ...Option) *Driver {
	d := &Driver{
		session:  session,
		input:    input,
		fps:      60,
		logger:   zerolog.Nop(),
		tuning:   make(chan avatar3d.Tuning, 1),
		lastMode: avatar3d.ModeDecay,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.metrics != nil {
		d.metrics.MorphChannels.Set(float64(session.Registry().Len()))
		if d.eventBus != nil {
			d.eventBus.Subscribe(bus.EventTypeSpeechEnd, func(bus.Event) {
				d.metrics.SpeechSegments.Inc()
			})
		}
	}
	return d
}

// UpdateTuning hands new tuning to the loop. It is safe to call from any
// goroutine; the loop applies the latest value before its next frame.
func (d *Driver) UpdateTuning(t avatar3d.Tuning) {
	for {
		select {
		case d.tuning <- t:
			return
		default:
		}
		select {
		case <-d.tuning:
		default:
		}
	}
}

// Summary returns the statistics so far. It must not be called while Run
// is active on another goroutine.
func (d *Driver) Summary() Summary {
	return d.summary
}

// Run steps frames until the input ends or ctx is cancelled. An exhausted
// input is not an error.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	d.logger.Info().
		Int("fps", d.fps).
		Bool("realtime", d.realtime).
		Int("channels", d.session.Registry().Len()).
		Msg("Frame loop started")

	var tick <-chan time.Time
	if d.realtime {
		ticker := time.NewTicker(time.Second / time.Duration(d.fps))
		defer ticker.Stop()
		tick = ticker.C
	}

	frameCount := 0
	fpsTimer := time.Now()

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return d.finish(nil)
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return d.finish(nil)
		}

		_, err := d.Step(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if d.eventBus != nil {
					d.eventBus.Publish(bus.Event{
						Type: bus.EventTypeSourceEnded,
						Data: map[string]any{"frames": d.summary.Frames},
					})
				}
				return d.finish(nil)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return d.finish(nil)
			}
			return d.finish(err)
		}

		frameCount++
		if d.realtime && time.Since(fpsTimer) >= time.Second {
			d.logger.Debug().
				Int("fps", frameCount).
				Int("frames", d.summary.Frames).
				Bool("blinking", d.session.Blink().Blinking()).
				Msg("Frame stats")
			frameCount = 0
			fpsTimer = time.Now()
		}
	}
}

func (d *Driver) finish(err error) (Summary, error) {
	if d.model != nil {
		d.model.Sync()
	}
	ev := d.logger.Info()
	if err != nil {
		ev = d.logger.Error().Err(err)
	}
	ev.Int("frames", d.summary.Frames).
		Int("speech_frames", d.summary.SpeechFrames).
		Int("blinks", d.summary.Blinks).
		Float64("peak_mouth_open", d.summary.PeakMouthOpen).
		Msg("Frame loop stopped")
	return d.summary, err
}

// Step pulls one sample and runs one engine frame.
func (d *Driver) Step(ctx context.Context) (avatar3d.FrameOutput, error) {
	select {
	case t := <-d.tuning:
		d.session.SetTuning(t)
		d.logger.Info().Msg("Engine tuning updated")
	default:
	}

	sample, err := d.input.Next(ctx)
	if err != nil {
		return avatar3d.FrameOutput{}, err
	}

	start := time.Now()
	out := d.session.Update(avatar3d.FrameInput{
		Speaking:    sample.Speaking,
		Audio:       sample.Audio,
		ElapsedTime: sample.Time,
	})
	if d.model != nil {
		d.model.ApplyMotion(out.Motion)
		d.model.Sync()
	}
	elapsed := time.Since(start)

	d.record(out, elapsed)
	d.publish(out)
	return out, nil
}

func (d *Driver) record(out avatar3d.FrameOutput, elapsed time.Duration) {
	s := &d.summary
	s.Frames++
	s.Duration = out.Time
	if out.Mode == avatar3d.ModeSpeech {
		s.SpeechFrames++
	}
	s.PeakMouthOpen = math.Max(s.PeakMouthOpen, out.Expression.MouthOpen)

	blinks := d.session.Blink().Stats().Blinks
	newBlink := blinks != d.lastBlinks
	s.Blinks = blinks

	if d.metrics != nil {
		d.metrics.Frames.WithLabelValues(string(out.Mode)).Inc()
		d.metrics.FrameDuration.Observe(elapsed.Seconds())
		d.metrics.MouthOpen.Set(out.Expression.MouthOpen)
		if newBlink {
			d.metrics.Blinks.Add(float64(blinks - d.lastBlinks))
		}
	}

	if d.eventBus != nil {
		if out.Mode != d.lastMode {
			d.eventBus.Publish(bus.Event{
				Type: bus.EventTypeModeChanged,
				Data: map[string]any{"mode": string(out.Mode), "time": out.Time},
			})
		}
		if newBlink {
			stats := d.session.Blink().Stats()
			d.eventBus.Publish(bus.Event{
				Type: bus.EventTypeBlink,
				Data: map[string]any{"time": out.Time, "duration": stats.LastDuration, "intensity": stats.LastIntensity},
			})
		}
	}
	d.lastMode = out.Mode
	d.lastBlinks = blinks
}

func (d *Driver) publish(out avatar3d.FrameOutput) {
	d.seq++
	if d.eventBus != nil && d.eventBus.HasSubscribers(bus.EventTypeFrame) {
		d.eventBus.Publish(bus.Event{
			Type: bus.EventTypeFrame,
			Data: map[string]any{"seq": d.seq, "frame": out},
		})
	}
	if d.broadcaster == nil {
		return
	}
	msg := stream.NewFrameMessage(d.seq, out, Weights(d.session.Registry()))
	if err := d.broadcaster.Broadcast(msg); err != nil && !errors.Is(err, stream.ErrClosed) {
		d.logger.Warn().Err(err).Msg("Broadcast failed")
	}
}

// Weights collects the non-zero channel weights by target name. A name
// present on several objects reports its largest weight.
func Weights(r *avatar3d.ChannelRegistry) map[string]float32 {
	out := make(map[string]float32)
	for _, ch := range r.Channels() {
		w := ch.Weight()
		if w == 0 {
			continue
		}
		if w > out[ch.Name] {
			out[ch.Name] = w
		}
	}
	return out
}
