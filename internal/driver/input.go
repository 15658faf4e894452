package driver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/spectrum"
	"github.com/normanking/cortexlipsync/internal/stream"
)

// Sample is the engine input for one frame.
type Sample struct {
	Speaking bool
	Audio    *avatar3d.AudioFrame
	Time     float64 // seconds
}

// Input produces one Sample per frame. io.EOF ends the run.
type Input interface {
	Next(ctx context.Context) (Sample, error)
}

// PCMInput analyses decoded audio: the spectrum comes from the analyser
// window and the speaking flag from the VAD.
type PCMInput struct {
	src      audio.Source
	analyzer *spectrum.Analyzer
	vad      *audio.VAD
	tracker  *audio.SpeechTracker

	window []float64
	size   int
	end    time.Duration
}

// NewPCMInput combines a source with its analysis chain. tracker may be nil.
func NewPCMInput(src audio.Source, analyzer *spectrum.Analyzer, vad *audio.VAD, tracker *audio.SpeechTracker) *PCMInput {
	return &PCMInput{
		src:      src,
		analyzer: analyzer,
		vad:      vad,
		tracker:  tracker,
		size:     analyzer.Config().FFTSize,
	}
}

func (p *PCMInput) Next(ctx context.Context) (Sample, error) {
	chunk, err := p.src.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) && p.tracker != nil {
			p.tracker.Flush(p.end)
		}
		return Sample{}, err
	}
	p.end = chunk.Offset + chunk.Length

	p.window = append(p.window, chunk.Samples...)
	if len(p.window) > p.size {
		p.window = append(p.window[:0], p.window[len(p.window)-p.size:]...)
	}

	res := p.vad.Process(chunk.Samples, p.end)
	chunk.IsSpeech = res.IsSpeech
	if p.tracker != nil {
		p.tracker.Observe(chunk)
	}

	return Sample{
		Speaking: res.IsSpeech,
		Audio:    p.analyzer.Analyze(p.window),
		Time:     chunk.Offset.Seconds(),
	}, nil
}

// ExternalInput feeds the engine from frames that clients send to the hub.
// Each call takes the newest frame received since the previous call; when
// nothing arrived for longer than the hold time the avatar is treated as
// silent.
type ExternalInput struct {
	frames  <-chan stream.Inbound
	tracker *audio.SpeechTracker
	hold    time.Duration
	now     func() time.Time

	start    time.Time
	last     stream.Inbound
	haveLast bool
}

// NewExternalInput reads from frames, usually Hub.Inbound(). tracker may be nil.
func NewExternalInput(frames <-chan stream.Inbound, tracker *audio.SpeechTracker, hold time.Duration) *ExternalInput {
	if hold <= 0 {
		hold = 250 * time.Millisecond
	}
	return &ExternalInput{
		frames:  frames,
		tracker: tracker,
		hold:    hold,
		now:     time.Now,
	}
}

func (e *ExternalInput) Next(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	now := e.now()
	if e.start.IsZero() {
		e.start = now
	}

drain:
	for {
		select {
		case in := <-e.frames:
			e.last = in
			e.haveLast = true
		default:
			break drain
		}
	}

	elapsed := now.Sub(e.start)
	s := Sample{Time: elapsed.Seconds()}
	if e.haveLast && now.Sub(e.last.Received) <= e.hold {
		s.Speaking = e.last.Speaking
		s.Audio = e.last.Audio
	}

	if e.tracker != nil {
		chunk := &audio.Chunk{Offset: elapsed, IsSpeech: s.Speaking}
		if s.Audio != nil {
			chunk.RMS = s.Audio.Volume
		}
		e.tracker.Observe(chunk)
	}
	return s, nil
}
