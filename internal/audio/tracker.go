package audio

import (
	"sync"
	"time"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/rs/zerolog"
)

// SpeechTracker turns per-chunk VAD results into speech segments and
// announces their start and end on the event bus.
type SpeechTracker struct {
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu       sync.Mutex
	active   bool
	start    time.Duration
	peakRMS  float64
	segments int

	// Callbacks
	onSpeechStart func(at time.Duration)
	onSpeechEnd   func(seg SpeechSegment)
	callbackMu    sync.RWMutex
}

// NewSpeechTracker creates a tracker. eventBus may be nil.
func NewSpeechTracker(eventBus *bus.EventBus, logger zerolog.Logger) *SpeechTracker {
	return &SpeechTracker{
		eventBus: eventBus,
		logger:   logger.With().Str("component", "speech").Logger(),
	}
}

// OnSpeechStart sets the callback for speech start
func (t *SpeechTracker) OnSpeechStart(callback func(at time.Duration)) {
	t.callbackMu.Lock()
	defer t.callbackMu.Unlock()
	t.onSpeechStart = callback
}

// OnSpeechEnd sets the callback for a completed segment
func (t *SpeechTracker) OnSpeechEnd(callback func(seg SpeechSegment)) {
	t.callbackMu.Lock()
	defer t.callbackMu.Unlock()
	t.onSpeechEnd = callback
}

// Observe records one chunk. Callbacks run synchronously on the caller's
// goroutine; bus events are published asynchronously.
func (t *SpeechTracker) Observe(chunk *Chunk) {
	if chunk == nil {
		return
	}
	t.mu.Lock()

	if chunk.IsSpeech {
		started := false
		if !t.active {
			t.active = true
			t.start = chunk.Offset
			t.peakRMS = 0
			started = true
		}
		if chunk.RMS > t.peakRMS {
			t.peakRMS = chunk.RMS
		}
		t.mu.Unlock()

		if started {
			t.logger.Debug().Dur("at", chunk.Offset).Msg("Speech started")

			t.callbackMu.RLock()
			callback := t.onSpeechStart
			t.callbackMu.RUnlock()
			if callback != nil {
				callback(chunk.Offset)
			}

			if t.eventBus != nil {
				t.eventBus.Publish(bus.Event{
					Type: bus.EventTypeSpeechStart,
					Data: map[string]any{
						"offset": chunk.Offset,
					},
				})
			}
		}
		return
	}

	if !t.active {
		t.mu.Unlock()
		return
	}
	seg := t.closeLocked(chunk.Offset)
	t.mu.Unlock()
	t.ended(seg)
}

// Flush closes an open segment at the given stream position, e.g. when the
// source runs out.
func (t *SpeechTracker) Flush(at time.Duration) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	seg := t.closeLocked(at)
	t.mu.Unlock()
	t.ended(seg)
}

func (t *SpeechTracker) closeLocked(at time.Duration) SpeechSegment {
	t.active = false
	t.segments++
	return SpeechSegment{
		Start:    t.start,
		End:      at,
		Duration: at - t.start,
		PeakRMS:  t.peakRMS,
	}
}

func (t *SpeechTracker) ended(seg SpeechSegment) {
	t.logger.Debug().
		Dur("duration", seg.Duration).
		Float64("peak_rms", seg.PeakRMS).
		Msg("Speech ended")

	t.callbackMu.RLock()
	callback := t.onSpeechEnd
	t.callbackMu.RUnlock()
	if callback != nil {
		callback(seg)
	}

	if t.eventBus != nil {
		t.eventBus.Publish(bus.Event{
			Type: bus.EventTypeSpeechEnd,
			Data: map[string]any{
				"start":    seg.Start,
				"duration": seg.Duration,
				"peak_rms": seg.PeakRMS,
			},
		})
	}
}

// Active reports whether a speech segment is open.
func (t *SpeechTracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Segments returns the number of completed segments.
func (t *SpeechTracker) Segments() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.segments
}
