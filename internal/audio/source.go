package audio

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Source yields consecutive audio chunks. Next returns io.EOF when the
// stream is exhausted.
type Source interface {
	Next(ctx context.Context) (*Chunk, error)
	Format() Format
}

// ClipSource slices a decoded clip into one chunk per video frame.
type ClipSource struct {
	clip      *Clip
	chunkSize int
	loop      bool

	pos      int
	consumed int64
}

// NewClipSource splits clip into chunks of sampleRate/fps samples. With loop
// set the clip restarts instead of ending.
func NewClipSource(clip *Clip, fps int, loop bool) (*ClipSource, error) {
	if clip == nil || len(clip.Samples) == 0 {
		return nil, ErrEmptyClip
	}
	if fps <= 0 {
		return nil, fmt.Errorf("%w: fps %d", ErrInvalidFormat, fps)
	}
	size := clip.Format.SampleRate / fps
	if size < 1 {
		return nil, fmt.Errorf("%w: %d Hz is too low for %d fps", ErrInvalidFormat, clip.Format.SampleRate, fps)
	}
	return &ClipSource{clip: clip, chunkSize: size, loop: loop}, nil
}

func (s *ClipSource) Format() Format {
	return s.clip.Format
}

// ChunkSize is the number of samples per chunk.
func (s *ClipSource) ChunkSize() int {
	return s.chunkSize
}

func (s *ClipSource) Next(ctx context.Context) (*Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.clip.Samples) {
		if !s.loop {
			return nil, io.EOF
		}
		s.pos = 0
	}

	end := s.pos + s.chunkSize
	if end > len(s.clip.Samples) {
		end = len(s.clip.Samples)
	}
	samples := s.clip.Samples[s.pos:end]
	rate := time.Duration(s.clip.Format.SampleRate)

	chunk := &Chunk{
		Samples: samples,
		Offset:  time.Duration(s.consumed) * time.Second / rate,
		Length:  time.Duration(len(samples)) * time.Second / rate,
		RMS:     RMS(samples),
	}
	s.pos = end
	s.consumed += int64(len(samples))
	return chunk, nil
}

// Rewind restarts the clip from the beginning.
func (s *ClipSource) Rewind() {
	s.pos = 0
	s.consumed = 0
}
