package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	wavFormatPCM = 1
	maxWAVChunk  = 1 << 30
)

type wavFmt struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// ReadWAVFile decodes a 16-bit PCM WAV file.
func ReadWAVFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	clip, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return clip, nil
}

// DecodeWAV reads a RIFF/WAVE stream holding 16-bit PCM and mixes it down
// to mono samples in [-1,1].
func DecodeWAV(r io.Reader) (*Clip, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrInvalidFormat, err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrInvalidFormat)
	}

	var format *wavFmt
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			return nil, fmt.Errorf("%w: missing data chunk", ErrInvalidFormat)
		}
		id := string(chunkHeader[0:4])
		size := binary.LittleEndian.Uint32(chunkHeader[4:8])
		if id != "data" && size > maxWAVChunk {
			return nil, fmt.Errorf("%w: chunk %q too large", ErrInvalidFormat, id)
		}

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("%w: truncated fmt chunk", ErrInvalidFormat)
			}
			f, err := parseFmt(body)
			if err != nil {
				return nil, err
			}
			format = f
		case "data":
			if format == nil {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidFormat)
			}
			// Streamed recordings often carry a data size larger than the file.
			body, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return nil, fmt.Errorf("%w: reading data: %v", ErrInvalidFormat, err)
			}
			return newClip(format, mixdown(body, int(format.Channels)))
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, fmt.Errorf("%w: truncated %q chunk", ErrInvalidFormat, id)
			}
		}
		if size%2 == 1 {
			// RIFF chunks are word aligned
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return nil, fmt.Errorf("%w: missing pad byte", ErrInvalidFormat)
			}
		}
	}
}

func parseFmt(body []byte) (*wavFmt, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrInvalidFormat, len(body))
	}
	var f wavFmt
	if err := binary.Read(bytes.NewReader(body[:16]), binary.LittleEndian, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if f.AudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: compression code %d, want PCM", ErrInvalidFormat, f.AudioFormat)
	}
	if f.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedBitDepth, f.BitsPerSample)
	}
	if f.Channels == 0 || f.SampleRate == 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidFormat, f.Channels, f.SampleRate)
	}
	return &f, nil
}

func newClip(f *wavFmt, samples []float64) (*Clip, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyClip
	}
	return &Clip{
		Format: Format{
			SampleRate: int(f.SampleRate),
			Channels:   1,
			BitDepth:   16,
		},
		Samples: samples,
	}, nil
}

// mixdown averages interleaved 16-bit frames into mono floats.
func mixdown(data []byte, channels int) []float64 {
	frameBytes := 2 * channels
	frames := len(data) / frameBytes
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			off := i*frameBytes + 2*c
			sample := int16(binary.LittleEndian.Uint16(data[off : off+2]))
			sum += float64(sample) / 32768.0
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// EncodeWAV writes the clip as mono 16-bit PCM.
func EncodeWAV(w io.Writer, clip *Clip) error {
	if clip == nil || clip.Format.SampleRate <= 0 {
		return fmt.Errorf("%w: missing sample rate", ErrInvalidFormat)
	}
	dataSize := uint32(len(clip.Samples) * 2)
	rate := uint32(clip.Format.SampleRate)

	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, wavFmt{
		AudioFormat:   wavFormatPCM,
		Channels:      1,
		SampleRate:    rate,
		ByteRate:      rate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
	})
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	for _, s := range clip.Samples {
		_ = binary.Write(buf, binary.LittleEndian, toPCM16(s))
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

func toPCM16(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	s = math.Max(-1, math.Min(1, s))
	return int16(math.Round(s * 32767))
}
