package stream

import (
	"github.com/normanking/cortexlipsync/internal/avatar3d"
)

// Message types on the wire.
const (
	TypeHello = "hello"
	TypeFrame = "frame"
	TypeAudio = "audio"
	TypeError = "error"
)

// Message is the envelope for everything sent in either direction.
type Message struct {
	Type     string        `json:"type"`
	ClientID string        `json:"client_id,omitempty"`
	Frame    *FrameMessage `json:"frame,omitempty"`
	Audio    *AudioMessage `json:"audio,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// FrameMessage is the per-frame snapshot renderers apply to their scene.
type FrameMessage struct {
	Seq        uint64                        `json:"seq"`
	Time       float64                       `json:"time"`
	Mode       avatar3d.FrameMode            `json:"mode"`
	Expression avatar3d.ExpressionParameters `json:"expression"`
	Pattern    avatar3d.SpeechPattern        `json:"pattern"`
	Rotation   avatar3d.HeadPose             `json:"rotation"`
	Breathing  float32                       `json:"breathing"`
	Blink      float32                       `json:"blink"`
	Weights    map[string]float32            `json:"weights,omitempty"`
}

// NewFrameMessage converts an engine frame. weights may be nil.
func NewFrameMessage(seq uint64, out avatar3d.FrameOutput, weights map[string]float32) *FrameMessage {
	return &FrameMessage{
		Seq:        seq,
		Time:       out.Time,
		Mode:       out.Mode,
		Expression: out.Expression,
		Pattern:    out.Pattern,
		Rotation:   out.Motion.Rotation,
		Breathing:  out.Motion.BreathingOffset,
		Blink:      out.Blink,
		Weights:    weights,
	}
}

// AudioMessage is an analysed audio frame captured by a client, e.g. a
// browser AnalyserNode, together with its speaking flag.
type AudioMessage struct {
	Speaking    bool      `json:"speaking"`
	Volume      float64   `json:"volume"`
	LowFreq     float64   `json:"low_freq"`
	MidFreq     float64   `json:"mid_freq"`
	HighFreq    float64   `json:"high_freq"`
	Frequencies []float64 `json:"frequencies"`
}

// AudioFrame converts the message for the engine.
func (m *AudioMessage) AudioFrame() *avatar3d.AudioFrame {
	return &avatar3d.AudioFrame{
		Volume:      m.Volume,
		LowFreq:     m.LowFreq,
		MidFreq:     m.MidFreq,
		HighFreq:    m.HighFreq,
		Frequencies: m.Frequencies,
	}
}
