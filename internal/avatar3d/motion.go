package avatar3d

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// HeadPose is a rotation in radians applied to the avatar group.
type HeadPose struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (h HeadPose) Vec3() mgl32.Vec3 {
	return mgl32.Vec3{h.X, h.Y, h.Z}
}

// Quat converts the pose to a quaternion using XYZ Euler order, the order
// three.js groups default to.
func (h HeadPose) Quat() mgl32.Quat {
	return mgl32.AnglesToQuat(h.X, h.Y, h.Z, mgl32.XYZ)
}

// Mat4 builds the group transform for the pose lifted by a vertical offset.
func (h HeadPose) Mat4(yOffset float32) mgl32.Mat4 {
	m := mgl32.Translate3D(0, yOffset, 0)
	return m.Mul4(h.Quat().Mat4())
}

// MotionRegime names which head motion policy produced a pose.
type MotionRegime string

const (
	RegimeIdle           MotionRegime = "idle"
	RegimeSpeakingQuiet  MotionRegime = "speaking_quiet"
	RegimeSpeakingActive MotionRegime = "speaking_active"
)

// Motion is the procedural body output of one frame.
type Motion struct {
	Rotation        HeadPose     `json:"rotation"`
	BreathingOffset float32      `json:"breathing_offset"`
	Regime          MotionRegime `json:"regime"`
}

// MotionBlender computes head sway and breathing from elapsed time. The
// regime is picked per frame from current conditions; nothing interpolates
// between regimes, so amplitude can jump when speech starts or stops.
type MotionBlender struct {
	activeVolume float64
}

func NewMotionBlender() *MotionBlender {
	return &MotionBlender{activeVolume: DefaultTuning().HeadMotionVolume}
}

func (m *MotionBlender) setTuning(t Tuning) {
	m.activeVolume = t.HeadMotionVolume
}

// Evaluate returns the motion at time t. audioPresent reports whether an
// audio frame accompanied this update; volume is ignored without one.
func (m *MotionBlender) Evaluate(t float64, speaking, audioPresent bool, volume float64, pattern SpeechPattern) Motion {
	out := Motion{BreathingOffset: float32(Breathing(t))}

	switch {
	case speaking && audioPresent && volume > m.activeVolume:
		out.Rotation = activeSway(t, pattern)
		out.Regime = RegimeSpeakingActive
	case speaking:
		out.Rotation = quietSway(t)
		out.Regime = RegimeSpeakingQuiet
	default:
		out.Rotation = idleSway(t)
		out.Regime = RegimeIdle
	}
	return out
}

// Breathing is the vertical group offset at time t.
func Breathing(t float64) float64 {
	return math.Sin(t*0.8)*0.003 + math.Cos(t*1.3)*0.001
}

func activeSway(t float64, p SpeechPattern) HeadPose {
	movement := p.Intensity * 0.5
	return HeadPose{
		X: float32((math.Sin(t*2.3)*0.025+math.Cos(t*4.1)*0.01)*movement + p.Variation*0.02),
		Y: float32((math.Sin(t*1.7)*0.03 + math.Sin(t*3.2)*0.015) * movement * p.Rhythm),
		Z: float32((math.Sin(t*2.8)*0.012 + math.Cos(t*1.9)*0.008) * movement),
	}
}

func quietSway(t float64) HeadPose {
	return HeadPose{
		X: float32(math.Sin(t*1.8)*0.01 + math.Cos(t*2.4)*0.005),
		Y: float32(math.Sin(t*1.4)*0.015 + math.Sin(t*2.1)*0.008),
		Z: float32(math.Cos(t*1.6) * 0.006),
	}
}

func idleSway(t float64) HeadPose {
	return HeadPose{
		X: float32(math.Sin(t*0.3)*0.005 + math.Cos(t*0.7)*0.002),
		Y: float32(math.Sin(t*0.4)*0.008 + math.Cos(t*0.9)*0.003),
		Z: float32(math.Sin(t*0.5) * 0.003),
	}
}
