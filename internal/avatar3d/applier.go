package avatar3d

import "strings"

// Parameter identifies one expression control.
type Parameter int

const (
	ParamMouthOpen Parameter = iota
	ParamJawOpen
	ParamMouthWide
	ParamLipPucker
	ParamMouthSmile
	paramCount
)

var parameterNames = [paramCount]string{
	"mouthOpen",
	"jawOpen",
	"mouthWide",
	"lipPucker",
	"mouthSmile",
}

func (p Parameter) String() string {
	if p < 0 || p >= paramCount {
		return "unknown"
	}
	return parameterNames[p]
}

// Parameters in application order. Aliases shared by two parameters end up
// with the later parameter's value.
var Parameters = []Parameter{ParamMouthOpen, ParamJawOpen, ParamMouthWide, ParamLipPucker, ParamMouthSmile}

// ParameterAliases are the literal target names each parameter drives.
var ParameterAliases = map[Parameter][]string{
	ParamMouthOpen:  {"mouthOpen", "mouth_open", "MouthOpen", "viseme_aa", "viseme_E", "viseme_O"},
	ParamJawOpen:    {"jawOpen", "jaw_open", "JawOpen", "Jaw_Open"},
	ParamMouthWide:  {"mouthWide", "mouth_wide", "MouthWide", "viseme_I", "viseme_E"},
	ParamLipPucker:  {"mouthPucker", "mouth_pucker", "viseme_U", "viseme_O"},
	ParamMouthSmile: {"mouthSmile", "mouth_smile", "mouthSmileLeft", "mouthSmileRight"},
}

// BlinkAliases are the eye closure targets driven by the blink scheduler.
var BlinkAliases = []string{"eyeBlinkLeft", "eyeBlinkRight", "eye_blink_left", "eye_blink_right", "eyesClose"}

var fallbackKeywords = []string{"mouth", "jaw"}

type channelRef struct {
	obj   *MorphObject
	index int
	name  string
}

func (c channelRef) set(v float32) {
	c.obj.Influences[c.index] = v
}

func (c channelRef) get() float32 {
	return c.obj.Influences[c.index]
}

// ChannelApplier writes expression parameters and blink weight onto the
// registry's channels. Alias bindings and the fallback set are resolved once.
type ChannelApplier struct {
	bindings [paramCount][]channelRef
	blink    []channelRef
	fallback []channelRef
	tracked  []channelRef

	fallbackThreshold float64
	fallbackScale     float64
}

func NewChannelApplier(registry *ChannelRegistry) *ChannelApplier {
	a := &ChannelApplier{
		fallbackThreshold: DefaultTuning().FallbackThreshold,
		fallbackScale:     DefaultTuning().FallbackScale,
	}
	if registry == nil {
		return a
	}

	for _, obj := range registry.Objects() {
		named := make(map[int]bool)
		for _, p := range Parameters {
			for _, alias := range ParameterAliases[p] {
				idx, ok := obj.Dictionary[alias]
				if !ok || !obj.valid(idx) {
					continue
				}
				a.bindings[p] = append(a.bindings[p], channelRef{obj: obj, index: idx, name: alias})
				named[idx] = true
			}
		}

		for _, alias := range BlinkAliases {
			if idx, ok := obj.Dictionary[alias]; ok && obj.valid(idx) {
				a.blink = append(a.blink, channelRef{obj: obj, index: idx, name: alias})
			}
		}

		seen := make(map[int]bool)
		for _, name := range sortedKeys(obj.Dictionary) {
			idx := obj.Dictionary[name]
			if !obj.valid(idx) {
				continue
			}
			if !seen[idx] {
				seen[idx] = true
				a.tracked = append(a.tracked, channelRef{obj: obj, index: idx, name: name})
			}
			if named[idx] || !isFallbackName(name) {
				continue
			}
			a.fallback = append(a.fallback, channelRef{obj: obj, index: idx, name: name})
		}
	}
	return a
}

func isFallbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range fallbackKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (a *ChannelApplier) setTuning(t Tuning) {
	a.fallbackThreshold = t.FallbackThreshold
	a.fallbackScale = t.FallbackScale
}

// Bound returns the literal channel names a parameter resolved to.
func (a *ChannelApplier) Bound(p Parameter) []string {
	if p < 0 || p >= paramCount {
		return nil
	}
	return refNames(a.bindings[p])
}

// BlinkBound returns the literal eye channel names that receive the blink.
func (a *ChannelApplier) BlinkBound() []string {
	return refNames(a.blink)
}

// FallbackChannels returns the mouth/jaw channels no alias claimed.
func (a *ChannelApplier) FallbackChannels() []string {
	return refNames(a.fallback)
}

func refNames(refs []channelRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.name)
	}
	return out
}

// Apply overwrites every aliased channel with its parameter value, then lets
// unclaimed mouth/jaw channels still at rest follow mouthOpen.
func (a *ChannelApplier) Apply(p ExpressionParameters) {
	values := [paramCount]float64{p.MouthOpen, p.JawOpen, p.MouthWide, p.LipPucker, p.MouthSmile}
	for _, param := range Parameters {
		w := clampWeight(float32(values[param]))
		for _, ref := range a.bindings[param] {
			ref.set(w)
		}
	}

	if p.MouthOpen <= a.fallbackThreshold {
		return
	}
	w := clampWeight(float32(p.MouthOpen * a.fallbackScale))
	for _, ref := range a.fallback {
		if ref.get() == 0 {
			ref.set(w)
		}
	}
}

// ApplyBlink writes the eye closure weight to every blink alias.
func (a *ChannelApplier) ApplyBlink(weight float32) {
	w := clampWeight(weight)
	for _, ref := range a.blink {
		ref.set(w)
	}
}

// Decay scales every tracked channel toward rest. Non-finite weights left by
// a caller are reset to 0.
func (a *ChannelApplier) Decay(factor float32) {
	for _, ref := range a.tracked {
		v := ref.get()
		if !finite(float64(v)) {
			ref.set(0)
			continue
		}
		ref.set(v * factor)
	}
}
