package avatar3d

import "strings"

// ARKitNames lists the 52 ARKit face blend shapes in their conventional order.
var ARKitNames = []string{
	"browDownLeft",
	"browDownRight",
	"browInnerUp",
	"browOuterUpLeft",
	"browOuterUpRight",
	"cheekPuff",
	"cheekSquintLeft",
	"cheekSquintRight",
	"eyeBlinkLeft",
	"eyeBlinkRight",
	"eyeLookDownLeft",
	"eyeLookDownRight",
	"eyeLookInLeft",
	"eyeLookInRight",
	"eyeLookOutLeft",
	"eyeLookOutRight",
	"eyeLookUpLeft",
	"eyeLookUpRight",
	"eyeSquintLeft",
	"eyeSquintRight",
	"eyeWideLeft",
	"eyeWideRight",
	"jawForward",
	"jawLeft",
	"jawOpen",
	"jawRight",
	"mouthClose",
	"mouthDimpleLeft",
	"mouthDimpleRight",
	"mouthFrownLeft",
	"mouthFrownRight",
	"mouthFunnel",
	"mouthLeft",
	"mouthLowerDownLeft",
	"mouthLowerDownRight",
	"mouthPressLeft",
	"mouthPressRight",
	"mouthPucker",
	"mouthRight",
	"mouthRollLower",
	"mouthRollUpper",
	"mouthShrugLower",
	"mouthShrugUpper",
	"mouthSmileLeft",
	"mouthSmileRight",
	"mouthStretchLeft",
	"mouthStretchRight",
	"mouthUpperUpLeft",
	"mouthUpperUpRight",
	"noseSneerLeft",
	"noseSneerRight",
	"tongueOut",
}

// OculusVisemeNames lists the 15 Oculus lip-sync visemes as exported by
// Ready Player Me avatars.
var OculusVisemeNames = []string{
	"viseme_sil",
	"viseme_PP",
	"viseme_FF",
	"viseme_TH",
	"viseme_DD",
	"viseme_kk",
	"viseme_CH",
	"viseme_SS",
	"viseme_nn",
	"viseme_RR",
	"viseme_aa",
	"viseme_E",
	"viseme_I",
	"viseme_O",
	"viseme_U",
}

// Rig is an in-memory morph target holder. It stands in for a mesh when no
// model is loaded and is what tests drive the engine with.
type Rig struct {
	name    string
	dict    map[string]int
	order   []string
	weights []float32
}

// NewRig creates a rig exposing the given targets in order. Duplicate names
// keep their first index.
func NewRig(name string, targets ...string) *Rig {
	r := &Rig{
		name: name,
		dict: make(map[string]int, len(targets)),
	}
	for _, t := range targets {
		if _, ok := r.dict[t]; ok {
			continue
		}
		r.dict[t] = len(r.order)
		r.order = append(r.order, t)
	}
	r.weights = make([]float32, len(r.order))
	return r
}

func NewARKitRig() *Rig {
	return NewRig("arkit", ARKitNames...)
}

// NewReadyPlayerMeRig mirrors the target set of a Ready Player Me head mesh:
// ARKit shapes followed by Oculus visemes.
func NewReadyPlayerMeRig() *Rig {
	targets := make([]string, 0, len(ARKitNames)+len(OculusVisemeNames))
	targets = append(targets, ARKitNames...)
	targets = append(targets, OculusVisemeNames...)
	return NewRig("readyplayerme", targets...)
}

func (r *Rig) Name() string {
	return r.name
}

func (r *Rig) MorphTargetDictionary() map[string]int {
	return r.dict
}

func (r *Rig) MorphTargetInfluences() []float32 {
	return r.weights
}

// Weight returns the current weight of a target, matching the name
// case-insensitively when no exact match exists.
func (r *Rig) Weight(name string) (float32, bool) {
	if idx, ok := r.dict[name]; ok {
		return r.weights[idx], true
	}
	for n, idx := range r.dict {
		if strings.EqualFold(n, name) {
			return r.weights[idx], true
		}
	}
	return 0, false
}

// SetWeight overwrites a target weight, clamped to [0,1].
func (r *Rig) SetWeight(name string, value float32) bool {
	idx, ok := r.dict[name]
	if !ok {
		return false
	}
	r.weights[idx] = clampWeight(value)
	return true
}

// Snapshot copies the current weights keyed by target name.
func (r *Rig) Snapshot() map[string]float32 {
	out := make(map[string]float32, len(r.order))
	for i, n := range r.order {
		out[n] = r.weights[i]
	}
	return out
}

func (r *Rig) Reset() {
	for i := range r.weights {
		r.weights[i] = 0
	}
}

// Group is a flat scene of nodes. Traversal visits nodes in insertion order.
type Group struct {
	nodes []any
}

func NewGroup(nodes ...any) *Group {
	return &Group{nodes: nodes}
}

func (g *Group) Add(node any) {
	g.nodes = append(g.nodes, node)
}

func (g *Group) Traverse(fn func(node any)) {
	for _, n := range g.nodes {
		fn(n)
	}
}
