package avatar3d

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nilHolder struct{}

func (nilHolder) MorphTargetDictionary() map[string]int { return nil }
func (nilHolder) MorphTargetInfluences() []float32      { return nil }

func TestChannelRegistry_Discovery(t *testing.T) {
	face := NewRig("face", "mouthOpen", "eyeBlinkLeft", "customMouthShape")
	teeth := NewRig("teeth", "mouthOpen")

	reg := NewChannelRegistry(NewGroup("camera", face, nilHolder{}, 42, teeth))

	require.Len(t, reg.Objects(), 2)
	assert.Equal(t, 4, reg.Len())
	assert.False(t, reg.Empty())

	ch, ok := reg.Lookup("CUSTOMMOUTHSHAPE")
	require.True(t, ok)
	assert.Equal(t, "customMouthShape", ch.Name)
	assert.Equal(t, 2, ch.Index)
	assert.Same(t, face, ch.Object.Holder)

	face.SetWeight("customMouthShape", 0.4)
	assert.InDelta(t, 0.4, ch.Weight(), 1e-6)

	_, ok = reg.Lookup("jawOpen")
	assert.False(t, ok)
}

func TestChannelRegistry_LaterObjectWinsLookup(t *testing.T) {
	face := NewRig("face", "mouthOpen")
	teeth := NewRig("teeth", "MouthOpen")

	reg := NewChannelRegistry(NewGroup(face, teeth))

	ch, ok := reg.Lookup("mouthopen")
	require.True(t, ok)
	assert.Equal(t, "MouthOpen", ch.Name)
	assert.Len(t, reg.Channels(), 2)
}

func TestChannelRegistry_EmptyScenes(t *testing.T) {
	for name, scene := range map[string]Scene{
		"nil":        nil,
		"no holders": NewGroup("a", 1, struct{}{}),
		"nil maps":   NewGroup(nilHolder{}),
	} {
		t.Run(name, func(t *testing.T) {
			reg := NewChannelRegistry(scene)
			assert.True(t, reg.Empty())
			assert.Zero(t, reg.Len())
			assert.Empty(t, reg.Channels())

			a := NewChannelApplier(reg)
			a.Apply(ExpressionParameters{MouthOpen: 0.9})
			a.ApplyBlink(1)
			a.Decay(0.85)
		})
	}
}

func TestMorphChannel_WeightOutOfRange(t *testing.T) {
	obj := &MorphObject{Influences: []float32{0.5}}
	assert.Zero(t, MorphChannel{Index: 3, Object: obj}.Weight())
	assert.Zero(t, MorphChannel{Index: 0}.Weight())
	assert.InDelta(t, 0.5, MorphChannel{Index: 0, Object: obj}.Weight(), 1e-6)
}

func TestRig(t *testing.T) {
	rig := NewRig("dup", "a", "b", "a")
	assert.Len(t, rig.MorphTargetInfluences(), 2)

	assert.True(t, rig.SetWeight("b", 2))
	w, ok := rig.Weight("B")
	require.True(t, ok)
	assert.Equal(t, float32(1), w)
	assert.False(t, rig.SetWeight("missing", 1))

	rig.Reset()
	assert.Equal(t, map[string]float32{"a": 0, "b": 0}, rig.Snapshot())

	assert.Len(t, NewARKitRig().MorphTargetInfluences(), 52)
	assert.Len(t, NewReadyPlayerMeRig().MorphTargetInfluences(), 67)
}
