package scene

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
)

func identityNode(name string) *gltf.Node {
	return &gltf.Node{
		Name:     name,
		Matrix:   [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1},
		Rotation: [4]float64{0, 0, 0, 1},
		Scale:    [3]float64{1, 1, 1},
	}
}

func morphMesh(doc *gltf.Document, name string, targets int, extras any) *gltf.Mesh {
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	prim := &gltf.Primitive{Attributes: gltf.PrimitiveAttributes{gltf.POSITION: pos}}
	for i := 0; i < targets; i++ {
		delta := modeler.WritePosition(doc, [][3]float32{{0, 0.1, 0}, {0, 0, 0}, {0, 0, 0}})
		prim.Targets = append(prim.Targets, gltf.PrimitiveAttributes{gltf.POSITION: delta})
	}
	return &gltf.Mesh{Name: name, Extras: extras, Primitives: []*gltf.Primitive{prim}}
}

// avatarDocument builds Armature -> {Head, Teeth, Body, Camera} with morph targets
// on Head (named) and Teeth (unnamed).
func avatarDocument() *gltf.Document {
	doc := &gltf.Document{
		Asset:  gltf.Asset{Version: "2.0"},
		Scene:  gltf.Index(0),
		Scenes: []*gltf.Scene{{Name: "avatar", Nodes: []int{0}}},
	}
	doc.Meshes = []*gltf.Mesh{
		morphMesh(doc, "HeadMesh", 3, map[string]any{
			"targetNames": []any{"viseme_aa", "jawOpen", "eyeBlinkLeft"},
		}),
		morphMesh(doc, "TeethMesh", 2, nil),
		{Name: "Plain", Primitives: []*gltf.Primitive{{Attributes: gltf.PrimitiveAttributes{gltf.POSITION: 0}}}},
	}

	root := identityNode("Armature")
	root.Translation = [3]float64{0, 1.5, 0}
	root.Children = []int{1, 2, 3, 4}
	head := identityNode("Head")
	head.Mesh = gltf.Index(0)
	head.Weights = []float64{0.25, 0, 0}
	teeth := identityNode("Teeth")
	teeth.Mesh = gltf.Index(1)
	body := identityNode("Body")
	body.Mesh = gltf.Index(2)
	doc.Nodes = []*gltf.Node{root, head, teeth, body, identityNode("Camera")}
	return doc
}

func TestFromDocument_Holders(t *testing.T) {
	m := FromDocument(avatarDocument(), zerolog.Nop())

	require.Len(t, m.Holders(), 2)
	require.NoError(t, m.RequireMorphTargets())
	assert.Equal(t, 5, m.MorphTargetCount())

	head := m.Holders()[0]
	assert.Equal(t, "Head", head.Name)
	assert.Equal(t, []string{"viseme_aa", "jawOpen", "eyeBlinkLeft"}, head.TargetNames())
	assert.Equal(t, 1, head.MorphTargetDictionary()["jawOpen"])
	assert.Equal(t, []float32{0.25, 0, 0}, head.MorphTargetInfluences())

	teeth := m.Holders()[1]
	assert.Equal(t, []string{"0", "1"}, teeth.TargetNames())
}

func TestModel_TraverseOrder(t *testing.T) {
	m := FromDocument(avatarDocument(), zerolog.Nop())

	var kinds []string
	m.Traverse(func(node any) {
		switch n := node.(type) {
		case *MeshNode:
			kinds = append(kinds, "morph:"+n.Name)
		case *gltf.Node:
			kinds = append(kinds, n.Name)
		}
	})
	assert.Equal(t, []string{"Armature", "morph:Head", "morph:Teeth", "Body", "Camera"}, kinds)
}

func TestModel_DrivesEngine(t *testing.T) {
	m := FromDocument(avatarDocument(), zerolog.Nop())
	session := avatar3d.NewSession(m, avatar3d.WithRandom(rand.New(rand.NewSource(1))))

	assert.Equal(t, 5, session.Registry().Len())
	_, ok := session.Registry().Lookup("VISEME_AA")
	assert.True(t, ok)

	freqs := make([]float64, 64)
	for i := 0; i < 8; i++ {
		freqs[i] = 200
	}
	out := session.Update(avatar3d.FrameInput{
		Speaking:    true,
		Audio:       &avatar3d.AudioFrame{Volume: 0.5, Frequencies: freqs},
		ElapsedTime: 0,
	})
	m.Sync()
	m.ApplyMotion(out.Motion)

	head := m.Document().Nodes[1]
	assert.InDelta(t, 0.9, head.Weights[0], 1e-6)
	assert.InDelta(t, 0.03, head.Weights[1], 1e-6)

	root := m.Document().Nodes[0]
	assert.InDelta(t, 1.5+float64(out.Motion.BreathingOffset), root.Translation[1], 1e-9)
	assert.True(t, m.RootRotation().ApproxEqualThreshold(out.Motion.Rotation.Quat(), 1e-5))
}

func TestModel_SaveAndLoad(t *testing.T) {
	m := FromDocument(avatarDocument(), zerolog.Nop())
	m.Holders()[0].MorphTargetInfluences()[2] = 0.75

	path := filepath.Join(t.TempDir(), "avatar.glb")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, loaded.Holders(), 2)

	head := loaded.Holders()[0]
	assert.Equal(t, "eyeBlinkLeft", head.TargetNames()[2])
	assert.InDelta(t, 0.75, head.MorphTargetInfluences()[2], 1e-6)
	assert.InDelta(t, 0.25, head.MorphTargetInfluences()[0], 1e-6)
}

func TestModel_NoMorphTargets(t *testing.T) {
	doc := &gltf.Document{Nodes: []*gltf.Node{identityNode("Lonely")}}
	m := FromDocument(doc, zerolog.Nop())

	assert.ErrorIs(t, m.RequireMorphTargets(), ErrNoMorphTargets)
	assert.True(t, m.RootRotation().ApproxEqual(mgl32.QuatIdent()))
	assert.NotPanics(t, func() {
		m.ApplyMotion(avatar3d.Motion{BreathingOffset: 0.1})
		m.Sync()
	})

	_, err := Load(filepath.Join(t.TempDir(), "missing.glb"), zerolog.Nop())
	assert.Error(t, err)
}

func TestTargetNames(t *testing.T) {
	tests := []struct {
		name   string
		extras any
		count  int
		want   []string
	}{
		{"nil extras", nil, 2, []string{"0", "1"}},
		{"string slice", map[string]any{"targetNames": []string{"a", "", "c"}}, 3, []string{"a", "1", "c"}},
		{"raw json", []byte(`{"targetNames":["mouthOpen"]}`), 2, []string{"mouthOpen", "1"}},
		{"extra names ignored", map[string]any{"targetNames": []any{"a", "b", "c"}}, 1, []string{"a"}},
		{"wrong type", map[string]any{"targetNames": "a"}, 1, []string{"0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, err := targetNames(tt.extras, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestTargetNames_MalformedExtras(t *testing.T) {
	names, err := targetNames(json.RawMessage(`{"targetNames":[`), 2)
	assert.Error(t, err)
	assert.Equal(t, []string{"0", "1"}, names)
}

func TestFromDocument_LogsMalformedExtras(t *testing.T) {
	doc := avatarDocument()
	doc.Meshes[0].Extras = json.RawMessage(`{"targetNames":`)

	var buf bytes.Buffer
	m := FromDocument(doc, zerolog.New(&buf).Level(zerolog.DebugLevel))

	require.NotEmpty(t, m.Holders())
	assert.Equal(t, "0", m.Holders()[0].TargetNames()[0])
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), "Unreadable mesh extras")
}
