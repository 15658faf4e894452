// Package scene adapts glTF documents to the lip-sync engine. Every node
// whose mesh has morph targets becomes a morph target holder; weights and
// head pose are written back into the document so it can be saved.
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
)

var ErrNoMorphTargets = errors.New("model has no morph targets")

// MeshNode is a glTF node whose mesh carries morph targets.
type MeshNode struct {
	Name  string
	Index int

	node    *gltf.Node
	names   []string
	dict    map[string]int
	weights []float32
}

func (m *MeshNode) MorphTargetDictionary() map[string]int {
	return m.dict
}

func (m *MeshNode) MorphTargetInfluences() []float32 {
	return m.weights
}

// TargetNames returns target names in index order.
func (m *MeshNode) TargetNames() []string {
	return m.names
}

// Model is a loaded glTF document.
type Model struct {
	doc     *gltf.Document
	holders []*MeshNode
	byNode  map[int]*MeshNode
	order   []int

	root     *gltf.Node
	baseY    float64
	rootName string
}

// Load opens a .gltf or .glb file.
func Load(path string, logger zerolog.Logger) (*Model, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	m := FromDocument(doc, logger)

	logger.Info().
		Str("path", path).
		Int("nodes", len(doc.Nodes)).
		Int("morph_meshes", len(m.holders)).
		Msg("Model loaded")
	for _, h := range m.holders {
		logger.Debug().
			Str("node", h.Name).
			Strs("targets", h.names).
			Msg("Mesh morph targets")
	}
	return m, nil
}

// FromDocument wraps an in-memory document.
func FromDocument(doc *gltf.Document, logger zerolog.Logger) *Model {
	m := &Model{
		doc:    doc,
		byNode: make(map[int]*MeshNode),
	}
	m.order = traversalOrder(doc)

	for _, idx := range m.order {
		node := doc.Nodes[idx]
		if node.Mesh == nil || *node.Mesh < 0 || *node.Mesh >= len(doc.Meshes) {
			continue
		}
		mesh := doc.Meshes[*node.Mesh]
		count := targetCount(mesh)
		if count == 0 {
			continue
		}
		h := newMeshNode(idx, node, mesh, count, logger)
		m.holders = append(m.holders, h)
		m.byNode[idx] = h
	}

	if roots := sceneRoots(doc); len(roots) > 0 {
		m.root = doc.Nodes[roots[0]]
		m.baseY = m.root.Translation[1]
		m.rootName = m.root.Name
	}
	return m
}

func newMeshNode(idx int, node *gltf.Node, mesh *gltf.Mesh, count int, logger zerolog.Logger) *MeshNode {
	names, err := targetNames(mesh.Extras, count)
	if err != nil {
		logger.Debug().
			Err(err).
			Str("mesh", mesh.Name).
			Msg("Unreadable mesh extras, using target indices as names")
	}
	h := &MeshNode{
		Name:    node.Name,
		Index:   idx,
		node:    node,
		names:   names,
		dict:    make(map[string]int, count),
		weights: make([]float32, count),
	}
	if h.Name == "" {
		h.Name = mesh.Name
	}
	for i, n := range names {
		if _, dup := h.dict[n]; !dup {
			h.dict[n] = i
		}
	}

	initial := node.Weights
	if len(initial) == 0 {
		initial = mesh.Weights
	}
	for i := 0; i < count && i < len(initial); i++ {
		h.weights[i] = float32(initial[i])
	}
	return h
}

func targetCount(mesh *gltf.Mesh) int {
	n := 0
	for _, p := range mesh.Primitives {
		if len(p.Targets) > n {
			n = len(p.Targets)
		}
	}
	return n
}

// targetNames reads extras.targetNames. Missing names fall back to the
// target index, as three.js does. An error is returned with the index names
// when extras is JSON that does not decode.
func targetNames(extras any, count int) ([]string, error) {
	names := make([]string, count)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}

	var raw []byte
	var fields map[string]any
	switch e := extras.(type) {
	case map[string]any:
		fields = e
	case json.RawMessage:
		raw = e
	case []byte:
		raw = e
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return names, fmt.Errorf("decode extras: %w", err)
		}
	}
	if fields == nil {
		return names, nil
	}

	switch list := fields["targetNames"].(type) {
	case []any:
		for i, v := range list {
			if s, ok := v.(string); ok && i < count && s != "" {
				names[i] = s
			}
		}
	case []string:
		for i, s := range list {
			if i < count && s != "" {
				names[i] = s
			}
		}
	}
	return names, nil
}

func sceneRoots(doc *gltf.Document) []int {
	if len(doc.Scenes) == 0 {
		return nil
	}
	s := 0
	if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
		s = *doc.Scene
	}
	return doc.Scenes[s].Nodes
}

// traversalOrder lists nodes depth-first from the default scene's roots.
// Documents without scenes visit every node in index order.
func traversalOrder(doc *gltf.Document) []int {
	roots := sceneRoots(doc)
	if roots == nil {
		out := make([]int, len(doc.Nodes))
		for i := range out {
			out[i] = i
		}
		return out
	}

	var out []int
	seen := make(map[int]bool)
	var walk func(idx int)
	walk = func(idx int) {
		if idx < 0 || idx >= len(doc.Nodes) || seen[idx] {
			return
		}
		seen[idx] = true
		out = append(out, idx)
		for _, c := range doc.Nodes[idx].Children {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

// Traverse visits nodes depth-first. Morph-carrying nodes are passed as
// *MeshNode, everything else as *gltf.Node.
func (m *Model) Traverse(fn func(node any)) {
	for _, idx := range m.order {
		if h, ok := m.byNode[idx]; ok {
			fn(h)
			continue
		}
		fn(m.doc.Nodes[idx])
	}
}

func (m *Model) Document() *gltf.Document {
	return m.doc
}

func (m *Model) Holders() []*MeshNode {
	return m.holders
}

// MorphTargetCount is the total number of morph targets across holders.
func (m *Model) MorphTargetCount() int {
	n := 0
	for _, h := range m.holders {
		n += len(h.weights)
	}
	return n
}

// RequireMorphTargets fails when no node can be animated.
func (m *Model) RequireMorphTargets() error {
	if len(m.holders) == 0 {
		return ErrNoMorphTargets
	}
	return nil
}

// Sync copies the current influences into each node's weights.
func (m *Model) Sync() {
	for _, h := range m.holders {
		if len(h.node.Weights) != len(h.weights) {
			h.node.Weights = make([]float64, len(h.weights))
		}
		for i, w := range h.weights {
			h.node.Weights[i] = float64(w)
		}
	}
}

// ApplyMotion writes head rotation and breathing offset onto the root node.
func (m *Model) ApplyMotion(motion avatar3d.Motion) {
	if m.root == nil {
		return
	}
	q := motion.Rotation.Quat().Normalize()
	m.root.Rotation = [4]float64{float64(q.V[0]), float64(q.V[1]), float64(q.V[2]), float64(q.W)}
	m.root.Translation[1] = m.baseY + float64(motion.BreathingOffset)
}

// RootRotation returns the root node rotation.
func (m *Model) RootRotation() mgl32.Quat {
	if m.root == nil {
		return mgl32.QuatIdent()
	}
	r := m.root.Rotation
	return mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}}
}

// Save syncs weights and writes the document. A .glb extension selects the
// binary container.
func (m *Model) Save(path string) error {
	m.Sync()
	var err error
	if strings.EqualFold(filepath.Ext(path), ".glb") {
		err = gltf.SaveBinary(m.doc, path)
	} else {
		err = gltf.Save(m.doc, path)
	}
	if err != nil {
		return fmt.Errorf("save gltf: %w", err)
	}
	return nil
}
