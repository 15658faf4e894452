package avatar3d

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// MorphTargetHolder is implemented by scene nodes that carry blend shapes:
// a name to index dictionary and the live weight array the renderer reads.
type MorphTargetHolder interface {
	MorphTargetDictionary() map[string]int
	MorphTargetInfluences() []float32
}

// Scene is anything the registry can walk looking for morph target holders.
type Scene interface {
	Traverse(fn func(node any))
}

// MorphObject is one discovered holder.
type MorphObject struct {
	Holder     MorphTargetHolder
	Dictionary map[string]int
	Influences []float32
}

func (o *MorphObject) valid(index int) bool {
	return index >= 0 && index < len(o.Influences)
}

// MorphChannel is a single addressable blend shape of a MorphObject.
type MorphChannel struct {
	Name   string
	Index  int
	Object *MorphObject
}

// Weight reads the live weight, or 0 when the index is out of range.
func (c MorphChannel) Weight() float32 {
	if c.Object == nil || !c.Object.valid(c.Index) {
		return 0
	}
	return c.Object.Influences[c.Index]
}

// ChannelRegistry indexes every morph channel found in a scene. Entries are
// never removed; the registry lives as long as the model.
type ChannelRegistry struct {
	objects []*MorphObject
	byName  map[string]MorphChannel
	count   int
}

// NewChannelRegistry walks the scene once. A nil scene or a scene without any
// morph capable node produces an empty registry.
func NewChannelRegistry(scene Scene) *ChannelRegistry {
	return newChannelRegistry(scene, zerolog.Nop())
}

func newChannelRegistry(scene Scene, logger zerolog.Logger) *ChannelRegistry {
	r := &ChannelRegistry{byName: make(map[string]MorphChannel)}
	if scene == nil {
		return r
	}

	scene.Traverse(func(node any) {
		holder, ok := node.(MorphTargetHolder)
		if !ok || holder == nil {
			return
		}
		dict := holder.MorphTargetDictionary()
		influences := holder.MorphTargetInfluences()
		if dict == nil || influences == nil {
			return
		}

		obj := &MorphObject{Holder: holder, Dictionary: dict, Influences: influences}
		r.objects = append(r.objects, obj)

		for _, name := range sortedKeys(dict) {
			r.byName[strings.ToLower(name)] = MorphChannel{Name: name, Index: dict[name], Object: obj}
			r.count++
		}

		logger.Debug().
			Int("object", len(r.objects)-1).
			Strs("targets", sortedKeys(dict)).
			Msg("Found morph targets")
	})

	logger.Info().
		Int("objects", len(r.objects)).
		Int("channels", r.count).
		Msg("Morph channel registry ready")

	return r
}

// Lookup resolves a target name case-insensitively.
func (r *ChannelRegistry) Lookup(name string) (MorphChannel, bool) {
	ch, ok := r.byName[strings.ToLower(name)]
	return ch, ok
}

func (r *ChannelRegistry) Objects() []*MorphObject {
	return r.objects
}

// Channels returns every channel of every object, objects in discovery order
// and names sorted within an object.
func (r *ChannelRegistry) Channels() []MorphChannel {
	out := make([]MorphChannel, 0, r.count)
	for _, obj := range r.objects {
		for _, name := range sortedKeys(obj.Dictionary) {
			out = append(out, MorphChannel{Name: name, Index: obj.Dictionary[name], Object: obj})
		}
	}
	return out
}

// Len is the number of literal target names across all objects.
func (r *ChannelRegistry) Len() int {
	return r.count
}

func (r *ChannelRegistry) Empty() bool {
	return len(r.objects) == 0
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
