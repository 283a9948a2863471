package edit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/mdlkit/internal/logger"
	"github.com/Faultbox/mdlkit/pkg/formats"
	"github.com/Faultbox/mdlkit/pkg/math"
	"github.com/Faultbox/mdlkit/pkg/skeleton"
)

// Bone map import errors.
var (
	ErrUnresolvedExternalBone = errors.New("external bone has no matrix to reuse and no local bone to compose from")
	ErrIncompleteBoneMap      = errors.New("bone map slot not populated")
	ErrDuplicateBoneMap       = errors.New("bone map slot populated twice")
	ErrUnknownBone            = errors.New("unknown bone name")
	ErrInvalidVertexGroup     = errors.New("vertex group is not a multiple of 3")
)

// groupStride is the vertex-group step per bone map slot.
const groupStride = 3

// synthesizedClothGroup is the cloth group of entries with a new matrix.
const synthesizedClothGroup = -1

var externalBoneName = regexp.MustCompile(`(?i)^ExternalBone(\d+)$`)

// ExternalBoneName returns the vgmap name of an external bone id.
func ExternalBoneName(id uint32) string {
	return fmt.Sprintf("ExternalBone%d", id)
}

// VGMapEntry maps a bone name to a vertex group.
type VGMapEntry struct {
	Name  string
	Group uint32
}

// ParseVGMap decodes a vgmap JSON object, {"<bone>": <group>, ...}, keeping
// document order and duplicate keys.
func ParseVGMap(data []byte) ([]VGMapEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, "vgmap")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.Errorf("vgmap: expected object, got %v", tok)
	}

	var out []VGMapEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "vgmap")
		}
		name, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("vgmap: expected bone name, got %v", tok)
		}
		var num json.Number
		if err := dec.Decode(&num); err != nil {
			return nil, errors.Wrapf(err, "vgmap: group of %q", name)
		}
		group, err := strconv.ParseUint(num.String(), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "vgmap: group of %q", name)
		}
		out = append(out, VGMapEntry{Name: name, Group: uint32(group)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "vgmap")
	}
	return out, nil
}

// FormatVGMap encodes entries as an indented vgmap JSON object in order.
func FormatVGMap(entries []VGMapEntry) []byte {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(",")
		}
		name, _ := json.Marshal(e.Name)
		fmt.Fprintf(&buf, "\n  %s: %d", name, e.Group)
	}
	buf.WriteString("\n}\n")
	return buf.Bytes()
}

// ExportVGMap writes bone map i of g as vgmap entries, one per slot. A local
// entry whose bone is not in skel (or any local entry when skel is nil)
// returns ErrRange, since the name could not be resolved on import.
func ExportVGMap(g *formats.Geometry, skel *formats.BoneTable, i formats.BoneMapIndex) ([]VGMapEntry, error) {
	bm, err := g.BoneMap(i)
	if err != nil {
		return nil, err
	}
	if skel == nil {
		skel = &formats.BoneTable{}
	}
	out := make([]VGMapEntry, len(bm.Entries))
	for k, e := range bm.Entries {
		var name string
		switch {
		case e.IsExternal():
			name = ExternalBoneName(e.Bone)
		case int(e.Bone) < skel.BoneCount():
			name = skel.BoneName(int(e.Bone))
		default:
			return nil, errors.Wrapf(formats.ErrRange, "bone map %d entry %d: bone %d (bone count %d)",
				i, k, e.Bone, skel.BoneCount())
		}
		out[k] = VGMapEntry{Name: name, Group: uint32(k * groupStride)}
	}
	return out, nil
}

// BoneMapPlan is a fully resolved bone map that has not been applied yet.
// NewMatrices are appended to the matrix pool on Commit; entries reference
// them by the indices they will get.
type BoneMapPlan struct {
	Entries     []formats.BoneMapEntry
	NewMatrices []math.Mat4
	poolBase    int
}

// boneKey identifies a bone map target: a local bone or an external id.
type boneKey struct {
	bone     uint32
	external bool
}

func keyOf(e formats.BoneMapEntry) boneKey {
	return boneKey{bone: e.Bone, external: e.IsExternal()}
}

// resolveName maps a vgmap name to a bone key and, when one exists, the
// local bone the matrix can be composed from.
func resolveName(skel *formats.BoneTable, name string) (boneKey, int, error) {
	if m := externalBoneName.FindStringSubmatch(name); m != nil {
		id, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return boneKey{}, 0, errors.Wrapf(ErrUnknownBone, "%q", name)
		}
		local := -1
		if b, ok := skel.BoneByExternalID(int(id)); ok {
			local = b
		}
		return boneKey{bone: uint32(id), external: true}, local, nil
	}
	b := skel.FindBone(name)
	if b < 0 {
		return boneKey{}, 0, errors.Wrapf(ErrUnknownBone, "%q", name)
	}
	return boneKey{bone: uint32(b)}, b, nil
}

// ResolveBoneMap resolves a vgmap against the skeleton. For each bone the
// matrix comes from, in order: an entry of ref with the same bone and flag,
// the first such entry of any bone map in g, or a matrix composed from the
// bone's parent chain. Nothing in g is modified.
func ResolveBoneMap(g *formats.Geometry, skel *formats.BoneTable, vgmap []VGMapEntry, ref *formats.BoneMap) (*BoneMapPlan, error) {
	if skel == nil {
		skel = &formats.BoneTable{}
	}

	slots := 0
	for _, e := range vgmap {
		if e.Group%groupStride != 0 {
			return nil, errors.Wrapf(ErrInvalidVertexGroup, "%q: group %d", e.Name, e.Group)
		}
		if s := int(e.Group/groupStride) + 1; s > slots {
			slots = s
		}
	}
	// Dense slots need one entry each, so more slots than entries is a gap.
	if slots > len(vgmap) {
		return nil, errors.Wrapf(ErrIncompleteBoneMap, "vertex group %d with %d entries", (slots-1)*groupStride, len(vgmap))
	}

	plan := &BoneMapPlan{Entries: make([]formats.BoneMapEntry, slots), poolBase: len(g.Matrices)}
	filled := make([]bool, slots)
	synthesized := make(map[int]formats.MatrixIndex)

	for _, e := range vgmap {
		slot := int(e.Group / groupStride)
		if filled[slot] {
			return nil, errors.Wrapf(ErrDuplicateBoneMap, "vertex group %d (%q)", e.Group, e.Name)
		}

		key, local, err := resolveName(skel, e.Name)
		if err != nil {
			return nil, err
		}
		entry, err := plan.resolveMatrix(g, skel, ref, key, local, synthesized)
		if err != nil {
			return nil, errors.Wrapf(err, "%q", e.Name)
		}
		plan.Entries[slot] = entry
		filled[slot] = true
	}

	for slot, ok := range filled {
		if !ok {
			return nil, errors.Wrapf(ErrIncompleteBoneMap, "vertex group %d", slot*groupStride)
		}
	}
	return plan, nil
}

func findEntry(bm *formats.BoneMap, key boneKey) (formats.BoneMapEntry, bool) {
	if bm == nil {
		return formats.BoneMapEntry{}, false
	}
	for _, e := range bm.Entries {
		if keyOf(e) == key {
			return e, true
		}
	}
	return formats.BoneMapEntry{}, false
}

func (p *BoneMapPlan) resolveMatrix(g *formats.Geometry, skel *formats.BoneTable, ref *formats.BoneMap,
	key boneKey, local int, synthesized map[int]formats.MatrixIndex) (formats.BoneMapEntry, error) {

	if e, ok := findEntry(ref, key); ok {
		return e, nil
	}
	for i := range g.BoneMaps {
		if e, ok := findEntry(&g.BoneMaps[i], key); ok {
			return e, nil
		}
	}
	if local < 0 {
		return formats.BoneMapEntry{}, errors.Wrapf(ErrUnresolvedExternalBone, "external id %d", key.bone)
	}

	entry := formats.BoneMapEntry{Bone: key.bone, ClothGroup: synthesizedClothGroup}
	if key.external {
		entry.Flags = formats.BoneFlagExternal
	}
	if idx, ok := synthesized[local]; ok {
		entry.Matrix = idx
		return entry, nil
	}
	m, err := skeleton.GlobalTransform(skel, local)
	if err != nil {
		return formats.BoneMapEntry{}, err
	}
	entry.Matrix = formats.MatrixIndex(p.poolBase + len(p.NewMatrices))
	p.NewMatrices = append(p.NewMatrices, m)
	synthesized[local] = entry.Matrix
	return entry, nil
}

// Commit appends the staged matrices and attaches the bone map to submesh
// idx: an identical current map is left alone, a map used only by idx is
// replaced in place, otherwise a new map is appended and idx repointed. It
// returns the bone map index the submesh ends up using.
func (p *BoneMapPlan) Commit(g *formats.Geometry, idx formats.SubmeshIndex) (formats.BoneMapIndex, error) {
	sm, err := g.Submesh(idx)
	if err != nil {
		return 0, err
	}
	if len(g.Matrices) != p.poolBase {
		return 0, errors.Wrapf(formats.ErrRange, "matrix pool grew from %d to %d since resolve", p.poolBase, len(g.Matrices))
	}

	for _, m := range p.NewMatrices {
		g.Matrices.Append(m)
	}
	if len(p.NewMatrices) > 0 {
		logger.Debug("synthesized bone matrices",
			zap.Int("count", len(p.NewMatrices)),
			zap.Int("first", p.poolBase))
	}

	if cur, err := g.BoneMap(sm.BoneMap); err == nil {
		if equalEntries(cur.Entries, p.Entries) {
			return sm.BoneMap, nil
		}
		if users := g.SubmeshesUsingBoneMap(sm.BoneMap); len(users) == 1 && users[0] == idx {
			cur.Entries = append([]formats.BoneMapEntry(nil), p.Entries...)
			return sm.BoneMap, nil
		}
	}

	if g.BoneMaps == nil {
		g.BoneMaps = []formats.BoneMap{}
	}
	g.BoneMaps = append(g.BoneMaps, formats.BoneMap{Entries: append([]formats.BoneMapEntry(nil), p.Entries...)})
	sm.BoneMap = formats.BoneMapIndex(len(g.BoneMaps) - 1)
	logger.Debug("appended bone map", zap.Int32("submesh", int32(idx)), zap.Int32("bone_map", int32(sm.BoneMap)))
	return sm.BoneMap, nil
}

// Unchanged reports whether committing would leave submesh idx's bone map
// and the matrix pool as they are.
func (p *BoneMapPlan) Unchanged(g *formats.Geometry, idx formats.SubmeshIndex) bool {
	if len(p.NewMatrices) > 0 {
		return false
	}
	sm, err := g.Submesh(idx)
	if err != nil {
		return false
	}
	cur, err := g.BoneMap(sm.BoneMap)
	return err == nil && equalEntries(cur.Entries, p.Entries)
}

func equalEntries(a, b []formats.BoneMapEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
