package formats

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Faultbox/mdlkit/pkg/chunk"
	"github.com/Faultbox/mdlkit/pkg/math"
)

// Geometry chunk versions. Each version appends fields to some records.
const (
	GeometryVersionBase     = 100
	GeometryVersionSortKey  = 101 // Submesh.SortKey
	GeometryVersionShadowed = 102 // Submesh.ShadowFlags, Mesh.Visibility
)

// submeshRecordSize is the on-disk submesh size per geometry version.
var submeshRecordSize = map[int]int{
	GeometryVersionBase:     48,
	GeometryVersionSortKey:  52,
	GeometryVersionShadowed: 56,
}

// SupportedGeometryVersion reports whether v is in the record-size table.
func SupportedGeometryVersion(v int) bool {
	_, ok := submeshRecordSize[v]
	return ok
}

// Section tags in canonical order.
var (
	SectionMaterials     = chunk.MakeTag("MATL")
	SectionAttributes    = chunk.MakeTag("ATTR")
	SectionVertexBuffers = chunk.MakeTag("VBUF")
	SectionLayouts       = chunk.MakeTag("VLAY")
	SectionMatrices      = chunk.MakeTag("MTXP")
	SectionBoneMaps      = chunk.MakeTag("BMAP")
	SectionIndexBuffers  = chunk.MakeTag("IBUF")
	SectionSubmeshes     = chunk.MakeTag("SUBM")
	SectionLodGroups     = chunk.MakeTag("LODS")
)

// Typed cross-reference indices. Any value can be constructed; dereferencing
// goes through the bounds-checked accessors on Geometry. Negative means none.
type (
	MaterialIndex     int32
	AttributeIndex    int32
	VertexBufferIndex int32
	IndexBufferIndex  int32
	BoneMapIndex      int32
	MatrixIndex       int32
	SubmeshIndex      int32
)

// NoRef is the "none" value for every cross-reference.
const NoRef = -1

// TextureSlot binds a texture to a material.
type TextureSlot struct {
	TextureID uint32
	Type      [2]uint16
	Unknown   [3]uint32
}

// Material is an entry of the materials section.
type Material struct {
	Index   uint32
	Unknown [2]uint32
	Slots   []TextureSlot
}

// AttributeType tags an attribute payload.
type AttributeType uint32

const (
	AttrFloat AttributeType = 0
	AttrVec2  AttributeType = 1
	AttrVec3  AttributeType = 2
	AttrVec4  AttributeType = 3
	AttrInt32 AttributeType = 4
	AttrRaw   AttributeType = 5
)

// Components returns the number of 32-bit values per element, 0 for raw.
func (t AttributeType) Components() int {
	switch t {
	case AttrFloat, AttrInt32:
		return 1
	case AttrVec2:
		return 2
	case AttrVec3:
		return 3
	case AttrVec4:
		return 4
	default:
		return 0
	}
}

// String returns a human-readable type name.
func (t AttributeType) String() string {
	switch t {
	case AttrFloat:
		return "float"
	case AttrVec2:
		return "vec2"
	case AttrVec3:
		return "vec3"
	case AttrVec4:
		return "vec4"
	case AttrInt32:
		return "int32"
	case AttrRaw:
		return "raw"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(t))
	}
}

// Attribute is one named shader parameter. Exactly one of Floats, Ints or
// Raw carries the payload, selected by Type.
type Attribute struct {
	Name   string
	Flag   uint32
	Type   AttributeType
	Floats []float32 // float and vecN, Count()*Components() values
	Ints   []int32
	Raw    []byte
}

// Count returns the element count stored on disk.
func (a *Attribute) Count() int {
	switch a.Type {
	case AttrInt32:
		return len(a.Ints)
	case AttrRaw:
		return len(a.Raw)
	default:
		if c := a.Type.Components(); c > 0 {
			return len(a.Floats) / c
		}
		return 0
	}
}

// AttributeList is the attribute set of one material.
type AttributeList struct {
	Attributes []Attribute
}

// VertexBuffer is an arena of vertices shared by one or more submeshes.
type VertexBuffer struct {
	Stride uint32
	Flags  uint32
	Data   []byte
}

// VertexCount returns len(Data) / Stride.
func (vb *VertexBuffer) VertexCount() int {
	if vb.Stride == 0 {
		return 0
	}
	return len(vb.Data) / int(vb.Stride)
}

// Semantic describes one vertex element inside a vertex buffer.
type Semantic struct {
	Buffer   uint32 // Vertex buffer index
	Offset   uint32 // Byte offset inside the vertex
	DataType uint32
	Semantic uint32 // index<<8 | type
}

// Index returns the semantic index (e.g. the UV set number).
func (s Semantic) Index() uint32 { return s.Semantic >> 8 }

// Kind returns the semantic type code.
func (s Semantic) Kind() uint32 { return s.Semantic & 0xff }

// MakeSemantic packs a semantic index and type.
func MakeSemantic(index, kind uint32) uint32 { return index<<8 | kind&0xff }

// Layout describes how to decode a vertex buffer.
type Layout struct {
	Refs      []uint32
	Semantics []Semantic
}

// MatrixPool is the append-only list of composed bone matrices. Entries are
// never removed or reindexed.
type MatrixPool []math.Mat4

// Append pushes m and returns its index.
func (p *MatrixPool) Append(m math.Mat4) MatrixIndex {
	*p = append(*p, m)
	return MatrixIndex(len(*p) - 1)
}

// BoneFlagExternal marks an entry whose Bone is an external-bone id.
const BoneFlagExternal = 0x1

// BoneMapEntry maps one skinning slot to a pooled matrix.
type BoneMapEntry struct {
	Matrix     MatrixIndex
	ClothGroup int32
	Bone       uint32 // Local bone index, or external id if external
	Flags      uint32
}

// IsExternal reports whether Bone is an external-bone id.
func (e BoneMapEntry) IsExternal() bool { return e.Flags&BoneFlagExternal != 0 }

// BoneMap is the skinning palette of one or more submeshes.
type BoneMap struct {
	Entries []BoneMapEntry
}

// IndexWidth is an index element width in bits.
type IndexWidth uint32

const (
	IndexWidth8  IndexWidth = 8
	IndexWidth16 IndexWidth = 16
	IndexWidth32 IndexWidth = 32
)

// Valid reports whether w is 8, 16 or 32.
func (w IndexWidth) Valid() bool {
	return w == IndexWidth8 || w == IndexWidth16 || w == IndexWidth32
}

// Bytes returns the element size in bytes.
func (w IndexWidth) Bytes() int { return int(w) / 8 }

// Capacity returns the vertex count at which this width must be widened.
func (w IndexWidth) Capacity() int {
	switch w {
	case IndexWidth8:
		return 1 << 8
	case IndexWidth16:
		return 1 << 16
	default:
		return 1<<31 - 1
	}
}

// Next returns the next wider width.
func (w IndexWidth) Next() IndexWidth {
	if w == IndexWidth8 {
		return IndexWidth16
	}
	return IndexWidth32
}

// IndexBuffer is an arena of indices shared by one or more submeshes.
type IndexBuffer struct {
	Width IndexWidth
	Flags uint32
	Data  []byte
}

// Len returns the element count.
func (ib *IndexBuffer) Len() int {
	if !ib.Width.Valid() {
		return 0
	}
	return len(ib.Data) / ib.Width.Bytes()
}

// SubmeshFlagCloth marks a soft/cloth submesh (LOD partition 2).
const SubmeshFlagCloth = 0x10

// Submesh is a drawable range of a vertex buffer and an index buffer.
// Indices are relative to VertexStart.
type Submesh struct {
	Flags        uint32
	VertexBuffer VertexBufferIndex
	BoneMap      BoneMapIndex
	Palette      uint32
	Attributes   AttributeIndex
	Material     MaterialIndex
	IndexBuffer  IndexBufferIndex
	IndexFormat  IndexWidth
	VertexStart  uint32
	VertexCount  uint32
	IndexStart   uint32
	IndexCount   uint32
	SortKey      uint32 // version 101+
	ShadowFlags  uint32 // version 102+
}

// IsCloth reports whether the soft/cloth flag is set.
func (s *Submesh) IsCloth() bool { return s.Flags&SubmeshFlagCloth != 0 }

// ShaderNameSize is the fixed on-disk size of Mesh.Shader.
const ShaderNameSize = 16

// Mesh groups submeshes drawn with one shader.
type Mesh struct {
	Shader     string
	ShaderPad  []byte // Bytes stored after the shader name's terminator, nil if zero filled
	Kind       uint32
	Section    int32 // External section id
	Visibility uint32 // version 102+
	Submeshes  []SubmeshIndex
}

// LodGroup is a set of meshes split into a count1 prefix of non-cloth meshes
// and a count2 suffix of cloth meshes.
type LodGroup struct {
	Params [7]uint32
	Count1 uint32
	Count2 uint32
	Meshes []Mesh
}

// RawSection is a section this package does not understand.
type RawSection struct {
	Tag     chunk.Tag
	Payload []byte
}

// Geometry is the parsed geometry chunk. A nil section slice means the
// section is absent; an empty non-nil slice means present with no entries.
type Geometry struct {
	Version  int
	BBoxMin  [3]float32
	BBoxMax  [3]float32
	Platform chunk.Tag

	Materials     []Material
	Attributes    []AttributeList
	VertexBuffers []VertexBuffer
	Layouts       []Layout
	Matrices      MatrixPool
	BoneMaps      []BoneMap
	IndexBuffers  []IndexBuffer
	Submeshes     []Submesh
	LodGroups     []LodGroup

	Unknown []RawSection
}

func at[T any](list []T, i int, what string) (*T, error) {
	if i < 0 || i >= len(list) {
		return nil, errors.Wrapf(ErrRange, "%s %d (have %d)", what, i, len(list))
	}
	return &list[i], nil
}

// Submesh returns submesh i.
func (g *Geometry) Submesh(i SubmeshIndex) (*Submesh, error) {
	return at(g.Submeshes, int(i), "submesh")
}

// VertexBuffer returns vertex buffer i.
func (g *Geometry) VertexBuffer(i VertexBufferIndex) (*VertexBuffer, error) {
	return at(g.VertexBuffers, int(i), "vertex buffer")
}

// IndexBuffer returns index buffer i.
func (g *Geometry) IndexBuffer(i IndexBufferIndex) (*IndexBuffer, error) {
	return at(g.IndexBuffers, int(i), "index buffer")
}

// BoneMap returns bone map i.
func (g *Geometry) BoneMap(i BoneMapIndex) (*BoneMap, error) {
	return at(g.BoneMaps, int(i), "bone map")
}

// Material returns material i.
func (g *Geometry) Material(i MaterialIndex) (*Material, error) {
	return at(g.Materials, int(i), "material")
}

// AttributeList returns attribute list i.
func (g *Geometry) AttributeList(i AttributeIndex) (*AttributeList, error) {
	return at(g.Attributes, int(i), "attribute list")
}

// Matrix returns pooled matrix i.
func (g *Geometry) Matrix(i MatrixIndex) (math.Mat4, error) {
	m, err := at(g.Matrices, int(i), "matrix")
	if err != nil {
		return math.Mat4{}, err
	}
	return *m, nil
}

// SubmeshVertices returns the vertex bytes of submesh i. The slice aliases
// the shared buffer.
func (g *Geometry) SubmeshVertices(i SubmeshIndex) ([]byte, error) {
	sm, err := g.Submesh(i)
	if err != nil {
		return nil, err
	}
	vb, err := g.VertexBuffer(sm.VertexBuffer)
	if err != nil {
		return nil, errors.Wrapf(err, "submesh %d", i)
	}
	start := uint64(sm.VertexStart) * uint64(vb.Stride)
	end := start + uint64(sm.VertexCount)*uint64(vb.Stride)
	if end > uint64(len(vb.Data)) {
		return nil, errors.Wrapf(ErrRange, "submesh %d vertices [%d, %d) past vertex buffer %d (%d vertices)",
			i, sm.VertexStart, sm.VertexStart+sm.VertexCount, sm.VertexBuffer, vb.VertexCount())
	}
	return vb.Data[start:end], nil
}

// SubmeshIndices returns the index bytes of submesh i at the buffer's
// current width. The slice aliases the shared buffer.
func (g *Geometry) SubmeshIndices(i SubmeshIndex) ([]byte, error) {
	sm, err := g.Submesh(i)
	if err != nil {
		return nil, err
	}
	ib, err := g.IndexBuffer(sm.IndexBuffer)
	if err != nil {
		return nil, errors.Wrapf(err, "submesh %d", i)
	}
	if !ib.Width.Valid() {
		return nil, errors.Wrapf(ErrSizeMismatch, "index buffer %d width %d", sm.IndexBuffer, ib.Width)
	}
	w := uint64(ib.Width.Bytes())
	start := uint64(sm.IndexStart) * w
	end := start + uint64(sm.IndexCount)*w
	if end > uint64(len(ib.Data)) {
		return nil, errors.Wrapf(ErrRange, "submesh %d indices [%d, %d) past index buffer %d (%d indices)",
			i, sm.IndexStart, sm.IndexStart+sm.IndexCount, sm.IndexBuffer, ib.Len())
	}
	return ib.Data[start:end], nil
}

// CheckReferences validates every cross-reference and range. The binary
// read path does not call it; export and edit paths do.
func (g *Geometry) CheckReferences() error {
	for li, l := range g.Layouts {
		for si, s := range l.Semantics {
			if _, err := g.VertexBuffer(VertexBufferIndex(s.Buffer)); err != nil {
				return errors.Wrapf(err, "layout %d semantic %d", li, si)
			}
		}
	}
	for bi, bm := range g.BoneMaps {
		for ei, e := range bm.Entries {
			if _, err := g.Matrix(e.Matrix); err != nil {
				return errors.Wrapf(err, "bone map %d entry %d", bi, ei)
			}
		}
	}
	for i := range g.Submeshes {
		sm := &g.Submeshes[i]
		idx := SubmeshIndex(i)
		if sm.VertexBuffer >= 0 {
			if _, err := g.SubmeshVertices(idx); err != nil {
				return err
			}
		}
		if sm.IndexBuffer >= 0 {
			if _, err := g.SubmeshIndices(idx); err != nil {
				return err
			}
		}
		if sm.BoneMap >= 0 {
			if _, err := g.BoneMap(sm.BoneMap); err != nil {
				return errors.Wrapf(err, "submesh %d", i)
			}
		}
		if sm.Material >= 0 {
			if _, err := g.Material(sm.Material); err != nil {
				return errors.Wrapf(err, "submesh %d", i)
			}
		}
		if sm.Attributes >= 0 {
			if _, err := g.AttributeList(sm.Attributes); err != nil {
				return errors.Wrapf(err, "submesh %d", i)
			}
		}
	}
	for gi, grp := range g.LodGroups {
		for mi, m := range grp.Meshes {
			for _, s := range m.Submeshes {
				if _, err := g.Submesh(s); err != nil {
					return errors.Wrapf(err, "lod group %d mesh %d", gi, mi)
				}
			}
		}
	}
	return nil
}

// GeometryStats summarises a geometry chunk.
type GeometryStats struct {
	Materials     int
	VertexBuffers int
	IndexBuffers  int
	BoneMaps      int
	Matrices      int
	Submeshes     int
	LodGroups     int
	Meshes        int
	Vertices      int
	Indices       int
}

// Stats counts sections and totals. Vertex and index totals are summed over
// submeshes.
func (g *Geometry) Stats() GeometryStats {
	s := GeometryStats{
		Materials:     len(g.Materials),
		VertexBuffers: len(g.VertexBuffers),
		IndexBuffers:  len(g.IndexBuffers),
		BoneMaps:      len(g.BoneMaps),
		Matrices:      len(g.Matrices),
		Submeshes:     len(g.Submeshes),
		LodGroups:     len(g.LodGroups),
	}
	for _, grp := range g.LodGroups {
		s.Meshes += len(grp.Meshes)
	}
	for _, sm := range g.Submeshes {
		s.Vertices += int(sm.VertexCount)
		s.Indices += int(sm.IndexCount)
	}
	return s
}

// SubmeshesUsingVertexBuffer returns, in submesh order, every submesh that
// references vertex buffer i.
func (g *Geometry) SubmeshesUsingVertexBuffer(i VertexBufferIndex) []SubmeshIndex {
	var out []SubmeshIndex
	for s := range g.Submeshes {
		if g.Submeshes[s].VertexBuffer == i {
			out = append(out, SubmeshIndex(s))
		}
	}
	return out
}

// SubmeshesUsingIndexBuffer returns, in submesh order, every submesh that
// references index buffer i.
func (g *Geometry) SubmeshesUsingIndexBuffer(i IndexBufferIndex) []SubmeshIndex {
	var out []SubmeshIndex
	for s := range g.Submeshes {
		if g.Submeshes[s].IndexBuffer == i {
			out = append(out, SubmeshIndex(s))
		}
	}
	return out
}

// SubmeshesUsingBoneMap returns every submesh that references bone map i.
func (g *Geometry) SubmeshesUsingBoneMap(i BoneMapIndex) []SubmeshIndex {
	var out []SubmeshIndex
	for s := range g.Submeshes {
		if g.Submeshes[s].BoneMap == i {
			out = append(out, SubmeshIndex(s))
		}
	}
	return out
}

// Clone returns a deep copy. Nil sections stay nil.
func (g *Geometry) Clone() *Geometry {
	c := *g
	c.Materials = cloneEach(g.Materials, func(m Material) Material {
		m.Slots = cloneSlice(m.Slots)
		return m
	})
	c.Attributes = cloneEach(g.Attributes, func(l AttributeList) AttributeList {
		l.Attributes = cloneEach(l.Attributes, func(a Attribute) Attribute {
			a.Floats = cloneSlice(a.Floats)
			a.Ints = cloneSlice(a.Ints)
			a.Raw = cloneSlice(a.Raw)
			return a
		})
		return l
	})
	c.VertexBuffers = cloneEach(g.VertexBuffers, func(vb VertexBuffer) VertexBuffer {
		vb.Data = cloneSlice(vb.Data)
		return vb
	})
	c.Layouts = cloneEach(g.Layouts, func(l Layout) Layout {
		l.Refs = cloneSlice(l.Refs)
		l.Semantics = cloneSlice(l.Semantics)
		return l
	})
	c.Matrices = MatrixPool(cloneSlice([]math.Mat4(g.Matrices)))
	c.BoneMaps = cloneEach(g.BoneMaps, func(bm BoneMap) BoneMap {
		bm.Entries = cloneSlice(bm.Entries)
		return bm
	})
	c.IndexBuffers = cloneEach(g.IndexBuffers, func(ib IndexBuffer) IndexBuffer {
		ib.Data = cloneSlice(ib.Data)
		return ib
	})
	c.Submeshes = cloneSlice(g.Submeshes)
	c.LodGroups = cloneEach(g.LodGroups, func(grp LodGroup) LodGroup {
		grp.Meshes = cloneEach(grp.Meshes, func(m Mesh) Mesh {
			m.ShaderPad = cloneSlice(m.ShaderPad)
			m.Submeshes = cloneSlice(m.Submeshes)
			return m
		})
		return grp
	})
	c.Unknown = cloneEach(g.Unknown, func(r RawSection) RawSection {
		r.Payload = cloneSlice(r.Payload)
		return r
	})
	return &c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

func cloneEach[T any](s []T, fn func(T) T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	for i, v := range s {
		out[i] = fn(v)
	}
	return out
}
