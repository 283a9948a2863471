package formats

import (
	"github.com/pkg/errors"

	"github.com/Faultbox/mdlkit/pkg/chunk"
	"github.com/Faultbox/mdlkit/pkg/encoding"
	"github.com/Faultbox/mdlkit/pkg/math"
)

const (
	sectionHeaderSize = 8
	textureSlotSize   = 20
	semanticSize      = 16
	boneMapEntrySize  = 16
	matrixSize        = 64
	meshMinSize       = ShaderNameSize + 12
	lodGroupMinSize   = 10 * 4
)

// ParseGeometry parses a geometry chunk payload for the given short version.
// Cross-references are copied as-is; use CheckReferences to validate them.
func ParseGeometry(payload []byte, version int) (*Geometry, error) {
	if !SupportedGeometryVersion(version) {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "geometry version %d", version)
	}

	r := newReader(payload)
	g := &Geometry{Version: version}
	r.f32s(g.BBoxMin[:])
	r.f32s(g.BBoxMax[:])
	g.Platform = chunk.Tag(r.u32())
	n := r.count(sectionHeaderSize, "section")
	if r.err != nil {
		return nil, errors.Wrap(r.err, "geometry header")
	}

	seen := make(map[chunk.Tag]bool, n)
	for i := 0; i < n; i++ {
		start := r.pos
		tag := chunk.Tag(r.u32())
		size := int(r.u32())
		if r.err != nil {
			return nil, errors.Wrapf(r.err, "section %d header", i)
		}
		if size < sectionHeaderSize || size-sectionHeaderSize > r.remaining() {
			return nil, errors.Wrapf(ErrMalformedContainer, "section %d (%s) at 0x%x: size %d, %d bytes left",
				i, tag, start, size, r.remaining())
		}
		body := r.data[r.pos : r.pos+size-sectionHeaderSize]
		r.pos += size - sectionHeaderSize

		if seen[tag] && isKnownSection(tag) {
			return nil, errors.Wrapf(ErrMalformedContainer, "duplicate section %s", tag)
		}
		seen[tag] = true

		if err := g.parseSection(tag, body); err != nil {
			return nil, errors.Wrapf(err, "section %s", tag)
		}
	}
	return g, nil
}

func isKnownSection(tag chunk.Tag) bool {
	switch tag {
	case SectionMaterials, SectionAttributes, SectionVertexBuffers, SectionLayouts,
		SectionMatrices, SectionBoneMaps, SectionIndexBuffers, SectionSubmeshes, SectionLodGroups:
		return true
	}
	return false
}

// parseSection decodes one section body. Trailing bytes inside a section are
// ignored.
func (g *Geometry) parseSection(tag chunk.Tag, body []byte) error {
	r := newReader(body)
	switch tag {
	case SectionMaterials:
		g.Materials = readMaterials(r)
	case SectionAttributes:
		g.Attributes = readAttributes(r)
	case SectionVertexBuffers:
		g.VertexBuffers = readVertexBuffers(r)
	case SectionLayouts:
		g.Layouts = readLayouts(r)
	case SectionMatrices:
		g.Matrices = readMatrices(r)
	case SectionBoneMaps:
		g.BoneMaps = readBoneMaps(r)
	case SectionIndexBuffers:
		g.IndexBuffers = readIndexBuffers(r)
	case SectionSubmeshes:
		g.Submeshes = readSubmeshes(r, g.Version)
	case SectionLodGroups:
		g.LodGroups = readLodGroups(r, g.Version)
	default:
		g.Unknown = append(g.Unknown, RawSection{Tag: tag, Payload: append([]byte(nil), body...)})
	}
	return r.err
}

func readMaterials(r *reader) []Material {
	n := r.count(16, "material")
	out := make([]Material, n)
	for i := 0; i < n && r.err == nil; i++ {
		m := &out[i]
		m.Index = r.u32()
		m.Unknown[0] = r.u32()
		m.Unknown[1] = r.u32()
		ns := r.count(textureSlotSize, "texture slot")
		m.Slots = makeList[TextureSlot](ns)
		for j := 0; j < ns && r.err == nil; j++ {
			s := &m.Slots[j]
			s.TextureID = r.u32()
			s.Type[0] = r.u16()
			s.Type[1] = r.u16()
			s.Unknown[0] = r.u32()
			s.Unknown[1] = r.u32()
			s.Unknown[2] = r.u32()
		}
	}
	return out
}

func readAttributes(r *reader) []AttributeList {
	n := r.count(4, "attribute list")
	out := make([]AttributeList, n)
	for i := 0; i < n && r.err == nil; i++ {
		na := r.count(16, "attribute")
		out[i].Attributes = makeList[Attribute](na)
		for j := 0; j < na && r.err == nil; j++ {
			readAttribute(r, &out[i].Attributes[j])
		}
	}
	return out
}

func readAttribute(r *reader, a *Attribute) {
	l := r.count(1, "attribute name byte")
	a.Name = string(r.padded(l))
	a.Flag = r.u32()
	a.Type = AttributeType(r.u32())
	switch a.Type {
	case AttrFloat, AttrVec2, AttrVec3, AttrVec4:
		c := a.Type.Components()
		n := r.count(4*c, "attribute element")
		a.Floats = makeList[float32](n * c)
		r.f32s(a.Floats)
	case AttrInt32:
		n := r.count(4, "attribute element")
		a.Ints = makeList[int32](n)
		for k := range a.Ints {
			a.Ints[k] = r.i32()
		}
	case AttrRaw:
		n := r.count(1, "attribute byte")
		if n > 0 {
			a.Raw = r.padded(n)
		}
	default:
		r.fail("attribute %q: unknown data type %d", a.Name, uint32(a.Type))
	}
}

func readVertexBuffers(r *reader) []VertexBuffer {
	n := r.count(12, "vertex buffer")
	out := make([]VertexBuffer, n)
	for i := 0; i < n && r.err == nil; i++ {
		vb := &out[i]
		vb.Stride = r.u32()
		vb.Flags = r.u32()
		l := r.count(1, "vertex byte")
		if l > 0 {
			vb.Data = r.padded(l)
		}
	}
	return out
}

func readLayouts(r *reader) []Layout {
	n := r.count(8, "layout")
	out := make([]Layout, n)
	for i := 0; i < n && r.err == nil; i++ {
		l := &out[i]
		nr := r.count(4, "layout ref")
		l.Refs = makeList[uint32](nr)
		for j := range l.Refs {
			l.Refs[j] = r.u32()
		}
		ns := r.count(semanticSize, "semantic")
		l.Semantics = makeList[Semantic](ns)
		for j := range l.Semantics {
			s := &l.Semantics[j]
			s.Buffer = r.u32()
			s.Offset = r.u32()
			s.DataType = r.u32()
			s.Semantic = r.u32()
		}
	}
	return out
}

func readMatrices(r *reader) MatrixPool {
	n := r.count(matrixSize, "matrix")
	out := make(MatrixPool, n)
	for i := range out {
		var m math.Mat4
		r.f32s(m[:])
		out[i] = m
	}
	return out
}

func readBoneMaps(r *reader) []BoneMap {
	n := r.count(4, "bone map")
	out := make([]BoneMap, n)
	for i := 0; i < n && r.err == nil; i++ {
		ne := r.count(boneMapEntrySize, "bone map entry")
		out[i].Entries = makeList[BoneMapEntry](ne)
		for j := range out[i].Entries {
			e := &out[i].Entries[j]
			e.Matrix = MatrixIndex(r.i32())
			e.ClothGroup = r.i32()
			e.Bone = r.u32()
			e.Flags = r.u32()
		}
	}
	return out
}

func readIndexBuffers(r *reader) []IndexBuffer {
	n := r.count(12, "index buffer")
	out := make([]IndexBuffer, n)
	for i := 0; i < n && r.err == nil; i++ {
		ib := &out[i]
		ib.Width = IndexWidth(r.u32())
		ib.Flags = r.u32()
		l := r.count(1, "index byte")
		if l > 0 {
			ib.Data = r.padded(l)
		}
	}
	return out
}

func readSubmeshes(r *reader, version int) []Submesh {
	n := r.count(submeshRecordSize[version], "submesh")
	out := make([]Submesh, n)
	for i := 0; i < n && r.err == nil; i++ {
		s := &out[i]
		s.Flags = r.u32()
		s.VertexBuffer = VertexBufferIndex(r.i32())
		s.BoneMap = BoneMapIndex(r.i32())
		s.Palette = r.u32()
		s.Attributes = AttributeIndex(r.i32())
		s.Material = MaterialIndex(r.i32())
		s.IndexBuffer = IndexBufferIndex(r.i32())
		s.IndexFormat = IndexWidth(r.u32())
		s.VertexStart = r.u32()
		s.VertexCount = r.u32()
		s.IndexStart = r.u32()
		s.IndexCount = r.u32()
		if version >= GeometryVersionSortKey {
			s.SortKey = r.u32()
		}
		if version >= GeometryVersionShadowed {
			s.ShadowFlags = r.u32()
		}
	}
	return out
}

func readLodGroups(r *reader, version int) []LodGroup {
	n := r.count(lodGroupMinSize, "lod group")
	out := make([]LodGroup, n)
	for i := 0; i < n && r.err == nil; i++ {
		grp := &out[i]
		for k := range grp.Params {
			grp.Params[k] = r.u32()
		}
		grp.Count1 = r.u32()
		grp.Count2 = r.u32()
		nm := r.count(meshMinSize, "mesh")
		grp.Meshes = makeList[Mesh](nm)
		for j := 0; j < nm && r.err == nil; j++ {
			m := &grp.Meshes[j]
			m.Shader, m.ShaderPad = encoding.SplitFixed(r.bytes(ShaderNameSize))
			m.Kind = r.u32()
			m.Section = r.i32()
			if version >= GeometryVersionShadowed {
				m.Visibility = r.u32()
			}
			ns := r.count(4, "mesh submesh")
			m.Submeshes = makeList[SubmeshIndex](ns)
			for k := range m.Submeshes {
				m.Submeshes[k] = SubmeshIndex(r.i32())
			}
		}
	}
	return out
}
