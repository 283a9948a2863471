package formats

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/Faultbox/mdlkit/pkg/encoding"
)

// Bytes serializes the geometry for its Version. Sections are written in
// canonical order, skipping absent (nil) ones, followed by unknown sections
// in the order they were read. Fields newer than Version are not written.
func (g *Geometry) Bytes() ([]byte, error) {
	if !SupportedGeometryVersion(g.Version) {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "geometry version %d", g.Version)
	}

	w := &writer{}
	w.f32s(g.BBoxMin[:])
	w.f32s(g.BBoxMax[:])
	w.u32(uint32(g.Platform))
	countAt := len(w.buf)
	w.u32(0)

	steps := []struct {
		present bool
		tag     uint32
		body    func(*writer) error
	}{
		{g.Materials != nil, uint32(SectionMaterials), g.writeMaterials},
		{g.Attributes != nil, uint32(SectionAttributes), g.writeAttributes},
		{g.VertexBuffers != nil, uint32(SectionVertexBuffers), g.writeVertexBuffers},
		{g.Layouts != nil, uint32(SectionLayouts), g.writeLayouts},
		{g.Matrices != nil, uint32(SectionMatrices), g.writeMatrices},
		{g.BoneMaps != nil, uint32(SectionBoneMaps), g.writeBoneMaps},
		{g.IndexBuffers != nil, uint32(SectionIndexBuffers), g.writeIndexBuffers},
		{g.Submeshes != nil, uint32(SectionSubmeshes), g.writeSubmeshes},
		{g.LodGroups != nil, uint32(SectionLodGroups), g.writeLodGroups},
	}
	sections := 0
	for _, s := range steps {
		if !s.present {
			continue
		}
		done := w.section(s.tag)
		if err := s.body(w); err != nil {
			return nil, err
		}
		done()
		sections++
	}
	for _, raw := range g.Unknown {
		done := w.section(uint32(raw.Tag))
		w.raw(raw.Payload)
		done()
		sections++
	}

	binary.LittleEndian.PutUint32(w.buf[countAt:], uint32(sections))
	return w.buf, nil
}

func (g *Geometry) writeMaterials(w *writer) error {
	w.u32(uint32(len(g.Materials)))
	for _, m := range g.Materials {
		w.u32(m.Index)
		w.u32(m.Unknown[0])
		w.u32(m.Unknown[1])
		w.u32(uint32(len(m.Slots)))
		for _, s := range m.Slots {
			w.u32(s.TextureID)
			w.u16(s.Type[0])
			w.u16(s.Type[1])
			w.u32(s.Unknown[0])
			w.u32(s.Unknown[1])
			w.u32(s.Unknown[2])
		}
	}
	return nil
}

func (g *Geometry) writeAttributes(w *writer) error {
	w.u32(uint32(len(g.Attributes)))
	for li, list := range g.Attributes {
		w.u32(uint32(len(list.Attributes)))
		for ai := range list.Attributes {
			a := &list.Attributes[ai]
			w.u32(uint32(len(a.Name)))
			w.padded([]byte(a.Name))
			w.u32(a.Flag)
			w.u32(uint32(a.Type))
			switch a.Type {
			case AttrFloat, AttrVec2, AttrVec3, AttrVec4:
				c := a.Type.Components()
				if len(a.Floats)%c != 0 {
					return errors.Wrapf(ErrSizeMismatch, "attribute list %d %q: %d floats for %s",
						li, a.Name, len(a.Floats), a.Type)
				}
				w.u32(uint32(len(a.Floats) / c))
				w.f32s(a.Floats)
			case AttrInt32:
				w.u32(uint32(len(a.Ints)))
				for _, v := range a.Ints {
					w.i32(v)
				}
			case AttrRaw:
				w.u32(uint32(len(a.Raw)))
				w.padded(a.Raw)
			default:
				return errors.Wrapf(ErrUnsupportedVersion, "attribute list %d %q: data type %d", li, a.Name, uint32(a.Type))
			}
		}
	}
	return nil
}

func (g *Geometry) writeVertexBuffers(w *writer) error {
	w.u32(uint32(len(g.VertexBuffers)))
	for _, vb := range g.VertexBuffers {
		w.u32(vb.Stride)
		w.u32(vb.Flags)
		w.u32(uint32(len(vb.Data)))
		w.padded(vb.Data)
	}
	return nil
}

func (g *Geometry) writeLayouts(w *writer) error {
	w.u32(uint32(len(g.Layouts)))
	for _, l := range g.Layouts {
		w.u32(uint32(len(l.Refs)))
		for _, ref := range l.Refs {
			w.u32(ref)
		}
		w.u32(uint32(len(l.Semantics)))
		for _, s := range l.Semantics {
			w.u32(s.Buffer)
			w.u32(s.Offset)
			w.u32(s.DataType)
			w.u32(s.Semantic)
		}
	}
	return nil
}

func (g *Geometry) writeMatrices(w *writer) error {
	w.u32(uint32(len(g.Matrices)))
	for i := range g.Matrices {
		w.f32s(g.Matrices[i][:])
	}
	return nil
}

func (g *Geometry) writeBoneMaps(w *writer) error {
	w.u32(uint32(len(g.BoneMaps)))
	for _, bm := range g.BoneMaps {
		w.u32(uint32(len(bm.Entries)))
		for _, e := range bm.Entries {
			w.i32(int32(e.Matrix))
			w.i32(e.ClothGroup)
			w.u32(e.Bone)
			w.u32(e.Flags)
		}
	}
	return nil
}

func (g *Geometry) writeIndexBuffers(w *writer) error {
	w.u32(uint32(len(g.IndexBuffers)))
	for _, ib := range g.IndexBuffers {
		w.u32(uint32(ib.Width))
		w.u32(ib.Flags)
		w.u32(uint32(len(ib.Data)))
		w.padded(ib.Data)
	}
	return nil
}

func (g *Geometry) writeSubmeshes(w *writer) error {
	w.u32(uint32(len(g.Submeshes)))
	for _, s := range g.Submeshes {
		w.u32(s.Flags)
		w.i32(int32(s.VertexBuffer))
		w.i32(int32(s.BoneMap))
		w.u32(s.Palette)
		w.i32(int32(s.Attributes))
		w.i32(int32(s.Material))
		w.i32(int32(s.IndexBuffer))
		w.u32(uint32(s.IndexFormat))
		w.u32(s.VertexStart)
		w.u32(s.VertexCount)
		w.u32(s.IndexStart)
		w.u32(s.IndexCount)
		if g.Version >= GeometryVersionSortKey {
			w.u32(s.SortKey)
		}
		if g.Version >= GeometryVersionShadowed {
			w.u32(s.ShadowFlags)
		}
	}
	return nil
}

func (g *Geometry) writeLodGroups(w *writer) error {
	w.u32(uint32(len(g.LodGroups)))
	for gi, grp := range g.LodGroups {
		for _, p := range grp.Params {
			w.u32(p)
		}
		w.u32(grp.Count1)
		w.u32(grp.Count2)
		w.u32(uint32(len(grp.Meshes)))
		for mi, m := range grp.Meshes {
			name, ok := encoding.PadFixed(m.Shader, m.ShaderPad, ShaderNameSize)
			if !ok {
				return errors.Wrapf(ErrSizeMismatch, "lod group %d mesh %d: shader name %q with %d pad bytes longer than %d bytes",
					gi, mi, m.Shader, len(m.ShaderPad), ShaderNameSize)
			}
			w.raw(name)
			w.u32(m.Kind)
			w.i32(m.Section)
			if g.Version >= GeometryVersionShadowed {
				w.u32(m.Visibility)
			}
			w.u32(uint32(len(m.Submeshes)))
			for _, s := range m.Submeshes {
				w.i32(int32(s))
			}
		}
	}
	return nil
}
