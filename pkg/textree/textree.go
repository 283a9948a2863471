// Package textree converts a model to and from a YAML text tree for
// inspection and hand authoring. Every binary field round-trips; byte blobs
// are written as hex strings.
package textree

import (
	"bytes"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/mdlkit/internal/fileio"
	"github.com/Faultbox/mdlkit/internal/logger"
	"github.com/Faultbox/mdlkit/pkg/encoding"
	"github.com/Faultbox/mdlkit/pkg/formats"
	"github.com/Faultbox/mdlkit/pkg/math"
)

// ErrInvalidText is returned for text that does not describe a model.
var ErrInvalidText = errors.New("invalid text tree")

// ShaderTable maps shader aliases to stored shader names. It is read-only
// once loaded.
type ShaderTable map[string]string

// LoadShaderTable reads an alias table from a YAML mapping file.
func LoadShaderTable(path string) (ShaderTable, error) {
	data, err := fileio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t ShaderTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "shader table %s", path)
	}
	return t, nil
}

// Resolve returns the shader an alias stands for, or name itself.
func (t ShaderTable) Resolve(name string) string {
	if real, ok := t[name]; ok {
		return real
	}
	return name
}

// Options controls Decompile and Compile.
type Options struct {
	Charset *encoding.Charset // Name codepage, nil for encoding.Default()
	Shaders ShaderTable       // Aliases substituted on Compile, may be nil
	AutoLOD bool              // Recompute LOD partition counts on Compile
}

func (o Options) charset() *encoding.Charset {
	if o.Charset == nil {
		return encoding.Default()
	}
	return o.Charset
}

// Decompile renders m as a text tree. Unlike loading, it checks every cross
// reference of every geometry chunk and fails with formats.ErrRange.
func Decompile(m *formats.Model, opts Options) ([]byte, error) {
	d := &decompiler{cs: opts.charset()}
	doc := document{
		Version:     formatVersion(m.Version),
		HeaderExtra: formatBlob(m.HeaderExtra),
		Chunks:      make([]chunkNode, len(m.Chunks)),
	}
	for i := range m.Chunks {
		n, err := d.chunk(&m.Chunks[i])
		if err != nil {
			return nil, errors.Wrapf(err, "chunk %d (%s)", i, m.Chunks[i].Tag)
		}
		doc.Chunks[i] = n
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, errors.Wrap(err, "encode text tree")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode text tree")
	}
	return buf.Bytes(), nil
}

// Compile builds a model from a text tree.
func Compile(data []byte, opts Options) (*formats.Model, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidText, "%v", err)
	}

	c := &compiler{cs: opts.charset(), opts: opts}
	version, err := parseVersion(doc.Version)
	if err != nil {
		return nil, err
	}
	extra, err := parseBlob(doc.HeaderExtra, "header_extra")
	if err != nil {
		return nil, err
	}
	m := &formats.Model{
		Version:     version,
		HeaderExtra: extra,
		Chunks:      make([]formats.ModelChunk, len(doc.Chunks)),
	}
	for i := range doc.Chunks {
		mc, err := c.chunk(&doc.Chunks[i])
		if err != nil {
			return nil, errors.Wrapf(err, "chunk %d (%s)", i, doc.Chunks[i].Tag)
		}
		m.Chunks[i] = mc
	}
	if c.aliases > 0 {
		logger.Debug("substituted shader aliases", zap.Int("count", c.aliases))
	}
	return m, nil
}

type decompiler struct {
	cs *encoding.Charset
}

func (d *decompiler) chunk(mc *formats.ModelChunk) (chunkNode, error) {
	n := chunkNode{Tag: formatTag(mc.Tag), Version: formatVersion(mc.Version)}
	var err error
	switch {
	case mc.Skeleton != nil:
		n.Skeleton, err = d.skeleton(mc.Skeleton)
	case mc.Geometry != nil:
		n.Geometry, err = d.geometry(mc.Geometry)
	default:
		raw := formatBlob(mc.Raw)
		n.Raw = &raw
	}
	return n, err
}

func (d *decompiler) skeleton(t *formats.BoneTable) (*skeletonNode, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	n := &skeletonNode{ExternalIDs: t.ExternalIDs}
	n.Bones = list(t.Bones, func(b formats.BoneRecord) boneNode {
		return boneNode{
			Parent:    b.Parent,
			Flags:     b.Flags,
			Position:  b.Position,
			Rotation:  b.Rotation,
			Scale:     b.Scale,
			Transform: b.Transform,
		}
	})
	if t.Names != nil {
		names := make([]string, len(t.Names))
		for i, name := range t.Names {
			s, err := d.cs.Decode(name)
			if err != nil {
				return nil, errors.Wrapf(err, "bone name %d", i)
			}
			names[i] = s
		}
		n.Names = &names
	}
	return n, nil
}

func (d *decompiler) geometry(g *formats.Geometry) (*geometryNode, error) {
	if err := g.CheckReferences(); err != nil {
		return nil, err
	}
	n := &geometryNode{
		BBoxMin:  g.BBoxMin,
		BBoxMax:  g.BBoxMax,
		Platform: formatTag(g.Platform),
	}
	var err error
	n.Materials = sectionNodeList(g.Materials, func(m formats.Material) materialNode {
		return materialNode{
			Index:   m.Index,
			Unknown: m.Unknown,
			Slots: list(m.Slots, func(s formats.TextureSlot) slotNode {
				return slotNode{TextureID: s.TextureID, Type: s.Type, Unknown: s.Unknown}
			}),
		}
	})
	if n.Attributes, err = sectionNode(g.Attributes, d.attributeList); err != nil {
		return nil, err
	}
	n.VertexBuffers = sectionNodeList(g.VertexBuffers, func(vb formats.VertexBuffer) bufferNode {
		return bufferNode{Stride: vb.Stride, Flags: vb.Flags, Data: formatBlob(vb.Data)}
	})
	n.Layouts = sectionNodeList(g.Layouts, func(l formats.Layout) layoutNode {
		return layoutNode{
			Refs: l.Refs,
			Semantics: list(l.Semantics, func(s formats.Semantic) semanticNode {
				return semanticNode{Buffer: s.Buffer, Offset: s.Offset, DataType: s.DataType, Semantic: s.Semantic}
			}),
		}
	})
	n.Matrices = sectionNodeList(g.Matrices, func(m math.Mat4) matrixNode {
		return matrixNode{M: m}
	})
	n.BoneMaps = sectionNodeList(g.BoneMaps, func(bm formats.BoneMap) boneMapNode {
		return boneMapNode{Entries: list(bm.Entries, func(e formats.BoneMapEntry) boneMapEntry {
			return boneMapEntry{Matrix: int32(e.Matrix), ClothGroup: e.ClothGroup, Bone: e.Bone, Flags: e.Flags}
		})}
	})
	n.IndexBuffers = sectionNodeList(g.IndexBuffers, func(ib formats.IndexBuffer) indexBufferNode {
		return indexBufferNode{Width: uint32(ib.Width), Flags: ib.Flags, Data: formatBlob(ib.Data)}
	})
	n.Submeshes = sectionNodeList(g.Submeshes, func(s formats.Submesh) submeshNode {
		return submeshNode{
			Flags:        s.Flags,
			VertexBuffer: int32(s.VertexBuffer),
			BoneMap:      int32(s.BoneMap),
			Palette:      s.Palette,
			Attributes:   int32(s.Attributes),
			Material:     int32(s.Material),
			IndexBuffer:  int32(s.IndexBuffer),
			IndexFormat:  uint32(s.IndexFormat),
			VertexStart:  s.VertexStart,
			VertexCount:  s.VertexCount,
			IndexStart:   s.IndexStart,
			IndexCount:   s.IndexCount,
			SortKey:      s.SortKey,
			ShadowFlags:  s.ShadowFlags,
		}
	})
	if n.LodGroups, err = sectionNode(g.LodGroups, d.lodGroup); err != nil {
		return nil, err
	}
	n.Unknown = list(g.Unknown, func(r formats.RawSection) rawSectionNode {
		return rawSectionNode{Tag: formatTag(r.Tag), Payload: formatBlob(r.Payload)}
	})
	return n, nil
}

func (d *decompiler) attributeList(l formats.AttributeList) (attributeListNode, error) {
	out := attributeListNode{Attributes: make([]attributeNode, len(l.Attributes))}
	for i, a := range l.Attributes {
		name, err := d.cs.Decode(a.Name)
		if err != nil {
			return out, errors.Wrapf(err, "attribute %d name", i)
		}
		out.Attributes[i] = attributeNode{
			Name:   name,
			Flag:   a.Flag,
			Type:   a.Type.String(),
			Floats: a.Floats,
			Ints:   a.Ints,
			Raw:    formatBlob(a.Raw),
		}
	}
	return out, nil
}

func (d *decompiler) lodGroup(grp formats.LodGroup) (lodGroupNode, error) {
	out := lodGroupNode{Params: grp.Params, Count1: grp.Count1, Count2: grp.Count2}
	for _, m := range grp.Meshes {
		shader, err := d.cs.Decode(m.Shader)
		if err != nil {
			return out, errors.Wrap(err, "shader name")
		}
		out.Meshes = append(out.Meshes, meshNode{
			Shader:     shader,
			ShaderPad:  formatBlob(m.ShaderPad),
			Kind:       m.Kind,
			Section:    m.Section,
			Visibility: m.Visibility,
			Submeshes:  list(m.Submeshes, func(s formats.SubmeshIndex) int32 { return int32(s) }),
		})
	}
	return out, nil
}

type compiler struct {
	cs      *encoding.Charset
	opts    Options
	aliases int
}

func (c *compiler) chunk(n *chunkNode) (formats.ModelChunk, error) {
	tag, err := parseTag(n.Tag)
	if err != nil {
		return formats.ModelChunk{}, err
	}
	version, err := parseVersion(n.Version)
	if err != nil {
		return formats.ModelChunk{}, err
	}
	mc := formats.ModelChunk{Tag: tag, Version: version}

	switch {
	case n.Skeleton != nil:
		if tag != formats.ChunkSkeleton {
			return mc, errors.Wrapf(ErrInvalidText, "skeleton body under tag %s", tag)
		}
		short, err := version.Short()
		if err != nil {
			return mc, err
		}
		mc.Skeleton, err = c.skeleton(n.Skeleton, short)
		return mc, err
	case n.Geometry != nil:
		if tag != formats.ChunkGeometry {
			return mc, errors.Wrapf(ErrInvalidText, "geometry body under tag %s", tag)
		}
		short, err := version.Short()
		if err != nil {
			return mc, err
		}
		mc.Geometry, err = c.geometry(n.Geometry, short)
		return mc, err
	case n.Raw != nil:
		mc.Raw, err = parseBlob(*n.Raw, "raw")
		return mc, err
	default:
		return mc, errors.Wrapf(ErrInvalidText, "chunk has no skeleton, geometry or raw body")
	}
}

func (c *compiler) skeleton(n *skeletonNode, version int) (*formats.BoneTable, error) {
	if version != formats.SkeletonVersionBase && version != formats.SkeletonVersionNames {
		return nil, errors.Wrapf(formats.ErrUnsupportedVersion, "skeleton version %d", version)
	}
	t := &formats.BoneTable{
		Version:     version,
		ExternalIDs: list(n.ExternalIDs, func(id int32) int32 { return id }),
		Bones: list(n.Bones, func(b boneNode) formats.BoneRecord {
			return formats.BoneRecord{
				Parent:    b.Parent,
				Flags:     b.Flags,
				Position:  b.Position,
				Rotation:  b.Rotation,
				Scale:     b.Scale,
				Transform: b.Transform,
			}
		}),
	}
	if n.Names != nil {
		t.Names = make([]string, len(*n.Names))
		for i, name := range *n.Names {
			s, err := c.cs.Encode(name)
			if err != nil {
				return nil, errors.Wrapf(err, "bone name %d", i)
			}
			t.Names[i] = s
		}
	}
	return t, nil
}

func (c *compiler) geometry(n *geometryNode, version int) (*formats.Geometry, error) {
	if !formats.SupportedGeometryVersion(version) {
		return nil, errors.Wrapf(formats.ErrUnsupportedVersion, "geometry version %d", version)
	}
	platform, err := parseTag(n.Platform)
	if err != nil {
		return nil, err
	}
	g := &formats.Geometry{
		Version:  version,
		BBoxMin:  n.BBoxMin,
		BBoxMax:  n.BBoxMax,
		Platform: platform,
	}

	g.Materials = sectionList(n.Materials, func(m materialNode) formats.Material {
		return formats.Material{
			Index:   m.Index,
			Unknown: m.Unknown,
			Slots: list(m.Slots, func(s slotNode) formats.TextureSlot {
				return formats.TextureSlot{TextureID: s.TextureID, Type: s.Type, Unknown: s.Unknown}
			}),
		}
	})
	if g.Attributes, err = section(n.Attributes, c.attributeList); err != nil {
		return nil, err
	}
	if g.VertexBuffers, err = section(n.VertexBuffers, func(i int, b bufferNode) (formats.VertexBuffer, error) {
		data, err := parseBlob(b.Data, "vertex buffer data")
		if err != nil {
			return formats.VertexBuffer{}, errors.Wrapf(err, "vertex buffer %d", i)
		}
		return formats.VertexBuffer{Stride: b.Stride, Flags: b.Flags, Data: data}, nil
	}); err != nil {
		return nil, err
	}
	g.Layouts = sectionList(n.Layouts, func(l layoutNode) formats.Layout {
		return formats.Layout{
			Refs: list(l.Refs, func(r uint32) uint32 { return r }),
			Semantics: list(l.Semantics, func(s semanticNode) formats.Semantic {
				return formats.Semantic{Buffer: s.Buffer, Offset: s.Offset, DataType: s.DataType, Semantic: s.Semantic}
			}),
		}
	})
	matrices := sectionList(n.Matrices, func(m matrixNode) math.Mat4 {
		return math.Mat4(m.M)
	})
	g.Matrices = formats.MatrixPool(matrices)
	g.BoneMaps = sectionList(n.BoneMaps, func(bm boneMapNode) formats.BoneMap {
		return formats.BoneMap{Entries: list(bm.Entries, func(e boneMapEntry) formats.BoneMapEntry {
			return formats.BoneMapEntry{Matrix: formats.MatrixIndex(e.Matrix), ClothGroup: e.ClothGroup, Bone: e.Bone, Flags: e.Flags}
		})}
	})
	if g.IndexBuffers, err = section(n.IndexBuffers, func(i int, b indexBufferNode) (formats.IndexBuffer, error) {
		data, err := parseBlob(b.Data, "index buffer data")
		if err != nil {
			return formats.IndexBuffer{}, errors.Wrapf(err, "index buffer %d", i)
		}
		return formats.IndexBuffer{Width: formats.IndexWidth(b.Width), Flags: b.Flags, Data: data}, nil
	}); err != nil {
		return nil, err
	}
	g.Submeshes = sectionList(n.Submeshes, func(s submeshNode) formats.Submesh {
		return formats.Submesh{
			Flags:        s.Flags,
			VertexBuffer: formats.VertexBufferIndex(s.VertexBuffer),
			BoneMap:      formats.BoneMapIndex(s.BoneMap),
			Palette:      s.Palette,
			Attributes:   formats.AttributeIndex(s.Attributes),
			Material:     formats.MaterialIndex(s.Material),
			IndexBuffer:  formats.IndexBufferIndex(s.IndexBuffer),
			IndexFormat:  formats.IndexWidth(s.IndexFormat),
			VertexStart:  s.VertexStart,
			VertexCount:  s.VertexCount,
			IndexStart:   s.IndexStart,
			IndexCount:   s.IndexCount,
			SortKey:      s.SortKey,
			ShadowFlags:  s.ShadowFlags,
		}
	})
	if g.LodGroups, err = section(n.LodGroups, c.lodGroup); err != nil {
		return nil, err
	}
	for i, r := range n.Unknown {
		tag, err := parseTag(r.Tag)
		if err != nil {
			return nil, errors.Wrapf(err, "unknown section %d", i)
		}
		payload, err := parseBlob(r.Payload, "unknown section payload")
		if err != nil {
			return nil, err
		}
		g.Unknown = append(g.Unknown, formats.RawSection{Tag: tag, Payload: payload})
	}

	if c.opts.AutoLOD {
		if err := g.RecalcLodGroups(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (c *compiler) attributeList(i int, n attributeListNode) (formats.AttributeList, error) {
	var out formats.AttributeList
	out.Attributes = make([]formats.Attribute, 0, len(n.Attributes))
	for k, a := range n.Attributes {
		typ, err := parseAttributeType(a.Type)
		if err != nil {
			return out, errors.Wrapf(err, "attribute list %d attribute %d", i, k)
		}
		name, err := c.cs.Encode(a.Name)
		if err != nil {
			return out, errors.Wrapf(err, "attribute list %d attribute %d", i, k)
		}
		raw, err := parseBlob(a.Raw, "attribute raw")
		if err != nil {
			return out, err
		}
		out.Attributes = append(out.Attributes, formats.Attribute{
			Name:   name,
			Flag:   a.Flag,
			Type:   typ,
			Floats: list(a.Floats, func(f float32) float32 { return f }),
			Ints:   list(a.Ints, func(v int32) int32 { return v }),
			Raw:    raw,
		})
	}
	if len(out.Attributes) == 0 {
		out.Attributes = nil
	}
	return out, nil
}

func (c *compiler) lodGroup(i int, n lodGroupNode) (formats.LodGroup, error) {
	grp := formats.LodGroup{Params: n.Params, Count1: n.Count1, Count2: n.Count2}
	for k, m := range n.Meshes {
		name := m.Shader
		if real := c.opts.Shaders.Resolve(name); real != name {
			name = real
			c.aliases++
		}
		shader, err := c.cs.Encode(name)
		if err != nil {
			return grp, errors.Wrapf(err, "lod group %d mesh %d shader", i, k)
		}
		pad, err := parseBlob(m.ShaderPad, "shader_pad")
		if err != nil {
			return grp, errors.Wrapf(err, "lod group %d mesh %d", i, k)
		}
		if _, ok := encoding.PadFixed(shader, pad, formats.ShaderNameSize); !ok {
			return grp, errors.Wrapf(formats.ErrSizeMismatch, "lod group %d mesh %d: shader %q longer than %d bytes",
				i, k, name, formats.ShaderNameSize)
		}
		grp.Meshes = append(grp.Meshes, formats.Mesh{
			Shader:     shader,
			ShaderPad:  pad,
			Kind:       m.Kind,
			Section:    m.Section,
			Visibility: m.Visibility,
			Submeshes:  list(m.Submeshes, func(s int32) formats.SubmeshIndex { return formats.SubmeshIndex(s) }),
		})
	}
	return grp, nil
}
