package textree

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Faultbox/mdlkit/pkg/chunk"
	"github.com/Faultbox/mdlkit/pkg/formats"
)

// document is the YAML shape of a model. Section pointers distinguish an
// absent section (nil) from an empty one.
type document struct {
	Version     string      `yaml:"version"`
	HeaderExtra string      `yaml:"header_extra,omitempty"`
	Chunks      []chunkNode `yaml:"chunks"`
}

type chunkNode struct {
	Tag      string        `yaml:"tag"`
	Version  string        `yaml:"version"`
	Skeleton *skeletonNode `yaml:"skeleton,omitempty"`
	Geometry *geometryNode `yaml:"geometry,omitempty"`
	Raw      *string       `yaml:"raw,omitempty"`
}

type skeletonNode struct {
	Bones       []boneNode `yaml:"bones"`
	ExternalIDs []int32    `yaml:"external_ids,flow"`
	Names       *[]string  `yaml:"names,omitempty,flow"`
}

type boneNode struct {
	Parent    int32       `yaml:"parent"`
	Flags     uint32      `yaml:"flags,omitempty"`
	Position  [4]float32  `yaml:"position,flow"`
	Rotation  [4]float32  `yaml:"rotation,flow"`
	Scale     [4]float32  `yaml:"scale,flow"`
	Transform [16]float32 `yaml:"transform,flow"`
}

type geometryNode struct {
	BBoxMin  [3]float32 `yaml:"bbox_min,flow"`
	BBoxMax  [3]float32 `yaml:"bbox_max,flow"`
	Platform string     `yaml:"platform"`

	Materials     *[]materialNode      `yaml:"materials,omitempty"`
	Attributes    *[]attributeListNode `yaml:"attributes,omitempty"`
	VertexBuffers *[]bufferNode        `yaml:"vertex_buffers,omitempty"`
	Layouts       *[]layoutNode        `yaml:"layouts,omitempty"`
	Matrices      *[]matrixNode        `yaml:"matrices,omitempty"`
	BoneMaps      *[]boneMapNode       `yaml:"bone_maps,omitempty"`
	IndexBuffers  *[]indexBufferNode   `yaml:"index_buffers,omitempty"`
	Submeshes     *[]submeshNode       `yaml:"submeshes,omitempty"`
	LodGroups     *[]lodGroupNode      `yaml:"lod_groups,omitempty"`
	Unknown       []rawSectionNode     `yaml:"unknown_sections,omitempty"`
}

type materialNode struct {
	Index   uint32     `yaml:"index"`
	Unknown [2]uint32  `yaml:"unknown,flow"`
	Slots   []slotNode `yaml:"slots,omitempty,flow"`
}

type slotNode struct {
	TextureID uint32    `yaml:"texture"`
	Type      [2]uint16 `yaml:"type,flow"`
	Unknown   [3]uint32 `yaml:"unknown,flow"`
}

type attributeListNode struct {
	Attributes []attributeNode `yaml:"attributes"`
}

type attributeNode struct {
	Name   string    `yaml:"name"`
	Flag   uint32    `yaml:"flag,omitempty"`
	Type   string    `yaml:"type"`
	Floats []float32 `yaml:"floats,omitempty,flow"`
	Ints   []int32   `yaml:"ints,omitempty,flow"`
	Raw    string    `yaml:"raw,omitempty"`
}

type bufferNode struct {
	Stride uint32 `yaml:"stride"`
	Flags  uint32 `yaml:"flags,omitempty"`
	Data   string `yaml:"data"`
}

type layoutNode struct {
	Refs      []uint32       `yaml:"refs,omitempty,flow"`
	Semantics []semanticNode `yaml:"semantics,omitempty,flow"`
}

type semanticNode struct {
	Buffer   uint32 `yaml:"buffer"`
	Offset   uint32 `yaml:"offset"`
	DataType uint32 `yaml:"data_type"`
	Semantic uint32 `yaml:"semantic"`
}

type matrixNode struct {
	M [16]float32 `yaml:"m,flow"`
}

type boneMapNode struct {
	Entries []boneMapEntry `yaml:"entries,flow"`
}

type boneMapEntry struct {
	Matrix     int32  `yaml:"matrix"`
	ClothGroup int32  `yaml:"cloth_group"`
	Bone       uint32 `yaml:"bone"`
	Flags      uint32 `yaml:"flags,omitempty"`
}

type indexBufferNode struct {
	Width uint32 `yaml:"width"`
	Flags uint32 `yaml:"flags,omitempty"`
	Data  string `yaml:"data"`
}

type submeshNode struct {
	Flags        uint32 `yaml:"flags,omitempty"`
	VertexBuffer int32  `yaml:"vertex_buffer"`
	BoneMap      int32  `yaml:"bone_map"`
	Palette      uint32 `yaml:"palette,omitempty"`
	Attributes   int32  `yaml:"attributes"`
	Material     int32  `yaml:"material"`
	IndexBuffer  int32  `yaml:"index_buffer"`
	IndexFormat  uint32 `yaml:"index_format"`
	VertexStart  uint32 `yaml:"vertex_start"`
	VertexCount  uint32 `yaml:"vertex_count"`
	IndexStart   uint32 `yaml:"index_start"`
	IndexCount   uint32 `yaml:"index_count"`
	SortKey      uint32 `yaml:"sort_key,omitempty"`
	ShadowFlags  uint32 `yaml:"shadow_flags,omitempty"`
}

type lodGroupNode struct {
	Params [7]uint32  `yaml:"params,flow"`
	Count1 uint32     `yaml:"count1"`
	Count2 uint32     `yaml:"count2"`
	Meshes []meshNode `yaml:"meshes,omitempty"`
}

type meshNode struct {
	Shader     string  `yaml:"shader"`
	ShaderPad  string  `yaml:"shader_pad,omitempty"`
	Kind       uint32  `yaml:"kind"`
	Section    int32   `yaml:"section"`
	Visibility uint32  `yaml:"visibility,omitempty"`
	Submeshes  []int32 `yaml:"submeshes,omitempty,flow"`
}

type rawSectionNode struct {
	Tag     string `yaml:"tag"`
	Payload string `yaml:"payload"`
}

// Scalar encodings shared by both directions.

func formatVersion(v chunk.Version) string { return v.String() }

func parseVersion(s string) (chunk.Version, error) {
	if strings.HasPrefix(s, "0x") {
		n, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidText, "version %q", s)
		}
		return chunk.Version(n), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 9999 {
		return 0, errors.Wrapf(ErrInvalidText, "version %q", s)
	}
	return chunk.LongVersion(n), nil
}

func formatTag(t chunk.Tag) string { return t.String() }

func parseTag(s string) (chunk.Tag, error) {
	if strings.HasPrefix(s, "0x") && len(s) == 10 {
		n, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidText, "tag %q", s)
		}
		return chunk.Tag(n), nil
	}
	if len(s) == 0 || len(s) > 4 {
		return 0, errors.Wrapf(ErrInvalidText, "tag %q", s)
	}
	return chunk.MakeTag(s), nil
}

func formatBlob(b []byte) string { return hex.EncodeToString(b) }

// parseBlob decodes hex. An empty string is a nil blob, like the binary
// reader produces for zero-length data.
func parseBlob(s, what string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidText, "%s: %v", what, err)
	}
	return b, nil
}

var attributeTypes = map[string]formats.AttributeType{
	"float": formats.AttrFloat,
	"vec2":  formats.AttrVec2,
	"vec3":  formats.AttrVec3,
	"vec4":  formats.AttrVec4,
	"int32": formats.AttrInt32,
	"raw":   formats.AttrRaw,
}

func parseAttributeType(s string) (formats.AttributeType, error) {
	if t, ok := attributeTypes[s]; ok {
		return t, nil
	}
	return 0, errors.Wrapf(ErrInvalidText, "attribute type %q", s)
}

// list copies src through fn. Empty input gives nil, matching inner lists
// of the binary reader.
func list[S, D any](src []S, fn func(S) D) []D {
	if len(src) == 0 {
		return nil
	}
	out := make([]D, len(src))
	for i, v := range src {
		out[i] = fn(v)
	}
	return out
}

// section is list for a top-level section: present-but-empty stays non-nil.
func section[S, D any](src *[]S, fn func(int, S) (D, error)) ([]D, error) {
	if src == nil {
		return nil, nil
	}
	out := make([]D, len(*src))
	for i, v := range *src {
		d, err := fn(i, v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// sectionNode is the inverse of section.
func sectionNode[S, D any](src []S, fn func(S) (D, error)) (*[]D, error) {
	if src == nil {
		return nil, nil
	}
	out := make([]D, len(src))
	for i, v := range src {
		d, err := fn(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return &out, nil
}

// sectionList is section for conversions that cannot fail.
func sectionList[S, D any](src *[]S, fn func(S) D) []D {
	if src == nil {
		return nil
	}
	out := make([]D, len(*src))
	for i, v := range *src {
		out[i] = fn(v)
	}
	return out
}

// sectionNodeList is sectionNode for conversions that cannot fail.
func sectionNodeList[S, D any](src []S, fn func(S) D) *[]D {
	if src == nil {
		return nil
	}
	out := make([]D, len(src))
	for i, v := range src {
		out[i] = fn(v)
	}
	return &out
}
