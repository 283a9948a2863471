package edit

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/Faultbox/mdlkit/pkg/formats"
)

func encode(t *testing.T, values []uint32, w formats.IndexWidth) []byte {
	t.Helper()
	data, err := formats.EncodeIndices(values, w)
	if err != nil {
		t.Fatalf("EncodeIndices: %v", err)
	}
	return data
}

// triangleFan returns 3*(n-2) indices over n vertices.
func triangleFan(n int) []uint32 {
	var out []uint32
	for v := 1; v+1 < n; v++ {
		out = append(out, 0, uint32(v), uint32(v+1))
	}
	return out
}

func TestImportSubmesh_PromotesSharedIndexBuffer(t *testing.T) {
	g := makeSharedGeometry()
	s := NewSession(g, nil)
	sibling0 := submeshIndices(t, g, 0)
	sibling2 := submeshIndices(t, g, 2)
	v2, _ := g.SubmeshVertices(2)
	v2 = append([]byte(nil), v2...)

	w, err := s.IndexWidthFor(0, 300)
	if err != nil || w != formats.IndexWidth16 {
		t.Fatalf("IndexWidthFor(300) = %d, %v, want 16", w, err)
	}
	newIndices := triangleFan(300)
	if err := s.ImportSubmesh(1, vertices(7, 300), encode(t, newIndices, w), nil); err != nil {
		t.Fatal(err)
	}

	if got := g.VertexBuffers[0].VertexCount(); got != 340 {
		t.Errorf("vertex buffer length = %d vertices, want 340", got)
	}
	if got := g.IndexBuffers[0].Width; got != formats.IndexWidth16 {
		t.Errorf("index width = %d, want 16", got)
	}
	checkArena(t, g)

	if got := submeshIndices(t, g, 0); !reflect.DeepEqual(got, sibling0) {
		t.Errorf("submesh 0 indices = %v, want %v", got, sibling0)
	}
	if got := submeshIndices(t, g, 2); !reflect.DeepEqual(got, sibling2) {
		t.Errorf("submesh 2 indices = %v, want %v", got, sibling2)
	}
	if got := submeshIndices(t, g, 1); !reflect.DeepEqual(got, newIndices) {
		t.Error("submesh 1 indices not replaced")
	}
	if view, _ := g.SubmeshVertices(2); !bytes.Equal(view, v2) {
		t.Error("submesh 2 vertices changed")
	}
	if view, _ := g.SubmeshVertices(1); !bytes.Equal(view, vertices(7, 300)) {
		t.Error("submesh 1 vertices not replaced")
	}
	if got := g.Submeshes[2].VertexStart; got != 310 {
		t.Errorf("submesh 2 vertex start = %d, want 310", got)
	}

	if orig, ok := s.OriginalWidth(0); !ok || orig != formats.IndexWidth8 {
		t.Errorf("original width = %d, %v, want 8", orig, ok)
	}
}

func TestImportSubmesh_RawDataAtOriginalWidthAfterPromotion(t *testing.T) {
	g := makeSharedGeometry()
	s := NewSession(g, nil)
	if err := s.ImportSubmesh(1, vertices(7, 300), encode(t, triangleFan(300), formats.IndexWidth16), nil); err != nil {
		t.Fatal(err)
	}

	// Submesh 2 still has 30 vertices, so its raw data stays 8-bit.
	fan := triangleFan(12)
	if err := s.ImportSubmesh(2, vertices(9, 12), encode(t, fan, formats.IndexWidth8), nil); err != nil {
		t.Fatal(err)
	}
	if g.IndexBuffers[0].Width != formats.IndexWidth16 {
		t.Errorf("width = %d, want 16", g.IndexBuffers[0].Width)
	}
	if got := submeshIndices(t, g, 2); !reflect.DeepEqual(got, fan) {
		t.Errorf("submesh 2 indices = %v, want %v", got, fan)
	}
	checkArena(t, g)

	// Export uses the same width.
	_, raw, err := s.ExportSubmesh(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 15 {
		t.Errorf("exported %d index bytes, want 15 at 8-bit", len(raw))
	}
}

func TestImportSubmesh_ExclusiveBuffers(t *testing.T) {
	g := makeSharedGeometry()
	g.VertexBuffers = append(g.VertexBuffers, formats.VertexBuffer{Stride: testStride, Data: vertices(3, 5)})
	g.IndexBuffers = append(g.IndexBuffers, formats.IndexBuffer{Width: formats.IndexWidth8, Data: []byte{0, 1, 2}})
	g.Submeshes = append(g.Submeshes, formats.Submesh{
		VertexBuffer: 1, BoneMap: formats.NoRef, Attributes: formats.NoRef, Material: formats.NoRef,
		IndexBuffer: 1, IndexFormat: formats.IndexWidth8,
		VertexCount: 5, IndexCount: 3,
	})
	shared := g.VertexBuffers[0].Data

	s := NewSession(g, nil)
	fan := triangleFan(400)
	if err := s.ImportSubmesh(3, vertices(3, 400), encode(t, fan, formats.IndexWidth16), nil); err != nil {
		t.Fatal(err)
	}
	if g.VertexBuffers[1].VertexCount() != 400 || g.Submeshes[3].VertexCount != 400 {
		t.Errorf("exclusive vertex buffer not overwritten")
	}
	if g.IndexBuffers[1].Width != formats.IndexWidth16 || g.Submeshes[3].IndexFormat != formats.IndexWidth16 {
		t.Errorf("exclusive index buffer not promoted")
	}
	if got := submeshIndices(t, g, 3); !reflect.DeepEqual(got, fan) {
		t.Error("exclusive indices not replaced")
	}
	if !bytes.Equal(g.VertexBuffers[0].Data, shared) || g.IndexBuffers[0].Width != formats.IndexWidth8 {
		t.Error("unrelated shared buffers changed")
	}
	checkArena(t, g)
}

func TestImportSubmesh_EmptyIndicesHide(t *testing.T) {
	g := makeSharedGeometry()
	s := NewSession(g, nil)
	if err := s.ImportSubmesh(1, vertices(1, 20), nil, nil); err != nil {
		t.Fatal(err)
	}
	if sm := g.Submeshes[1]; sm.VertexCount != 0 || sm.IndexCount != 0 {
		t.Errorf("hidden submesh has %d vertices, %d indices", sm.VertexCount, sm.IndexCount)
	}
	if got := g.VertexBuffers[0].VertexCount(); got != 40 {
		t.Errorf("vertex buffer holds %d vertices, want 40", got)
	}
	checkArena(t, g)
}

func TestImportSubmesh_IdenticalBytesIsNoop(t *testing.T) {
	g := makeSharedGeometry()
	s := NewSession(g, nil)
	v, i, err := s.ExportSubmesh(1)
	if err != nil {
		t.Fatal(err)
	}
	before := g.Clone()
	buf := &g.VertexBuffers[0].Data[0]

	vg := FormatVGMap([]VGMapEntry{{Name: "UnnamedBone#0", Group: 0}, {Name: "UnnamedBone#1", Group: 3}})
	skel := &formats.BoneTable{Bones: make([]formats.BoneRecord, 2)}
	s.Skeleton = skel
	for k := range skel.Bones {
		skel.Bones[k].Parent = formats.BoneNone
	}

	if err := s.ImportSubmesh(1, v, i, vg); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(g, before) {
		t.Errorf("no-op import changed the geometry:\n%s", spew.Sdump(g.Submeshes))
	}
	if &g.VertexBuffers[0].Data[0] != buf {
		t.Error("no-op import rebuilt the vertex buffer")
	}
}

func TestImportSubmesh_Errors(t *testing.T) {
	tests := []struct {
		name     string
		idx      formats.SubmeshIndex
		vertices []byte
		indices  []byte
		vgmap    []byte
		want     error
	}{
		{"submesh out of range", 3, vertices(0, 2), []byte{0, 1}, nil, formats.ErrRange},
		{"negative submesh", -1, vertices(0, 2), []byte{0, 1}, nil, formats.ErrRange},
		{"partial vertex", 0, make([]byte, 12), []byte{0}, nil, formats.ErrSizeMismatch},
		{"index past vertices", 0, vertices(0, 2), []byte{0, 2}, nil, formats.ErrRange},
		{"incomplete bone map", 0, vertices(0, 2), []byte{0, 1}, []byte(`{"UnnamedBone#0": 0, "UnnamedBone#1": 6}`), ErrIncompleteBoneMap},
		{"bad vgmap", 0, vertices(0, 2), []byte{0, 1}, []byte(`[1, 2]`), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := makeSharedGeometry()
			before := g.Clone()
			skel := &formats.BoneTable{Bones: []formats.BoneRecord{{Parent: formats.BoneNone}, {Parent: formats.BoneNone}}}

			err := NewSession(g, skel).ImportSubmesh(tt.idx, tt.vertices, tt.indices, tt.vgmap)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
			if !reflect.DeepEqual(g, before) {
				t.Error("failed import modified the geometry")
			}
		})
	}
}

func TestImportSubmesh_BoneMapReference(t *testing.T) {
	vg := []byte(`{"Root": 0, "Spine": 3}`)

	g := makeSharedGeometry()
	g.Submeshes[0].BoneMap = 7
	before := g.Clone()
	err := NewSession(g, makeTestSkeleton()).ImportSubmesh(0, vertices(0, 4), encode(t, triangleFan(4), formats.IndexWidth8), vg)
	if !errors.Is(err, formats.ErrRange) {
		t.Errorf("dangling bone map: got %v, want ErrRange", err)
	}
	if !reflect.DeepEqual(g, before) {
		t.Error("failed import modified the geometry")
	}

	// Without a map of its own the submesh still reuses matching entries.
	g = makeSharedGeometry()
	g.Submeshes[0].BoneMap = formats.NoRef
	if err := NewSession(g, makeTestSkeleton()).ImportSubmesh(0, vertices(0, 4), encode(t, triangleFan(4), formats.IndexWidth8), vg); err != nil {
		t.Fatal(err)
	}
	bm, err := g.BoneMap(g.Submeshes[0].BoneMap)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(bm.Entries, g.BoneMaps[0].Entries) {
		t.Errorf("entries = %+v, want reused %+v", bm.Entries, g.BoneMaps[0].Entries)
	}
	if len(g.Matrices) != 2 {
		t.Errorf("matrix pool length = %d, want 2", len(g.Matrices))
	}
}

func TestImportSubmesh_WithBoneMap(t *testing.T) {
	g := makeSharedGeometry()
	skel := makeTestSkeleton()
	s := NewSession(g, skel)

	vg := []byte(`{"Root": 0, "Head": 3}`)
	if err := s.ImportSubmesh(0, vertices(0, 4), encode(t, triangleFan(4), formats.IndexWidth8), vg); err != nil {
		t.Fatal(err)
	}

	// Map 0 is shared by all three submeshes, so a new one is appended.
	if len(g.BoneMaps) != 2 || g.Submeshes[0].BoneMap != 1 {
		t.Fatalf("bone maps = %d, submesh 0 map = %d; want appended map 1", len(g.BoneMaps), g.Submeshes[0].BoneMap)
	}
	if g.Submeshes[1].BoneMap != 0 || g.Submeshes[2].BoneMap != 0 {
		t.Error("siblings repointed")
	}
	entries := g.BoneMaps[1].Entries
	if entries[0] != g.BoneMaps[0].Entries[0] {
		t.Errorf("Root entry = %+v, want reused %+v", entries[0], g.BoneMaps[0].Entries[0])
	}
	if entries[1].Matrix != 2 || entries[1].ClothGroup != -1 || entries[1].Bone != 2 {
		t.Errorf("Head entry = %+v, want synthesized matrix 2", entries[1])
	}
	if len(g.Matrices) != 3 {
		t.Errorf("matrix pool length = %d, want 3", len(g.Matrices))
	}
	checkArena(t, g)
}

func TestExportSubmesh(t *testing.T) {
	g := makeSharedGeometry()
	s := NewSession(g, nil)
	v, i, err := s.ExportSubmesh(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, vertices(2, 30)) {
		t.Error("exported vertices differ")
	}
	if len(i) != 35 {
		t.Errorf("exported %d index bytes, want 35", len(i))
	}

	v[0] = 0xff
	if g.VertexBuffers[0].Data[30*testStride] == 0xff {
		t.Error("exported vertices alias the buffer")
	}

	if _, _, err := s.ExportSubmesh(9); !errors.Is(err, formats.ErrRange) {
		t.Errorf("got %v, want ErrRange", err)
	}
}
