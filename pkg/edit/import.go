package edit

import (
	"bytes"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/mdlkit/internal/logger"
	"github.com/Faultbox/mdlkit/pkg/formats"
)

// Session is one editing pass over a geometry chunk. It remembers the width
// each index buffer had before its first promotion, so raw index data
// exported before a promotion can still be imported after it.
type Session struct {
	Geometry *formats.Geometry
	Skeleton *formats.BoneTable // may be nil

	original map[formats.IndexBufferIndex]formats.IndexWidth
}

// NewSession starts an editing session. skel resolves vgmap bone names and
// may be nil.
func NewSession(g *formats.Geometry, skel *formats.BoneTable) *Session {
	return &Session{
		Geometry: g,
		Skeleton: skel,
		original: make(map[formats.IndexBufferIndex]formats.IndexWidth),
	}
}

// OriginalWidth returns the width index buffer i had before it was first
// promoted in this session.
func (s *Session) OriginalWidth(i formats.IndexBufferIndex) (formats.IndexWidth, bool) {
	w, ok := s.original[i]
	return w, ok
}

// IndexWidthFor returns the width of raw index data exchanged for a submesh
// of index buffer i with vertexCount vertices: the buffer's original width,
// or wider if the vertices do not fit it.
func (s *Session) IndexWidthFor(i formats.IndexBufferIndex, vertexCount int) (formats.IndexWidth, error) {
	ib, err := s.Geometry.IndexBuffer(i)
	if err != nil {
		return 0, err
	}
	w, ok := s.original[i]
	if !ok {
		w = ib.Width
	}
	if !w.Valid() {
		return 0, errors.Wrapf(formats.ErrSizeMismatch, "index buffer %d width %d", i, w)
	}
	if need := formats.WidthFor(vertexCount); need > w {
		w = need
	}
	return w, nil
}

// ExportSubmesh returns copies of submesh idx's vertex bytes and its index
// data at the width IndexWidthFor reports. ImportSubmesh accepts the same
// pair back.
func (s *Session) ExportSubmesh(idx formats.SubmeshIndex) (vertices, indices []byte, err error) {
	g := s.Geometry
	sm, err := g.Submesh(idx)
	if err != nil {
		return nil, nil, err
	}
	view, err := g.SubmeshVertices(idx)
	if err != nil {
		return nil, nil, err
	}
	raw, err := g.SubmeshIndices(idx)
	if err != nil {
		return nil, nil, err
	}
	ib, _ := g.IndexBuffer(sm.IndexBuffer)
	values, err := formats.DecodeIndices(raw, ib.Width)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "submesh %d", idx)
	}
	w, err := s.IndexWidthFor(sm.IndexBuffer, int(sm.VertexCount))
	if err != nil {
		return nil, nil, err
	}
	if indices, err = formats.EncodeIndices(values, w); err != nil {
		return nil, nil, errors.Wrapf(err, "submesh %d", idx)
	}
	return append([]byte(nil), view...), indices, nil
}

// ImportSubmesh replaces the vertex and index data of submesh idx. indices
// are relative to the submesh's first vertex, at the width IndexWidthFor
// reports for the new vertex count. Empty indices hide the submesh. A
// non-nil vgmap rebuilds the submesh's bone map.
//
// Everything that can fail is checked before the geometry is touched, so on
// error the geometry is unchanged.
func (s *Session) ImportSubmesh(idx formats.SubmeshIndex, vertices, indices, vgmap []byte) error {
	g := s.Geometry
	sm, err := g.Submesh(idx)
	if err != nil {
		return err
	}
	vb, err := g.VertexBuffer(sm.VertexBuffer)
	if err != nil {
		return errors.Wrapf(err, "submesh %d", idx)
	}
	ib, err := g.IndexBuffer(sm.IndexBuffer)
	if err != nil {
		return errors.Wrapf(err, "submesh %d", idx)
	}
	if vb.Stride == 0 || len(vertices)%int(vb.Stride) != 0 {
		return errors.Wrapf(formats.ErrSizeMismatch, "submesh %d: %d vertex bytes for stride %d", idx, len(vertices), vb.Stride)
	}
	if !ib.Width.Valid() || len(ib.Data)%ib.Width.Bytes() != 0 {
		return errors.Wrapf(formats.ErrSizeMismatch, "index buffer %d: %d bytes at width %d", sm.IndexBuffer, len(ib.Data), ib.Width)
	}

	hide := len(indices) == 0
	if hide {
		vertices = nil
	}
	n := len(vertices) / int(vb.Stride)

	width, err := s.IndexWidthFor(sm.IndexBuffer, n)
	if err != nil {
		return err
	}
	values, err := formats.DecodeIndices(indices, width)
	if err != nil {
		return errors.Wrapf(err, "submesh %d", idx)
	}
	for k, v := range values {
		if int(v) >= n {
			return errors.Wrapf(formats.ErrRange, "submesh %d index %d value %d (%d vertices)", idx, k, v, n)
		}
	}

	var plan *BoneMapPlan
	if vgmap != nil {
		entries, err := ParseVGMap(vgmap)
		if err != nil {
			return err
		}
		var ref *formats.BoneMap
		if sm.BoneMap != formats.NoRef {
			if ref, err = g.BoneMap(sm.BoneMap); err != nil {
				return errors.Wrapf(err, "submesh %d", idx)
			}
		}
		if plan, err = ResolveBoneMap(g, s.Skeleton, entries, ref); err != nil {
			return errors.Wrapf(err, "submesh %d bone map", idx)
		}
	}

	vslices, err := BreakVertexBuffer(g, sm.VertexBuffer)
	if err != nil {
		return err
	}
	islices, err := BreakIndexBuffer(g, sm.IndexBuffer)
	if err != nil {
		return err
	}

	if bytes.Equal(vslices.Slice(idx), vertices) && equalIndices(islices.Slice(idx), values) &&
		(plan == nil || plan.Unchanged(g, idx)) {
		logger.Debug("import unchanged", zap.Int32("submesh", int32(idx)))
		return nil
	}

	if err := vslices.Replace(idx, append([]byte(nil), vertices...)); err != nil {
		return err
	}
	if err := islices.Replace(idx, values); err != nil {
		return err
	}

	// The widest submesh of the index buffer decides its width.
	maxVertices := n
	for _, other := range islices.Submeshes {
		if other != idx && int(g.Submeshes[other].VertexCount) > maxVertices {
			maxVertices = int(g.Submeshes[other].VertexCount)
		}
	}

	exclusiveVB := len(vslices.Submeshes) == 1
	exclusiveIB := len(islices.Submeshes) == 1

	// Commit.
	if plan != nil {
		if _, err := plan.Commit(g, idx); err != nil {
			return err
		}
	}
	from, err := UpgradeIndexBuffer(g, sm.IndexBuffer, maxVertices)
	if err != nil {
		return err
	}
	if ib.Width != from {
		if _, seen := s.original[sm.IndexBuffer]; !seen {
			s.original[sm.IndexBuffer] = from
		}
	}

	if exclusiveVB {
		vb.Data = vslices.Data[0]
		sm.VertexStart = 0
		sm.VertexCount = uint32(n)
	} else if err := MergeVertexBuffer(g, vslices); err != nil {
		return err
	}
	if exclusiveIB {
		data, err := formats.EncodeIndices(values, ib.Width)
		if err != nil {
			return errors.Wrapf(err, "index buffer %d", sm.IndexBuffer)
		}
		ib.Data = data
		sm.IndexStart = 0
		sm.IndexCount = uint32(len(values))
	} else if err := MergeIndexBuffer(g, islices); err != nil {
		return err
	}

	logger.Debug("imported submesh",
		zap.Int32("submesh", int32(idx)),
		zap.Int("vertices", n),
		zap.Int("indices", len(values)),
		zap.Bool("hidden", hide),
		zap.Bool("shared_vertex_buffer", !exclusiveVB),
		zap.Bool("shared_index_buffer", !exclusiveIB))
	return nil
}

func equalIndices(a, b []uint32) bool {
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
