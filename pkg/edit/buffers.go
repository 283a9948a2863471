// Package edit replaces the data of single submeshes inside vertex and index
// buffers that several submeshes share, and rebuilds their bone maps.
//
// A shared buffer is an arena; each submesh holds a (start, count) view into
// it. Replacing one view goes through an explicit break/merge cycle:
// BreakVertexBuffer copies every view out into scratch slices, the caller
// swaps one slice, and MergeVertexBuffer concatenates the slices back in
// submesh order, rewriting every start offset.
package edit

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/mdlkit/internal/logger"
	"github.com/Faultbox/mdlkit/pkg/formats"
)

// VertexSlices is the scratch state of a broken vertex buffer. Data[k] holds
// the vertices of Submeshes[k].
type VertexSlices struct {
	Buffer    formats.VertexBufferIndex
	Stride    uint32
	Submeshes []formats.SubmeshIndex
	Data      [][]byte
}

// Slice returns the scratch slice of submesh idx, or nil.
func (s *VertexSlices) Slice(idx formats.SubmeshIndex) []byte {
	if k := s.find(idx); k >= 0 {
		return s.Data[k]
	}
	return nil
}

// Replace swaps the scratch slice of submesh idx.
func (s *VertexSlices) Replace(idx formats.SubmeshIndex, data []byte) error {
	k := s.find(idx)
	if k < 0 {
		return errors.Wrapf(formats.ErrRange, "submesh %d does not use vertex buffer %d", idx, s.Buffer)
	}
	if s.Stride == 0 || len(data)%int(s.Stride) != 0 {
		return errors.Wrapf(formats.ErrSizeMismatch, "%d vertex bytes for stride %d", len(data), s.Stride)
	}
	s.Data[k] = data
	return nil
}

func (s *VertexSlices) find(idx formats.SubmeshIndex) int {
	for k, sub := range s.Submeshes {
		if sub == idx {
			return k
		}
	}
	return -1
}

// BreakVertexBuffer copies the vertex range of every submesh that references
// buffer i into scratch slices. The geometry is not modified.
func BreakVertexBuffer(g *formats.Geometry, i formats.VertexBufferIndex) (*VertexSlices, error) {
	vb, err := g.VertexBuffer(i)
	if err != nil {
		return nil, err
	}
	s := &VertexSlices{Buffer: i, Stride: vb.Stride, Submeshes: g.SubmeshesUsingVertexBuffer(i)}
	s.Data = make([][]byte, len(s.Submeshes))
	for k, idx := range s.Submeshes {
		view, err := g.SubmeshVertices(idx)
		if err != nil {
			return nil, err
		}
		s.Data[k] = append([]byte(nil), view...)
	}
	return s, nil
}

// MergeVertexBuffer concatenates the scratch slices back into the buffer in
// submesh order and rewrites each submesh's VertexStart and VertexCount.
func MergeVertexBuffer(g *formats.Geometry, s *VertexSlices) error {
	vb, err := g.VertexBuffer(s.Buffer)
	if err != nil {
		return err
	}
	if vb.Stride != s.Stride {
		return errors.Wrapf(formats.ErrSizeMismatch, "vertex buffer %d stride %d, slices stride %d", s.Buffer, vb.Stride, s.Stride)
	}
	size := 0
	for k, d := range s.Data {
		if s.Stride == 0 || len(d)%int(s.Stride) != 0 {
			return errors.Wrapf(formats.ErrSizeMismatch, "submesh %d: %d vertex bytes for stride %d", s.Submeshes[k], len(d), s.Stride)
		}
		if _, err := g.Submesh(s.Submeshes[k]); err != nil {
			return err
		}
		size += len(d)
	}

	data := make([]byte, 0, size)
	for k, d := range s.Data {
		sm := &g.Submeshes[s.Submeshes[k]]
		sm.VertexStart = uint32(len(data)) / s.Stride
		sm.VertexCount = uint32(len(d)) / s.Stride
		data = append(data, d...)
	}
	vb.Data = data

	logger.Debug("merged vertex buffer",
		zap.Int32("buffer", int32(s.Buffer)),
		zap.Int("submeshes", len(s.Submeshes)),
		zap.Int("vertices", vb.VertexCount()))
	return nil
}

// IndexSlices is the scratch state of a broken index buffer. Scratch indices
// are kept decoded, so a width change between break and merge needs no
// conversion.
type IndexSlices struct {
	Buffer    formats.IndexBufferIndex
	Submeshes []formats.SubmeshIndex
	Indices   [][]uint32
}

// Slice returns the scratch indices of submesh idx, or nil.
func (s *IndexSlices) Slice(idx formats.SubmeshIndex) []uint32 {
	if k := s.find(idx); k >= 0 {
		return s.Indices[k]
	}
	return nil
}

// Replace swaps the scratch indices of submesh idx.
func (s *IndexSlices) Replace(idx formats.SubmeshIndex, indices []uint32) error {
	k := s.find(idx)
	if k < 0 {
		return errors.Wrapf(formats.ErrRange, "submesh %d does not use index buffer %d", idx, s.Buffer)
	}
	s.Indices[k] = indices
	return nil
}

func (s *IndexSlices) find(idx formats.SubmeshIndex) int {
	for k, sub := range s.Submeshes {
		if sub == idx {
			return k
		}
	}
	return -1
}

// BreakIndexBuffer decodes the index range of every submesh that references
// buffer i into scratch slices. The geometry is not modified.
func BreakIndexBuffer(g *formats.Geometry, i formats.IndexBufferIndex) (*IndexSlices, error) {
	ib, err := g.IndexBuffer(i)
	if err != nil {
		return nil, err
	}
	s := &IndexSlices{Buffer: i, Submeshes: g.SubmeshesUsingIndexBuffer(i)}
	s.Indices = make([][]uint32, len(s.Submeshes))
	for k, idx := range s.Submeshes {
		view, err := g.SubmeshIndices(idx)
		if err != nil {
			return nil, err
		}
		if s.Indices[k], err = formats.DecodeIndices(view, ib.Width); err != nil {
			return nil, errors.Wrapf(err, "submesh %d", idx)
		}
	}
	return s, nil
}

// MergeIndexBuffer encodes the scratch slices back into the buffer at its
// current width, in submesh order, and rewrites each submesh's IndexStart and
// IndexCount. A value too large for the width returns ErrRange; upgrade the
// buffer first.
func MergeIndexBuffer(g *formats.Geometry, s *IndexSlices) error {
	ib, err := g.IndexBuffer(s.Buffer)
	if err != nil {
		return err
	}
	total := 0
	for _, idx := range s.Submeshes {
		if _, err := g.Submesh(idx); err != nil {
			return err
		}
	}
	for _, ind := range s.Indices {
		total += len(ind)
	}

	values := make([]uint32, 0, total)
	for _, ind := range s.Indices {
		values = append(values, ind...)
	}
	data, err := formats.EncodeIndices(values, ib.Width)
	if err != nil {
		return errors.Wrapf(err, "index buffer %d", s.Buffer)
	}

	start := 0
	for k, ind := range s.Indices {
		sm := &g.Submeshes[s.Submeshes[k]]
		sm.IndexStart = uint32(start)
		sm.IndexCount = uint32(len(ind))
		start += len(ind)
	}
	ib.Data = data

	logger.Debug("merged index buffer",
		zap.Int32("buffer", int32(s.Buffer)),
		zap.Int("submeshes", len(s.Submeshes)),
		zap.Int("indices", total),
		zap.Uint32("width", uint32(ib.Width)))
	return nil
}

// RequiredWidth returns the narrowest width not below current that can
// index vertexCount vertices.
func RequiredWidth(current formats.IndexWidth, vertexCount int) formats.IndexWidth {
	w := current
	for w != formats.IndexWidth32 && vertexCount >= w.Capacity() {
		w = w.Next()
	}
	return w
}

// UpgradeIndexBuffer zero-extends every index in buffer i to the next width
// until vertexCount fits (8-bit holds up to 255 vertices, 16-bit up to
// 65535) and keeps every referencing submesh's IndexFormat in sync. It
// returns the width the buffer had before the call.
func UpgradeIndexBuffer(g *formats.Geometry, i formats.IndexBufferIndex, vertexCount int) (formats.IndexWidth, error) {
	ib, err := g.IndexBuffer(i)
	if err != nil {
		return 0, err
	}
	from := ib.Width
	to := RequiredWidth(from, vertexCount)
	if to == from {
		return from, nil
	}

	data, err := formats.WidenIndices(ib.Data, from, to)
	if err != nil {
		return 0, errors.Wrapf(err, "index buffer %d", i)
	}
	ib.Data = data
	ib.Width = to
	for _, idx := range g.SubmeshesUsingIndexBuffer(i) {
		g.Submeshes[idx].IndexFormat = to
	}

	logger.Debug("promoted index buffer",
		zap.Int32("buffer", int32(i)),
		zap.Uint32("from", uint32(from)),
		zap.Uint32("to", uint32(to)),
		zap.Int("vertices", vertexCount))
	return from, nil
}
