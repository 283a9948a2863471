package formats

import (
	"github.com/pkg/errors"

	"github.com/Faultbox/mdlkit/internal/fileio"
	"github.com/Faultbox/mdlkit/pkg/chunk"
)

// Chunk tags of the model container.
var (
	ChunkSkeleton = chunk.MakeTag("SKEL")
	ChunkGeometry = chunk.MakeTag("GEOM")
	ChunkCloth    = chunk.MakeTag("CLTH") // persisted opaquely
	ChunkSoftBody = chunk.MakeTag("SOFT") // persisted opaquely
)

// ModelChunk is one chunk of a model. Exactly one of Skeleton, Geometry or
// Raw is set.
type ModelChunk struct {
	Tag      chunk.Tag
	Version  chunk.Version
	Skeleton *BoneTable
	Geometry *Geometry
	Raw      []byte
}

// Model is a fully materialized model container.
type Model struct {
	Version     chunk.Version
	HeaderExtra []byte
	Chunks      []ModelChunk
}

// Load parses a model container held entirely in memory.
func Load(data []byte) (*Model, error) {
	s, err := chunk.Read(data)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Version:     s.Header.Version,
		HeaderExtra: cloneSlice(s.Header.Extra),
		Chunks:      make([]ModelChunk, len(s.Chunks)),
	}
	for i, c := range s.Chunks {
		mc := ModelChunk{Tag: c.Tag, Version: c.Version}
		switch c.Tag {
		case ChunkSkeleton, ChunkGeometry:
			v, err := c.Version.Short()
			if err != nil {
				return nil, errors.Wrapf(err, "chunk %d (%s)", i, c.Tag)
			}
			if c.Tag == ChunkSkeleton {
				mc.Skeleton, err = ParseBoneTable(c.Payload, v)
			} else {
				mc.Geometry, err = ParseGeometry(c.Payload, v)
			}
			if err != nil {
				return nil, errors.Wrapf(err, "chunk %d (%s)", i, c.Tag)
			}
		default:
			mc.Raw = append([]byte(nil), c.Payload...)
		}
		m.Chunks[i] = mc
	}
	return m, nil
}

// LoadFile reads and parses a model file. zstd-compressed files are
// decompressed transparently.
func LoadFile(path string) (*Model, error) {
	data, err := fileio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Load(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return m, nil
}

// Save serializes the model. Parsed chunks are re-encoded for the short
// form of their stored version.
func (m *Model) Save() ([]byte, error) {
	s := &chunk.Stream{
		Header: chunk.Header{Version: m.Version, Extra: m.HeaderExtra},
		Chunks: make([]chunk.Chunk, len(m.Chunks)),
	}
	for i := range m.Chunks {
		mc := &m.Chunks[i]
		payload, err := mc.payload()
		if err != nil {
			return nil, errors.Wrapf(err, "chunk %d (%s)", i, mc.Tag)
		}
		s.Chunks[i] = chunk.Chunk{Tag: mc.Tag, Version: mc.Version, Payload: payload}
	}
	return chunk.Write(s), nil
}

func (mc *ModelChunk) payload() ([]byte, error) {
	switch {
	case mc.Skeleton != nil:
		if err := mc.syncVersion(mc.Skeleton.Version); err != nil {
			return nil, err
		}
		return mc.Skeleton.Bytes()
	case mc.Geometry != nil:
		if err := mc.syncVersion(mc.Geometry.Version); err != nil {
			return nil, err
		}
		return mc.Geometry.Bytes()
	default:
		return mc.Raw, nil
	}
}

// syncVersion makes the chunk's long version agree with the parsed body.
func (mc *ModelChunk) syncVersion(short int) error {
	if v, err := mc.Version.Short(); err == nil && v == short {
		return nil
	}
	if short < 0 || short > 9999 {
		return errors.Wrapf(ErrUnsupportedVersion, "version %d", short)
	}
	mc.Version = chunk.LongVersion(short)
	return nil
}

// Skeleton returns the first skeleton chunk, or nil.
func (m *Model) Skeleton() *BoneTable {
	for i := range m.Chunks {
		if m.Chunks[i].Skeleton != nil {
			return m.Chunks[i].Skeleton
		}
	}
	return nil
}

// Geometry returns the first geometry chunk, or nil.
func (m *Model) Geometry() *Geometry {
	for i := range m.Chunks {
		if m.Chunks[i].Geometry != nil {
			return m.Chunks[i].Geometry
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	c := &Model{
		Version:     m.Version,
		HeaderExtra: cloneSlice(m.HeaderExtra),
		Chunks:      make([]ModelChunk, len(m.Chunks)),
	}
	for i, mc := range m.Chunks {
		if mc.Skeleton != nil {
			mc.Skeleton = mc.Skeleton.Clone()
		}
		if mc.Geometry != nil {
			mc.Geometry = mc.Geometry.Clone()
		}
		mc.Raw = cloneSlice(mc.Raw)
		c.Chunks[i] = mc
	}
	return c
}
