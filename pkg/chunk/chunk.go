// Package chunk reads and writes the outer model container: a fixed header
// followed by tagged, versioned, length-prefixed chunks.
package chunk

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Container errors.
var (
	ErrMalformedContainer = errors.New("malformed container")
	ErrUnsupportedVersion = errors.New("unsupported version")
)

const (
	// Signature is the container magic.
	Signature = "MDLC"
	// HeaderSize is the minimum outer header size.
	HeaderSize = 20
	// ChunkHeaderSize is the size of {signature, version, chunk_size}.
	ChunkHeaderSize = 12
)

// Tag is four ASCII characters packed little-endian into a word.
type Tag uint32

// MakeTag packs a four character string. Shorter strings are zero padded.
func MakeTag(s string) Tag {
	var b [4]byte
	copy(b[:], s)
	return Tag(binary.LittleEndian.Uint32(b[:]))
}

// String returns the tag characters, or hex if they are not printable.
func (t Tag) String() string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(t))
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(t))
		}
	}
	return string(b[:])
}

// Version is the "long" version form: four ASCII digits packed into a word,
// most significant digit first in memory.
type Version uint32

// LongVersion packs a decimal version into its long form.
func LongVersion(short int) Version {
	var b [4]byte
	for i := 3; i >= 0; i-- {
		b[i] = byte('0' + short%10)
		short /= 10
	}
	return Version(binary.LittleEndian.Uint32(b[:]))
}

// Short unpacks the long form into a plain decimal integer.
func (v Version) Short() (int, error) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrUnsupportedVersion, "version word 0x%08x is not four digits", uint32(v))
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// String returns the four digits, or hex for a malformed word.
func (v Version) String() string {
	if _, err := v.Short(); err != nil {
		return fmt.Sprintf("0x%08x", uint32(v))
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return string(b[:])
}

// Chunk is one record of the container. Payload excludes the 12-byte prefix.
type Chunk struct {
	Tag     Tag
	Version Version
	Payload []byte
}

// Header is the outer container header. Extra holds any header bytes beyond
// the known fields; they are written back verbatim.
type Header struct {
	Version Version
	Extra   []byte
}

// Stream is a parsed container: header plus chunks in file order.
type Stream struct {
	Header Header
	Chunks []Chunk
}

// Read walks the container. Each chunk's own size is used to reach the next
// one, so chunks with unknown tags are carried through untouched. Payloads
// alias data.
func Read(data []byte) (*Stream, error) {
	if len(data) < HeaderSize {
		return nil, errors.Wrapf(ErrMalformedContainer, "header needs %d bytes, have %d", HeaderSize, len(data))
	}
	if string(data[0:4]) != Signature {
		return nil, errors.Wrapf(ErrMalformedContainer, "bad signature %q", data[0:4])
	}

	version := Version(binary.LittleEndian.Uint32(data[4:]))
	headerSize := binary.LittleEndian.Uint32(data[8:])
	chunkCount := binary.LittleEndian.Uint32(data[12:])
	fileSize := binary.LittleEndian.Uint32(data[16:])

	if headerSize < HeaderSize || uint64(headerSize) > uint64(len(data)) {
		return nil, errors.Wrapf(ErrMalformedContainer, "header size %d out of range", headerSize)
	}
	if fileSize < headerSize || uint64(fileSize) > uint64(len(data)) {
		return nil, errors.Wrapf(ErrMalformedContainer, "file size %d exceeds %d available bytes", fileSize, len(data))
	}

	s := &Stream{
		Header: Header{Version: version},
		Chunks: make([]Chunk, 0, min(int(chunkCount), len(data)/ChunkHeaderSize)),
	}
	if headerSize > HeaderSize {
		s.Header.Extra = data[HeaderSize:headerSize]
	}

	data = data[:fileSize]
	pos := int(headerSize)
	for i := uint32(0); i < chunkCount; i++ {
		if pos+ChunkHeaderSize > len(data) {
			return nil, errors.Wrapf(ErrMalformedContainer, "chunk %d header at 0x%x truncated", i, pos)
		}
		tag := Tag(binary.LittleEndian.Uint32(data[pos:]))
		ver := Version(binary.LittleEndian.Uint32(data[pos+4:]))
		size := binary.LittleEndian.Uint32(data[pos+8:])

		if size < ChunkHeaderSize || uint64(pos)+uint64(size) > uint64(len(data)) {
			return nil, errors.Wrapf(ErrMalformedContainer, "chunk %d (%s) size %d at 0x%x overruns buffer", i, tag, size, pos)
		}

		s.Chunks = append(s.Chunks, Chunk{
			Tag:     tag,
			Version: ver,
			Payload: data[pos+ChunkHeaderSize : pos+int(size)],
		})
		pos += int(size)
	}

	return s, nil
}

// Write serializes the stream, recomputing every size and the chunk count.
func Write(s *Stream) []byte {
	headerSize := HeaderSize + len(s.Header.Extra)
	total := headerSize
	for _, c := range s.Chunks {
		total += ChunkHeaderSize + len(c.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	var hdr [HeaderSize]byte
	copy(hdr[0:4], Signature)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(s.Header.Version))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(headerSize))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(s.Chunks)))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(total))
	buf.Write(hdr[:])
	buf.Write(s.Header.Extra)

	for _, c := range s.Chunks {
		var ch [ChunkHeaderSize]byte
		binary.LittleEndian.PutUint32(ch[0:], uint32(c.Tag))
		binary.LittleEndian.PutUint32(ch[4:], uint32(c.Version))
		binary.LittleEndian.PutUint32(ch[8:], uint32(ChunkHeaderSize+len(c.Payload)))
		buf.Write(ch[:])
		buf.Write(c.Payload)
	}

	return buf.Bytes()
}

// Find returns the index of the first chunk with the given tag, or -1.
func (s *Stream) Find(tag Tag) int {
	for i := range s.Chunks {
		if s.Chunks[i].Tag == tag {
			return i
		}
	}
	return -1
}
