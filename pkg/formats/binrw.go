package formats

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// reader is a little-endian cursor over a chunk or section payload.
// The first failure sticks; later reads return zero values.
type reader struct {
	data []byte
	pos  int
	err  error
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrMalformedContainer, format, args...)
	}
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.remaining() < n {
		r.fail("need %d bytes at 0x%x, have %d", n, r.pos, r.remaining())
		return false
	}
	return true
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) i32() int32 {
	return int32(r.u32())
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) f32s(dst []float32) {
	for i := range dst {
		dst[i] = r.f32()
	}
}

// bytes returns a copy of the next n bytes.
func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:])
	r.pos += n
	return out
}

// padded reads n bytes and skips the zero padding up to a 4-byte boundary.
func (r *reader) padded(n int) []byte {
	out := r.bytes(n)
	r.skip(pad4(n))
	return out
}

func (r *reader) skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}

// count reads an element count and rejects counts that cannot fit in the
// remaining payload, so a corrupt count fails instead of allocating.
func (r *reader) count(minElemSize int, what string) int {
	n := r.u32()
	if r.err != nil {
		return 0
	}
	if minElemSize > 0 && uint64(n)*uint64(minElemSize) > uint64(r.remaining()) {
		r.fail("%s count %d exceeds remaining %d bytes", what, n, r.remaining())
		return 0
	}
	return int(n)
}

func pad4(n int) int {
	return (4 - n%4) % 4
}

// writer accumulates a little-endian payload.
type writer struct {
	buf []byte
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) i32(v int32) {
	w.u32(uint32(v))
}

func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *writer) f32s(v []float32) {
	for _, f := range v {
		w.f32(f)
	}
}

func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// padded writes b followed by zero padding to a 4-byte boundary.
func (w *writer) padded(b []byte) {
	w.raw(b)
	w.buf = append(w.buf, make([]byte, pad4(len(b)))...)
}

// section reserves an 8-byte {tag, size} prefix and returns a func that
// patches the size once the payload has been written.
func (w *writer) section(tag uint32) func() {
	start := len(w.buf)
	w.u32(tag)
	w.u32(0)
	return func() {
		binary.LittleEndian.PutUint32(w.buf[start+4:], uint32(len(w.buf)-start))
	}
}

// makeList allocates n elements; an empty list decodes as nil.
func makeList[T any](n int) []T {
	if n == 0 {
		return nil
	}
	return make([]T, n)
}
