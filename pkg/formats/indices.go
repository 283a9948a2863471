package formats

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DecodeIndices expands packed little-endian indices of the given width.
func DecodeIndices(data []byte, width IndexWidth) ([]uint32, error) {
	if !width.Valid() {
		return nil, errors.Wrapf(ErrSizeMismatch, "index width %d", width)
	}
	size := width.Bytes()
	if len(data)%size != 0 {
		return nil, errors.Wrapf(ErrSizeMismatch, "%d index bytes at %d-bit width", len(data), width)
	}
	out := make([]uint32, len(data)/size)
	for i := range out {
		switch width {
		case IndexWidth8:
			out[i] = uint32(data[i])
		case IndexWidth16:
			out[i] = uint32(binary.LittleEndian.Uint16(data[i*2:]))
		default:
			out[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
	}
	return out, nil
}

// EncodeIndices packs indices at the given width. A value that does not fit
// returns ErrRange.
func EncodeIndices(values []uint32, width IndexWidth) ([]byte, error) {
	if !width.Valid() {
		return nil, errors.Wrapf(ErrSizeMismatch, "index width %d", width)
	}
	out := make([]byte, len(values)*width.Bytes())
	for i, v := range values {
		switch width {
		case IndexWidth8:
			if v > 0xff {
				return nil, errors.Wrapf(ErrRange, "index %d value %d exceeds 8-bit width", i, v)
			}
			out[i] = byte(v)
		case IndexWidth16:
			if v > 0xffff {
				return nil, errors.Wrapf(ErrRange, "index %d value %d exceeds 16-bit width", i, v)
			}
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		default:
			binary.LittleEndian.PutUint32(out[i*4:], v)
		}
	}
	return out, nil
}

// WidenIndices zero-extends packed indices from one width to a wider one.
func WidenIndices(data []byte, from, to IndexWidth) ([]byte, error) {
	if to < from {
		return nil, errors.Wrapf(ErrSizeMismatch, "cannot narrow indices from %d to %d bits", from, to)
	}
	values, err := DecodeIndices(data, from)
	if err != nil {
		return nil, err
	}
	return EncodeIndices(values, to)
}

// WidthFor returns the narrowest width that can index vertexCount vertices.
func WidthFor(vertexCount int) IndexWidth {
	switch {
	case vertexCount < IndexWidth8.Capacity():
		return IndexWidth8
	case vertexCount < IndexWidth16.Capacity():
		return IndexWidth16
	default:
		return IndexWidth32
	}
}
