// Package fileio provides whole-file helpers with transparent zstd
// compression for model files.
package fileio

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/DataDog/zstd"
	"github.com/pkg/errors"
)

// zstdMagic is the frame magic number of a zstd stream.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// DefaultLevel is the compression level used when none is configured.
const DefaultLevel = zstd.DefaultCompression

// IsCompressed reports whether data starts with a zstd frame.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Decompress returns data unchanged unless it is a zstd frame.
func Decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	out, err := zstd.Decompress(nil, data)
	if err != nil {
		return nil, errors.Wrap(err, "zstd decompress")
	}
	return out, nil
}

// ReadFile reads a whole file and decompresses it if needed.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out, err := Decompress(data)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return out, nil
}

// WriteOptions controls WriteFile.
type WriteOptions struct {
	Compress bool
	Level    int // zstd level, 0 means DefaultLevel
}

// WriteFile writes data to path, creating parent directories. The file is
// written to a temporary sibling first and renamed into place.
func WriteFile(path string, data []byte, opts WriteOptions) error {
	if opts.Compress {
		level := opts.Level
		if level == 0 {
			level = DefaultLevel
		}
		compressed, err := zstd.CompressLevel(nil, data, level)
		if err != nil {
			return errors.Wrap(err, "zstd compress")
		}
		data = compressed
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "write %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename into %s", path)
	}
	return nil
}
