// Package encoding converts the byte strings stored in model files (bone,
// attribute and shader names) to and from UTF-8.
package encoding

import (
	"bytes"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// DefaultCharset maps every byte to one code point and back.
const DefaultCharset = "iso-8859-1"

// ErrUnknownCharset is returned by Lookup for an unsupported name.
var ErrUnknownCharset = errors.New("unknown charset")

// ErrUnrepresentable is returned when a string cannot be encoded.
var ErrUnrepresentable = errors.New("text not representable in charset")

var charsets = map[string]encoding.Encoding{
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-2":   charmap.ISO8859_2,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1250": charmap.Windows1250,
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"koi8-r":       charmap.KOI8R,
	"shift_jis":    japanese.ShiftJIS,
	"euc-kr":       korean.EUCKR,
}

// Charset is a named codepage.
type Charset struct {
	name string
	enc  encoding.Encoding
}

// Default returns the ISO 8859-1 charset.
func Default() *Charset {
	return &Charset{name: DefaultCharset, enc: charmap.ISO8859_1}
}

// Lookup returns the charset with the given name, case-insensitively. An
// empty name selects DefaultCharset.
func Lookup(name string) (*Charset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Default(), nil
	}
	enc, ok := charsets[key]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCharset, "%q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return &Charset{name: key, enc: enc}, nil
}

// Names returns the supported charset names, sorted.
func Names() []string {
	out := make([]string, 0, len(charsets))
	for name := range charsets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Name returns the lower-case charset name.
func (c *Charset) Name() string { return c.name }

// Decode converts stored bytes to UTF-8.
func (c *Charset) Decode(s string) (string, error) {
	out, _, err := transform.String(c.enc.NewDecoder(), s)
	if err != nil {
		return "", errors.Wrapf(err, "decode %s", c.name)
	}
	return out, nil
}

// Encode converts UTF-8 to stored bytes. Runes outside the charset return
// ErrUnrepresentable.
func (c *Charset) Encode(s string) (string, error) {
	out, _, err := transform.String(c.enc.NewEncoder(), s)
	if err != nil {
		return "", errors.Wrapf(ErrUnrepresentable, "%q in %s", s, c.name)
	}
	return out, nil
}

// SplitFixed splits a fixed-size field at its first NUL. tail holds the bytes
// after that NUL with the trailing zero fill removed, or nil if nothing but
// zeros follows.
func SplitFixed(data []byte) (name string, tail []byte) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return string(data), nil
	}
	if rest := bytes.TrimRight(data[i+1:], "\x00"); len(rest) > 0 {
		tail = append([]byte(nil), rest...)
	}
	return string(data[:i]), tail
}

// PadFixed is the inverse of SplitFixed: s, then a NUL and tail when tail is
// non-nil, then zero fill up to size. It reports false if that does not fit.
func PadFixed(s string, tail []byte, size int) ([]byte, bool) {
	n := len(s)
	if tail != nil {
		n += 1 + len(tail)
	}
	if n > size {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, s)
	if tail != nil {
		copy(out[len(s)+1:], tail)
	}
	return out, true
}
