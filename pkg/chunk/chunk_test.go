package chunk

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
)

func makeContainer(extra []byte, chunks ...Chunk) []byte {
	return Write(&Stream{
		Header: Header{Version: LongVersion(1), Extra: extra},
		Chunks: chunks,
	})
}

func TestVersion_LongShort(t *testing.T) {
	tests := []struct {
		short int
		text  string
	}{
		{0, "0000"},
		{1, "0001"},
		{102, "0102"},
		{9999, "9999"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			v := LongVersion(tt.short)
			if v.String() != tt.text {
				t.Errorf("String() = %q, want %q", v.String(), tt.text)
			}
			got, err := v.Short()
			if err != nil {
				t.Fatalf("Short failed: %v", err)
			}
			if got != tt.short {
				t.Errorf("Short() = %d, want %d", got, tt.short)
			}
		})
	}
}

func TestVersion_LongFormLayout(t *testing.T) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(LongVersion(102)))
	if string(b[:]) != "0102" {
		t.Errorf("long form bytes = %q, want %q", b[:], "0102")
	}
}

func TestVersion_NotDigits(t *testing.T) {
	_, err := Version(0x41414141).Short()
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestTag_String(t *testing.T) {
	if got := MakeTag("GEOM").String(); got != "GEOM" {
		t.Errorf("String() = %q, want GEOM", got)
	}
	if got := Tag(0x00000001).String(); got != "0x00000001" {
		t.Errorf("String() = %q, want hex form", got)
	}
}

func TestRead_RoundTrip(t *testing.T) {
	chunks := []Chunk{
		{Tag: MakeTag("SKEL"), Version: LongVersion(2), Payload: []byte{1, 2, 3, 4}},
		{Tag: MakeTag("ZZZZ"), Version: LongVersion(7), Payload: []byte{9, 9}},
		{Tag: MakeTag("GEOM"), Version: LongVersion(102), Payload: nil},
	}
	data := makeContainer([]byte{0xAA, 0xBB, 0xCC, 0xDD}, chunks...)

	s, err := Read(data)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(s.Chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(s.Chunks))
	}
	if !bytes.Equal(s.Header.Extra, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Errorf("header extra = %v", s.Header.Extra)
	}
	for i, c := range chunks {
		if s.Chunks[i].Tag != c.Tag || s.Chunks[i].Version != c.Version || !bytes.Equal(s.Chunks[i].Payload, c.Payload) {
			t.Errorf("chunk %d = %+v, want %+v", i, s.Chunks[i], c)
		}
	}
	if s.Find(MakeTag("GEOM")) != 2 {
		t.Errorf("Find(GEOM) = %d, want 2", s.Find(MakeTag("GEOM")))
	}
	if s.Find(MakeTag("NONE")) != -1 {
		t.Error("Find of missing tag should return -1")
	}

	if again := Write(s); !bytes.Equal(again, data) {
		t.Error("Write(Read(data)) differs from data")
	}
}

func TestRead_Malformed(t *testing.T) {
	valid := makeContainer(nil, Chunk{Tag: MakeTag("GEOM"), Version: LongVersion(100), Payload: make([]byte, 8)})

	badSig := append([]byte(nil), valid...)
	copy(badSig, "XXXX")

	overrun := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(overrun[HeaderSize+8:], 4096)

	tooSmall := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(tooSmall[HeaderSize+8:], 4)

	extraChunks := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint32(extraChunks[12:], 2)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", valid[:10]},
		{"bad signature", badSig},
		{"chunk overruns buffer", overrun},
		{"chunk size below prefix", tooSmall},
		{"more chunks declared than present", extraChunks},
		{"truncated file", valid[:len(valid)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.data)
			if !errors.Is(err, ErrMalformedContainer) {
				t.Errorf("expected ErrMalformedContainer, got %v", err)
			}
		})
	}
}
