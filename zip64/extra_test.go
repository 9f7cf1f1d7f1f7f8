package zip64

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
)

func TestThresholds(t *testing.T) {
	t.Run("validate", func(t *testing.T) {
		for _, th := range []Thresholds{
			{Max32: 0, Max16: 10},
			{Max32: 10, Max16: 0},
			{Max32: uint32max + 1, Max16: 10},
			{Max32: 10, Max16: uint16max + 1},
		} {
			if err := th.Validate(); err == nil {
				t.Errorf("Validate(%+v) = nil, want error", th)
			}
		}
		if err := DefaultThresholds.Validate(); err != nil {
			t.Errorf("DefaultThresholds.Validate() = %v", err)
		}
	})

	t.Run("sentinel values are promoted", func(t *testing.T) {
		th := DefaultThresholds
		if th.over32(uint32max - 1) {
			t.Error("0xFFFFFFFE promoted under classic thresholds")
		}
		if !th.over32(uint32max) {
			t.Error("0xFFFFFFFF not promoted")
		}
		if th.over16(uint16max - 1) {
			t.Error("0xFFFE promoted under classic thresholds")
		}
		if !th.over16(uint16max) {
			t.Error("0xFFFF not promoted")
		}
	})

	t.Run("size pair is all or nothing", func(t *testing.T) {
		th := Thresholds{Max32: 100, Max16: 10}
		for _, fh := range []*FileHeader{
			{UncompressedSize64: 101, CompressedSize64: 5},
			{UncompressedSize64: 5, CompressedSize64: 101},
		} {
			if p := localPromotion(fh, th); !p.sizes {
				t.Errorf("localPromotion(%d/%d) = %+v, want sizes", fh.UncompressedSize64, fh.CompressedSize64, p)
			}
			if f := localPromotion(fh, th).localFields(); f.size() != 16 {
				t.Errorf("local block payload = %d, want 16", f.size())
			}
		}
	})

	t.Run("directory offset judged alone", func(t *testing.T) {
		th := Thresholds{Max32: 100, Max16: 10}
		p := directoryPromotion(&FileHeader{UncompressedSize64: 1, CompressedSize64: 1, Offset: 101}, th)
		if p.sizes || !p.offset {
			t.Fatalf("directoryPromotion = %+v, want offset only", p)
		}
		if n := p.directoryFields().size(); n != 24 {
			t.Errorf("directory block payload = %d, want 24", n)
		}
		if n := (sentinels{offset: true}).fields().size(); n != 8 {
			t.Errorf("minimal block payload = %d, want 8", n)
		}
	})

	t.Run("end record", func(t *testing.T) {
		th := Thresholds{Max32: 100, Max16: 10}
		cases := []struct {
			records, size, offset uint64
			want                  bool
		}{
			{10, 100, 100, false},
			{11, 10, 10, true},
			{1, 101, 10, true},
			{1, 10, 101, true},
		}
		for _, c := range cases {
			if got := endPromotion(c.records, c.size, c.offset, th); got != c.want {
				t.Errorf("endPromotion(%d, %d, %d) = %v, want %v", c.records, c.size, c.offset, got, c.want)
			}
		}
	})
}

func TestZip64Extra(t *testing.T) {
	v := zip64Values{uncompressed: 1 << 33, compressed: 1<<32 + 7, offset: 1 << 40, disk: 0}
	layouts := []struct {
		name string
		s    fieldSet
		want []uint64
	}{
		{"sizes", fieldUncompressedSize | fieldCompressedSize, []uint64{v.uncompressed, v.compressed}},
		{"offset", fieldOffset, []uint64{v.offset}},
		{"all", fieldUncompressedSize | fieldCompressedSize | fieldOffset, []uint64{v.uncompressed, v.compressed, v.offset}},
	}
	for _, l := range layouts {
		t.Run(l.name, func(t *testing.T) {
			b := encodeZip64Extra(l.s, v)
			if got := binary.LittleEndian.Uint16(b); got != zip64ExtraID {
				t.Fatalf("header id = %#x", got)
			}
			if got := int(binary.LittleEndian.Uint16(b[2:])); got != 8*len(l.want) {
				t.Fatalf("declared length = %d, want %d", got, 8*len(l.want))
			}
			for i, want := range l.want {
				if got := binary.LittleEndian.Uint64(b[4+8*i:]); got != want {
					t.Errorf("value %d = %d, want %d", i, got, want)
				}
			}
			got, err := decodeZip64Block(b, l.s, 0)
			if err != nil {
				t.Fatal(err)
			}
			if l.s&fieldOffset != 0 && got.offset != v.offset {
				t.Errorf("offset = %d, want %d", got.offset, v.offset)
			}
			if l.s&fieldUncompressedSize != 0 && (got.uncompressed != v.uncompressed || got.compressed != v.compressed) {
				t.Errorf("sizes = %d/%d, want %d/%d", got.uncompressed, got.compressed, v.uncompressed, v.compressed)
			}
		})
	}

	t.Run("empty set", func(t *testing.T) {
		if b := encodeZip64Extra(0, v); b != nil {
			t.Errorf("encodeZip64Extra(0) = %x, want nil", b)
		}
	})
}

func TestZip64ExtraMalformed(t *testing.T) {
	sizes := fieldUncompressedSize | fieldCompressedSize
	good := encodeZip64Extra(sizes, zip64Values{uncompressed: 1, compressed: 2})

	wrongID := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(wrongID, 0x5455)

	wrongLen := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(wrongLen[2:], 8)

	overrun := good[:12]

	cases := map[string][]byte{
		"short header": good[:3],
		"wrong id":     wrongID,
		"wrong length": wrongLen,
		"overrun":      overrun,
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeZip64Block(b, sizes, 100)
			if !errors.Is(err, ErrMalformedExtraField) {
				t.Fatalf("err = %v, want MalformedExtraField", err)
			}
			var fe *FormatError
			if !errors.As(err, &fe) || fe.Offset != 100 {
				t.Errorf("err = %#v, want offset 100", err)
			}
		})
	}
}

func TestFindZip64Block(t *testing.T) {
	other := []byte{0x55, 0x54, 5, 0, 1, 2, 3, 4, 5} // extended timestamp
	block := encodeZip64Extra(fieldOffset, zip64Values{offset: 42})
	extra := append(append([]byte(nil), other...), block...)

	got, off, err := findZip64Block(extra, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if off != 1000+int64(len(other)) {
		t.Errorf("block offset = %d, want %d", off, 1000+len(other))
	}
	if string(got) != string(block) {
		t.Errorf("block = %x, want %x", got, block)
	}

	if got, _, err := findZip64Block(other, 0); err != nil || got != nil {
		t.Errorf("findZip64Block without zip64 = %x, %v", got, err)
	}

	for name, b := range map[string][]byte{
		"trailing bytes":  append(append([]byte(nil), other...), 1, 0),
		"length overruns": extra[:len(extra)-1],
	} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := findZip64Block(b, 0); !errors.Is(err, ErrMalformedExtraField) {
				t.Errorf("err = %v, want MalformedExtraField", err)
			}
		})
	}
}
