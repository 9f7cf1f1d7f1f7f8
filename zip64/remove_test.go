package zip64

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/pkg/errors"
)

func TestRemove(t *testing.T) {
	small := []byte("small entry")
	big := noise(8192)
	tail := bytes.Repeat([]byte("tail "), 100)
	src := buildArchive(t, smallThresholds,
		testEntry{"first.txt", Store, small},
		testEntry{"big.bin", Store, big},
		testEntry{"tail.txt", Deflate, tail},
	)
	before, err := NewReader(src, src.Size(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !before.Trailer.Zip64 {
		t.Fatal("source archive should need zip64")
	}

	dst := NewBuffer(nil)
	zr, err := Remove(src, src.Size(), dst, Config{Thresholds: smallThresholds}, "big.bin")
	if err != nil {
		t.Fatal(err)
	}
	if zr.Size() != dst.Size() {
		t.Errorf("reader size %d, buffer size %d", zr.Size(), dst.Size())
	}
	if len(zr.File) != 2 || zr.File[0].Name != "first.txt" || zr.File[1].Name != "tail.txt" {
		t.Fatalf("remaining entries %+v", headersOf(zr))
	}

	t.Run("contiguous offsets", func(t *testing.T) {
		next := int64(0)
		for _, f := range zr.File {
			if int64(f.Offset) != next {
				t.Errorf("%s at %d, want %d", f.Name, f.Offset, next)
			}
			dataOff, err := f.DataOffset()
			if err != nil {
				t.Fatal(err)
			}
			next = dataOff + int64(f.CompressedSize64)
		}
		if uint64(next) != zr.Trailer.DirectoryOffset {
			t.Errorf("directory at %d, want %d", zr.Trailer.DirectoryOffset, next)
		}
	})

	t.Run("promotion is reevaluated", func(t *testing.T) {
		if zr.Trailer.Zip64 {
			t.Error("rebuilt archive kept the zip64 trailer")
		}
		if bytes.Contains(dst.Bytes(), []byte{'P', 'K', 6, 6}) {
			t.Error("zip64 end record left behind")
		}
	})

	t.Run("content survives", func(t *testing.T) {
		if err := zr.Verify(); err != nil {
			t.Fatal(err)
		}
		got := readStdlib(t, dst.Bytes())
		if !bytes.Equal(got["first.txt"], small) || !bytes.Equal(got["tail.txt"], tail) {
			t.Error("remaining entries changed")
		}
		for i, f := range zr.File {
			old := before.File[[]int{0, 2}[i]]
			if f.CRC32 != old.CRC32 || f.CompressedSize64 != old.CompressedSize64 || f.Modified != old.Modified {
				t.Errorf("%s: descriptor changed from %+v to %+v", f.Name, old.FileHeader, f.FileHeader)
			}
		}
	})
}

func TestRemoveKeepsStoredTimes(t *testing.T) {
	// archive/zip leaves the MS-DOS date and time at zero when Modified is
	// unset; zero is not a valid date and must survive untouched.
	var src bytes.Buffer
	zw := zip.NewWriter(&src)
	for _, name := range []string{"a", "b"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, "content of "+name); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	in := NewBuffer(src.Bytes())
	dst := NewBuffer(nil)
	zr, err := Remove(in, in.Size(), dst, Config{}, "a")
	if err != nil {
		t.Fatal(err)
	}
	f := zr.File[0]
	if f.Name != "b" || f.ModifiedDate != 0 || f.ModifiedTime != 0 {
		t.Errorf("%s: date=%#x time=%#x, want zero", f.Name, f.ModifiedDate, f.ModifiedTime)
	}
	local := dst.Bytes()[f.Offset:]
	if tm, d := binary.LittleEndian.Uint16(local[10:]), binary.LittleEndian.Uint16(local[12:]); tm != 0 || d != 0 {
		t.Errorf("local header date=%#x time=%#x, want zero", d, tm)
	}
	if f.Flags&flagDataDescriptor != 0 {
		t.Error("copied entry still announces a data descriptor")
	}
	if err := zr.Verify(); err != nil {
		t.Fatal(err)
	}
	if got := readStdlib(t, dst.Bytes()); string(got["b"]) != "content of b" {
		t.Errorf("b = %q", got["b"])
	}
}

func TestRemovePromotes(t *testing.T) {
	// Under lower thresholds the same entries need zip64 after a rebuild.
	src := buildArchive(t, DefaultThresholds,
		testEntry{"a", Store, noise(3000)},
		testEntry{"b", Store, noise(3000)},
		testEntry{"c", Store, noise(10)},
	)
	dst := NewBuffer(nil)
	zr, err := Remove(src, src.Size(), dst, Config{Thresholds: smallThresholds}, "c")
	if err != nil {
		t.Fatal(err)
	}
	if !zr.Trailer.Zip64 {
		t.Error("directory past the threshold but no zip64 trailer")
	}
	if err := zr.Verify(); err != nil {
		t.Error(err)
	}
	readStdlib(t, dst.Bytes())
}

func TestRemoveErrors(t *testing.T) {
	src := buildArchive(t, DefaultThresholds, testEntry{"a", Store, []byte("a")})

	if _, err := Remove(src, src.Size(), NewBuffer(nil), Config{}, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := Remove(src, src.Size(), NewBuffer(nil), Config{}); err == nil {
		t.Error("Remove without names succeeded")
	}
	garbage := NewBuffer([]byte("garbage"))
	if _, err := Remove(garbage, garbage.Size(), NewBuffer(nil), Config{}, "a"); !errors.Is(err, ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}

	zr, err := Remove(src, src.Size(), NewBuffer(nil), Config{}, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 0 || zr.Size() != directoryEndLen {
		t.Errorf("removing the only entry left %d files in %d bytes", len(zr.File), zr.Size())
	}
}
