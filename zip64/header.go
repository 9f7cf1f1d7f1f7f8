package zip64

import (
	"io"

	"github.com/pkg/errors"
)

// readerVersion is the version needed to extract an entry described with
// the promotion p.
func readerVersion(method uint16, p promotion) uint16 {
	switch {
	case method == LZMA || method == Zstd:
		return zipVersion63
	case p.any():
		return zipVersion45
	}
	return zipVersion20
}

// buildLocalHeader returns the local file header for fh: the fixed prefix,
// the name and, when the size pair is promoted, a zip64 block carrying both
// sizes.
func buildLocalHeader(fh *FileHeader, t Thresholds) []byte {
	p := localPromotion(fh, t)
	extra := encodeZip64Extra(p.localFields(), zip64Values{
		uncompressed: fh.UncompressedSize64,
		compressed:   fh.CompressedSize64,
	})

	buf := make([]byte, fileHeaderLen+len(fh.Name)+len(extra))
	b := writeBuf(buf)
	b.uint32(fileHeaderSignature)
	b.uint16(readerVersion(fh.Method, p))
	b.uint16(fh.Flags)
	b.uint16(fh.Method)
	b.uint16(fh.ModifiedTime)
	b.uint16(fh.ModifiedDate)
	b.uint32(fh.CRC32)
	if p.sizes {
		b.uint32(uint32max) // compressed size
		b.uint32(uint32max) // uncompressed size
	} else {
		b.uint32(uint32(fh.CompressedSize64))
		b.uint32(uint32(fh.UncompressedSize64))
	}
	b.uint16(uint16(len(fh.Name)))
	b.uint16(uint16(len(extra)))
	b.string(fh.Name)
	b.bytes(extra)
	return buf
}

// localHeaderLen is the full length buildLocalHeader produces for fh.
func localHeaderLen(fh *FileHeader, t Thresholds) int64 {
	p := localPromotion(fh, t)
	n := fileHeaderLen + len(fh.Name)
	if f := p.localFields(); f != 0 {
		n += 4 + f.size()
	}
	return int64(n)
}

// localHeader is a parsed local file header.
type localHeader struct {
	FileHeader
	zip64  bool  // sizes came from the zip64 block
	length int64 // fixed prefix + name + extra
}

// parseLocalHeader parses the header at the start of buf. off is its
// absolute position.
func parseLocalHeader(buf []byte, off int64) (*localHeader, error) {
	if len(buf) < fileHeaderLen {
		return nil, formatError(TruncatedLocalFileHeader, off, "need %d bytes, have %d", fileHeaderLen, len(buf))
	}
	b := readBuf(buf)
	if sig := b.uint32(); sig != fileHeaderSignature {
		return nil, errors.Wrapf(ErrFormat, "local file header signature %#08x at offset %d", sig, off)
	}
	h := &localHeader{}
	h.ReaderVersion = b.uint16()
	h.Flags = b.uint16()
	h.Method = b.uint16()
	h.ModifiedTime = b.uint16()
	h.ModifiedDate = b.uint16()
	h.CRC32 = b.uint32()
	compressed := b.uint32()
	uncompressed := b.uint32()
	h.CompressedSize64 = uint64(compressed)
	h.UncompressedSize64 = uint64(uncompressed)
	filenameLen := int(b.uint16())
	extraLen := int(b.uint16())
	if len(b) < filenameLen+extraLen {
		return nil, formatError(TruncatedLocalFileHeader, off, "name and extra need %d bytes, have %d", filenameLen+extraLen, len(b))
	}
	h.Name = string(b.sub(filenameLen))
	extra := b.sub(extraLen)
	h.Offset = uint64(off)
	h.length = int64(fileHeaderLen + filenameLen + extraLen)

	extraOff := off + fileHeaderLen + int64(filenameLen)
	block, blockOff, err := findZip64Block(extra, extraOff)
	if err != nil {
		return nil, err
	}
	s := sentinels{
		uncompressed: uncompressed == uint32max,
		compressed:   compressed == uint32max,
	}
	switch {
	case s.any() && block == nil:
		return nil, formatError(InconsistentPromotion, off+18, "sizes are sentinels but no zip64 extra field follows")
	case !s.any() && block != nil:
		return nil, formatError(InconsistentPromotion, blockOff, "zip64 extra field present without sentinel sizes")
	case s.any():
		// The pair is the usual layout; accept the sentineled size alone too.
		fields := chooseLayout(block, s.promotion().localFields(), s.fields())
		v, err := decodeZip64Block(block, fields, blockOff)
		if err != nil {
			return nil, err
		}
		if err := resolveSizes(&h.FileHeader, s, fields, v, blockOff); err != nil {
			return nil, err
		}
		h.zip64 = true
	}
	return h, nil
}

// readLocalHeader reads and parses the local header at off from r. size
// bounds the source.
func readLocalHeader(r io.ReaderAt, off, size int64) (*localHeader, error) {
	if off < 0 || off+fileHeaderLen > size {
		return nil, formatError(TruncatedLocalFileHeader, off, "fixed header overruns archive of %d bytes", size)
	}
	fixed, err := readAt(r, off, fileHeaderLen)
	if err != nil {
		return nil, err
	}
	b := readBuf(fixed[26:])
	n := fileHeaderLen + int64(b.uint16()) + int64(b.uint16())
	if off+n > size {
		return nil, formatError(TruncatedLocalFileHeader, off, "header of %d bytes overruns archive of %d bytes", n, size)
	}
	buf, err := readAt(r, off, int(n))
	if err != nil {
		return nil, err
	}
	return parseLocalHeader(buf, off)
}
