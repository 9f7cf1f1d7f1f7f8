package zip64

import (
	"unicode/utf8"

	"github.com/pkg/errors"
)

// buildDirectoryRecord returns the central directory record for fh, whose
// Offset must already hold the local header position.
func buildDirectoryRecord(fh *FileHeader, t Thresholds) []byte {
	p := directoryPromotion(fh, t)
	extra := encodeZip64Extra(p.directoryFields(), zip64Values{
		uncompressed: fh.UncompressedSize64,
		compressed:   fh.CompressedSize64,
		offset:       fh.Offset,
	})

	buf := make([]byte, directoryHeaderLen+len(fh.Name)+len(extra)+len(fh.Comment))
	b := writeBuf(buf)
	b.uint32(directoryHeaderSignature)
	b.uint16(fh.CreatorVersion)
	b.uint16(readerVersion(fh.Method, p))
	b.uint16(fh.Flags)
	b.uint16(fh.Method)
	b.uint16(fh.ModifiedTime)
	b.uint16(fh.ModifiedDate)
	b.uint32(fh.CRC32)
	if len(extra) > 0 {
		// A zip64 block always opens with the size pair, so readers
		// that consume it in order must see both sizes as sentinels.
		b.uint32(uint32max)
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(fh.CompressedSize64))
		b.uint32(uint32(fh.UncompressedSize64))
	}
	b.uint16(uint16(len(fh.Name)))
	b.uint16(uint16(len(extra)))
	b.uint16(uint16(len(fh.Comment)))
	b.uint16(0) // disk number start
	b.uint16(0) // internal file attributes
	b.uint32(fh.ExternalAttrs)
	if p.offset {
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(fh.Offset))
	}
	b.string(fh.Name)
	b.bytes(extra)
	b.string(fh.Comment)
	return buf
}

// directoryRecordLen is the length buildDirectoryRecord produces for fh.
func directoryRecordLen(fh *FileHeader, t Thresholds) int {
	n := directoryHeaderLen + len(fh.Name) + len(fh.Comment)
	if f := directoryPromotion(fh, t).directoryFields(); f != 0 {
		n += 4 + f.size()
	}
	return n
}

// parseDirectoryRecord parses the record at the start of b and returns it
// with its total length. off is the absolute position of the record.
func parseDirectoryRecord(b []byte, off int64) (*FileHeader, int, error) {
	if len(b) < directoryHeaderLen {
		return nil, 0, formatError(TruncatedCentralDirectoryRecord, off, "need %d bytes, have %d", directoryHeaderLen, len(b))
	}
	buf := readBuf(b)
	if sig := buf.uint32(); sig != directoryHeaderSignature {
		return nil, 0, errors.Wrapf(ErrFormat, "central directory signature %#08x at offset %d", sig, off)
	}
	f := &FileHeader{}
	f.CreatorVersion = buf.uint16()
	f.ReaderVersion = buf.uint16()
	f.Flags = buf.uint16()
	f.Method = buf.uint16()
	f.ModifiedTime = buf.uint16()
	f.ModifiedDate = buf.uint16()
	f.CRC32 = buf.uint32()
	compressed := buf.uint32()
	uncompressed := buf.uint32()
	filenameLen := int(buf.uint16())
	extraLen := int(buf.uint16())
	commentLen := int(buf.uint16())
	diskStart := buf.uint16()
	buf = buf[2:] // skip internal file attributes
	f.ExternalAttrs = buf.uint32()
	offset := buf.uint32()

	if d := filenameLen + extraLen + commentLen; len(buf) < d {
		return nil, 0, formatError(TruncatedCentralDirectoryRecord, off, "name, extra and comment need %d bytes, have %d", d, len(buf))
	}
	f.Name = string(buf.sub(filenameLen))
	extra := buf.sub(extraLen)
	f.Comment = string(buf.sub(commentLen))
	f.CompressedSize64 = uint64(compressed)
	f.UncompressedSize64 = uint64(uncompressed)
	f.Offset = uint64(offset)
	f.NonUTF8 = nonUTF8(f)
	f.Modified = msDosTimeToTime(f.ModifiedDate, f.ModifiedTime)

	if err := resolveDirectoryZip64(f, extra, off, sentinels{
		uncompressed: uncompressed == uint32max,
		compressed:   compressed == uint32max,
		offset:       offset == uint32max,
		disk:         diskStart == uint16max,
	}); err != nil {
		return nil, 0, err
	}
	return f, directoryHeaderLen + filenameLen + extraLen + commentLen, nil
}

// resolveDirectoryZip64 replaces sentineled fields of f with the values of
// the record's zip64 block. s says which classic fields were sentinels.
func resolveDirectoryZip64(f *FileHeader, extra []byte, off int64, s sentinels) error {
	extraOff := off + directoryHeaderLen + int64(len(f.Name))
	block, blockOff, err := findZip64Block(extra, extraOff)
	if err != nil {
		return err
	}
	if !s.any() {
		if block != nil {
			return formatError(InconsistentPromotion, blockOff, "zip64 extra field present without sentinel fields")
		}
		return nil
	}
	if block == nil {
		return formatError(InconsistentPromotion, off+20, "sentinel fields but no zip64 extra field")
	}

	// Our own layout first, then the size pair plus what else is
	// sentineled, then only the sentineled values.
	p := s.promotion()
	fields := chooseLayout(block, p.directoryFields(), p.pairedFields(), s.fields())
	v, err := decodeZip64Block(block, fields, blockOff)
	if err != nil {
		return err
	}
	if err := resolveSizes(f, s, fields, v, blockOff); err != nil {
		return err
	}
	if fields&fieldOffset != 0 {
		if s.offset {
			f.Offset = v.offset
		} else if v.offset != f.Offset {
			return formatError(InconsistentPromotion, blockOff, "extra field offset %d disagrees with header offset %d", v.offset, f.Offset)
		}
	}
	if s.disk && v.disk != 0 {
		return errors.Wrapf(ErrFormat, "entry %q starts on disk %d", f.Name, v.disk)
	}
	return nil
}

// nonUTF8 determines the character encoding of a parsed record.
func nonUTF8(f *FileHeader) bool {
	utf8Valid1, utf8Require1 := detectUTF8(f.Name)
	utf8Valid2, utf8Require2 := detectUTF8(f.Comment)
	switch {
	case !utf8Valid1 || !utf8Valid2:
		// Name and Comment definitely not UTF-8.
		return true
	case !utf8Require1 && !utf8Require2:
		// Name and Comment use only single-byte runes that overlap with UTF-8.
		return false
	default:
		// Might be UTF-8, might be some other encoding; trust the flag.
		return f.Flags&flagUTF8 == 0
	}
}

// detectUTF8 reports whether s is a valid UTF-8 string, and whether the string
// must be considered UTF-8 encoding (i.e., not compatible with CP-437, ASCII,
// or any other common encoding).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		// Officially, ZIP uses CP-437, but many readers use the system's
		// local character encoding. Most encoding are compatible with a large
		// subset of CP-437, which itself is ASCII-like.
		//
		// Forbid 0x7e and 0x5c since EUC-KR and Shift-JIS replace those
		// characters with localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}
