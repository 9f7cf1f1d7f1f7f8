package zip64

import (
	"encoding/binary"
)

// fieldSet selects the values carried by a zip64 extended information
// block. Values are always laid out in declaration order.
type fieldSet uint8

const (
	fieldUncompressedSize fieldSet = 1 << iota
	fieldCompressedSize
	fieldOffset
	fieldDisk
)

// size is the payload length of a block carrying s.
func (s fieldSet) size() int {
	n := 0
	for _, f := range []fieldSet{fieldUncompressedSize, fieldCompressedSize, fieldOffset} {
		if s&f != 0 {
			n += 8
		}
	}
	if s&fieldDisk != 0 {
		n += 4
	}
	return n
}

// localFields is the layout of a local file header block.
func (p promotion) localFields() fieldSet {
	if p.sizes {
		return fieldUncompressedSize | fieldCompressedSize
	}
	return 0
}

// directoryFields is the layout of a central directory block. Once any
// promotable value needs the block, all three are written.
func (p promotion) directoryFields() fieldSet {
	var s fieldSet
	if p.sizes || p.offset {
		s |= fieldUncompressedSize | fieldCompressedSize | fieldOffset
	}
	if p.disk {
		s |= fieldDisk
	}
	return s
}

// pairedFields is the size pair, when either size is promoted, followed by
// the other promoted values only.
func (p promotion) pairedFields() fieldSet {
	s := p.localFields()
	if p.offset {
		s |= fieldOffset
	}
	if p.disk {
		s |= fieldDisk
	}
	return s
}

// sentinels records which classic fields of a parsed structure hold the
// all-ones value. Unlike promotion, each size is tracked on its own: other
// writers sentinel only the size that overflowed.
type sentinels struct {
	uncompressed bool
	compressed   bool
	offset       bool
	disk         bool
}

func (s sentinels) any() bool {
	return s.uncompressed || s.compressed || s.offset || s.disk
}

// promotion is the write-side decision that would have produced s.
func (s sentinels) promotion() promotion {
	return promotion{
		sizes:  s.uncompressed || s.compressed,
		offset: s.offset,
		disk:   s.disk,
	}
}

// fields is the minimal layout: only the sentineled values.
func (s sentinels) fields() fieldSet {
	var f fieldSet
	if s.uncompressed {
		f |= fieldUncompressedSize
	}
	if s.compressed {
		f |= fieldCompressedSize
	}
	if s.offset {
		f |= fieldOffset
	}
	if s.disk {
		f |= fieldDisk
	}
	return f
}

// chooseLayout returns the first layout whose payload length matches the
// declared length of block, or the first layout when none does.
func chooseLayout(block []byte, layouts ...fieldSet) fieldSet {
	n := blockPayloadLen(block)
	for _, l := range layouts {
		if l.size() == n {
			return l
		}
	}
	return layouts[0]
}

// resolveSizes moves the block sizes in v into fh. A size present in the
// block whose classic field was not a sentinel must agree with it.
func resolveSizes(fh *FileHeader, s sentinels, fields fieldSet, v zip64Values, off int64) error {
	if fields&fieldUncompressedSize != 0 {
		if s.uncompressed {
			fh.UncompressedSize64 = v.uncompressed
		} else if v.uncompressed != fh.UncompressedSize64 {
			return formatError(InconsistentPromotion, off, "extra field uncompressed size %d disagrees with header size %d", v.uncompressed, fh.UncompressedSize64)
		}
	}
	if fields&fieldCompressedSize != 0 {
		if s.compressed {
			fh.CompressedSize64 = v.compressed
		} else if v.compressed != fh.CompressedSize64 {
			return formatError(InconsistentPromotion, off, "extra field compressed size %d disagrees with header size %d", v.compressed, fh.CompressedSize64)
		}
	}
	return nil
}

// blockPayloadLen returns the declared payload length of a block, or -1
// when the block header is incomplete.
func blockPayloadLen(block []byte) int {
	if len(block) < 4 {
		return -1
	}
	return int(binary.LittleEndian.Uint16(block[2:]))
}

type zip64Values struct {
	uncompressed uint64
	compressed   uint64
	offset       uint64
	disk         uint32
}

// encodeZip64Extra returns the complete block, header included, or nil when
// s is empty.
func encodeZip64Extra(s fieldSet, v zip64Values) []byte {
	if s == 0 {
		return nil
	}
	buf := make([]byte, 0, 4+s.size())
	buf = binary.LittleEndian.AppendUint16(buf, zip64ExtraID)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(s.size()))
	if s&fieldUncompressedSize != 0 {
		buf = binary.LittleEndian.AppendUint64(buf, v.uncompressed)
	}
	if s&fieldCompressedSize != 0 {
		buf = binary.LittleEndian.AppendUint64(buf, v.compressed)
	}
	if s&fieldOffset != 0 {
		buf = binary.LittleEndian.AppendUint64(buf, v.offset)
	}
	if s&fieldDisk != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, v.disk)
	}
	return buf
}

// decodeZip64Block decodes one block, header included, that is expected to
// carry exactly the values in s. off is the absolute position of the block
// and is used for error reporting.
func decodeZip64Block(block []byte, s fieldSet, off int64) (zip64Values, error) {
	var v zip64Values
	if len(block) < 4 {
		return v, formatError(MalformedExtraField, off, "block header needs 4 bytes, have %d", len(block))
	}
	b := readBuf(block)
	if tag := b.uint16(); tag != zip64ExtraID {
		return v, formatError(MalformedExtraField, off, "header id %#04x is not zip64", tag)
	}
	size := int(b.uint16())
	if size != s.size() {
		return v, formatError(MalformedExtraField, off, "declared length %d, expected %d", size, s.size())
	}
	if len(b) < size {
		return v, formatError(MalformedExtraField, off, "declared length %d overruns %d remaining bytes", size, len(b))
	}
	if s&fieldUncompressedSize != 0 {
		v.uncompressed = b.uint64()
	}
	if s&fieldCompressedSize != 0 {
		v.compressed = b.uint64()
	}
	if s&fieldOffset != 0 {
		v.offset = b.uint64()
	}
	if s&fieldDisk != 0 {
		v.disk = b.uint32()
	}
	return v, nil
}

// findZip64Block walks the extra area and returns the zip64 block, header
// included. off is the absolute position of extra.
func findZip64Block(extra []byte, off int64) (block []byte, blockOff int64, err error) {
	for pos := 0; pos < len(extra); {
		if len(extra)-pos < 4 {
			return nil, 0, formatError(MalformedExtraField, off+int64(pos), "trailing %d bytes in extra area", len(extra)-pos)
		}
		tag := binary.LittleEndian.Uint16(extra[pos:])
		size := int(binary.LittleEndian.Uint16(extra[pos+2:]))
		end := pos + 4 + size
		if end > len(extra) {
			return nil, 0, formatError(MalformedExtraField, off+int64(pos), "block %#04x length %d overruns extra area", tag, size)
		}
		if tag == zip64ExtraID {
			return extra[pos:end], off + int64(pos), nil
		}
		pos = end
	}
	return nil, 0, nil
}
