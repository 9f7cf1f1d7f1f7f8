package zip64

import (
	"github.com/pkg/errors"
)

// Thresholds is the pair of limits above which a value is promoted to its
// zip64 representation. Production archives use DefaultThresholds; smaller
// values exercise the zip64 paths without multi-gigabyte data.
type Thresholds struct {
	Max32 uint64 // sizes and offsets
	Max16 uint64 // entry counts
}

// DefaultThresholds are the limits of the classic format.
var DefaultThresholds = Thresholds{Max32: uint32max, Max16: uint16max}

// Validate rejects thresholds that could not be honoured by the classic
// fields.
func (t Thresholds) Validate() error {
	if t.Max32 == 0 || t.Max32 > uint32max {
		return errors.Errorf("zip: 32-bit threshold %d out of range", t.Max32)
	}
	if t.Max16 == 0 || t.Max16 > uint16max {
		return errors.Errorf("zip: 16-bit threshold %d out of range", t.Max16)
	}
	return nil
}

// over32 reports whether v must leave the 4-byte field. A value equal to the
// sentinel is promoted as well so that it cannot be misread as one.
func (t Thresholds) over32(v uint64) bool {
	return v > t.Max32 || v >= uint32max
}

func (t Thresholds) over16(v uint64) bool {
	return v > t.Max16 || v >= uint16max
}

// promotion records which classic fields of one structure are replaced by
// sentinels. It is computed once and read by both the sentinel writer and
// the extra field writer.
type promotion struct {
	sizes  bool // uncompressed and compressed size, always as a pair
	offset bool // local header offset
	disk   bool // disk number start
}

func (p promotion) any() bool {
	return p.sizes || p.offset || p.disk
}

// localPromotion decides the local file header: the size pair only.
func localPromotion(fh *FileHeader, t Thresholds) promotion {
	return promotion{
		sizes: t.over32(fh.UncompressedSize64) || t.over32(fh.CompressedSize64),
	}
}

// directoryPromotion decides a central directory record. The offset is
// judged on its own; the sizes as a pair.
func directoryPromotion(fh *FileHeader, t Thresholds) promotion {
	return promotion{
		sizes:  t.over32(fh.UncompressedSize64) || t.over32(fh.CompressedSize64),
		offset: t.over32(fh.Offset),
	}
}

// endPromotion decides whether the trailer needs the zip64 records.
func endPromotion(records, size, offset uint64, t Thresholds) bool {
	return t.over16(records) || t.over32(size) || t.over32(offset)
}
