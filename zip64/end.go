package zip64

import (
	"io"

	"github.com/pkg/errors"
)

// buildDirectoryEnd returns the classic end of central directory record.
// When zip64 is set every count, size and offset field holds its sentinel
// and the true values live in the zip64 record.
func buildDirectoryEnd(d *directoryEnd, zip64 bool) []byte {
	buf := make([]byte, directoryEndLen+len(d.comment))
	b := writeBuf(buf)
	b.uint32(directoryEndSignature)
	b.uint16(0) // number of this disk
	b.uint16(0) // disk with the start of the central directory
	if zip64 {
		b.uint16(uint16max)
		b.uint16(uint16max)
		b.uint32(uint32max)
		b.uint32(uint32max)
	} else {
		b.uint16(uint16(d.dirRecordsThisDisk))
		b.uint16(uint16(d.directoryRecords))
		b.uint32(uint32(d.directorySize))
		b.uint32(uint32(d.directoryOffset))
	}
	b.uint16(uint16(len(d.comment)))
	b.string(d.comment)
	return buf
}

// buildDirectory64End returns the zip64 end of central directory record.
func buildDirectory64End(d *directoryEnd) []byte {
	buf := make([]byte, directory64EndLen)
	b := writeBuf(buf)
	b.uint32(directory64EndSignature)
	b.uint64(directory64EndLen - 12)        // length minus signature (uint32) and length fields (uint64)
	b.uint16(creatorUnix<<8 | zipVersion45) // version made by
	b.uint16(zipVersion45)                  // version needed to extract
	b.uint32(0)                             // number of this disk
	b.uint32(0)                             // number of the disk with the start of the central directory
	b.uint64(d.dirRecordsThisDisk)          // total number of entries in the central directory on this disk
	b.uint64(d.directoryRecords)            // total number of entries in the central directory
	b.uint64(d.directorySize)               // size of the central directory
	b.uint64(d.directoryOffset)             // offset of start of central directory
	return buf
}

// buildLocator returns the zip64 end of central directory locator pointing
// at the record written at recordOffset.
func buildLocator(recordOffset uint64) []byte {
	buf := make([]byte, directory64LocLen)
	b := writeBuf(buf)
	b.uint32(directory64LocSignature)
	b.uint32(0)            // number of the disk with the start of the zip64 end of central directory
	b.uint64(recordOffset) // relative offset of the zip64 end of central directory record
	b.uint32(1)            // total number of disks
	return buf
}

// parseLocator returns the zip64 record offset held by the locator in b,
// which starts at off.
func parseLocator(b []byte, off int64) (int64, error) {
	if len(b) < directory64LocLen {
		return 0, formatError(InvalidZip64Locator, off, "need %d bytes, have %d", directory64LocLen, len(b))
	}
	buf := readBuf(b)
	if sig := buf.uint32(); sig != directory64LocSignature {
		return 0, formatError(InvalidZip64Locator, off, "signature %#08x", sig)
	}
	if disk := buf.uint32(); disk != 0 {
		return 0, formatError(InvalidZip64Locator, off+4, "zip64 record on disk %d", disk)
	}
	p := buf.uint64()
	// Some Windows tools write a disk count of 0 for single-disk archives.
	if disks := buf.uint32(); disks > 1 {
		return 0, formatError(InvalidZip64Locator, off+16, "%d disks", disks)
	}
	// The record must end where the locator begins.
	if p > uint64(off) || uint64(off)-p < directory64EndLen {
		return 0, formatError(InvalidZip64Locator, off+8, "record offset %d out of range", p)
	}
	return int64(p), nil
}

// parseDirectory64End fills d from the zip64 record in b, which starts at
// off.
func parseDirectory64End(b []byte, off int64, d *directoryEnd) error {
	if len(b) < directory64EndLen {
		return formatError(InvalidZip64Locator, off, "zip64 record needs %d bytes, have %d", directory64EndLen, len(b))
	}
	buf := readBuf(b)
	if sig := buf.uint32(); sig != directory64EndSignature {
		return formatError(InvalidZip64Locator, off, "zip64 record signature %#08x", sig)
	}
	if n := buf.uint64(); n < directory64EndLen-12 {
		return formatError(InvalidZip64Locator, off+4, "zip64 record size %d", n)
	}
	buf = buf[4:]                       // skip version made by and version needed (2x uint16)
	d.diskNbr = buf.uint32()            // number of this disk
	d.dirDiskNbr = buf.uint32()         // number of the disk with the start of the central directory
	d.dirRecordsThisDisk = buf.uint64() // total number of entries in the central directory on this disk
	d.directoryRecords = buf.uint64()   // total number of entries in the central directory
	d.directorySize = buf.uint64()      // size of the central directory
	d.directoryOffset = buf.uint64()    // offset of start of central directory
	if d.diskNbr != 0 || d.dirDiskNbr != 0 {
		return errors.Wrapf(ErrFormat, "multi-disk archive (disk %d, directory disk %d)", d.diskNbr, d.dirDiskNbr)
	}
	return nil
}

// readDirectoryEnd locates the end of central directory record in the
// last bytes of r, follows the zip64 locator when the classic fields are
// sentinels, and returns the resolved directory end.
func readDirectoryEnd(r io.ReaderAt, size int64) (*directoryEnd, error) {
	// look for directoryEndSignature in the last 1k, then in the last 65k
	var buf []byte
	var directoryEndOffset int64
	for i, bLen := range []int64{1024, 65 * 1024} {
		if bLen > size {
			bLen = size
		}
		buf = make([]byte, int(bLen))
		if _, err := r.ReadAt(buf, size-bLen); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "read archive tail")
		}
		if p := findSignatureInBlock(buf); p >= 0 {
			buf = buf[p:]
			directoryEndOffset = size - bLen + int64(p)
			break
		}
		if i == 1 || bLen == size {
			return nil, errors.Wrap(ErrFormat, "end of central directory not found")
		}
	}

	b := readBuf(buf[4:]) // skip signature
	d := &directoryEnd{
		diskNbr:            uint32(b.uint16()),
		dirDiskNbr:         uint32(b.uint16()),
		dirRecordsThisDisk: uint64(b.uint16()),
		directoryRecords:   uint64(b.uint16()),
		directorySize:      uint64(b.uint32()),
		directoryOffset:    uint64(b.uint32()),
		commentLen:         b.uint16(),
	}
	d.comment = string(b[:d.commentLen])

	// These values mean that the file must be a zip64 file.
	if d.directoryRecords == uint16max || d.directorySize == uint32max || d.directoryOffset == uint32max {
		locOffset := directoryEndOffset - directory64LocLen
		if locOffset < 0 {
			return nil, formatError(InvalidZip64Locator, directoryEndOffset, "no room for a zip64 locator")
		}
		loc, err := readAt(r, locOffset, directory64LocLen)
		if err != nil {
			return nil, err
		}
		p, err := parseLocator(loc, locOffset)
		if err != nil {
			return nil, err
		}
		rec, err := readAt(r, p, directory64EndLen)
		if err != nil {
			return nil, err
		}
		if err := parseDirectory64End(rec, p, d); err != nil {
			return nil, err
		}
		d.zip64 = true
		directoryEndOffset = p
	} else if d.diskNbr != 0 || d.dirDiskNbr != 0 {
		return nil, errors.Wrapf(ErrFormat, "multi-disk archive (disk %d, directory disk %d)", d.diskNbr, d.dirDiskNbr)
	}

	// The central directory must sit right before the trailer chain.
	if d.directoryOffset+d.directorySize != uint64(directoryEndOffset) {
		return nil, errors.Wrapf(ErrFormat, "central directory [%d, +%d) does not end at trailer offset %d",
			d.directoryOffset, d.directorySize, directoryEndOffset)
	}
	if d.directoryRecords > uint64(d.directorySize)/directoryHeaderLen {
		return nil, errors.Wrapf(ErrFormat, "directory declares impossible %d records in %d bytes",
			d.directoryRecords, d.directorySize)
	}
	return d, nil
}

func findSignatureInBlock(b []byte) int {
	for i := len(b) - directoryEndLen; i >= 0; i-- {
		if b[i] == 'P' && b[i+1] == 'K' && b[i+2] == 0x05 && b[i+3] == 0x06 {
			// n is length of comment
			n := int(b[i+directoryEndLen-2]) | int(b[i+directoryEndLen-1])<<8
			if n+directoryEndLen+i <= len(b) {
				return i
			}
		}
	}
	return -1
}
