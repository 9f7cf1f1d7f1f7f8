package zip64

import (
	"os"
	"path"
	"time"
)

// Compression methods.
const (
	Store   uint16 = 0  // no compression
	Deflate uint16 = 8  // DEFLATE compressed
	LZMA    uint16 = 14 // LZMA compressed, EOS marker terminated
	Zstd    uint16 = 93 // Zstandard compressed
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	fileHeaderLen            = 30 // + filename + extra
	directoryHeaderLen       = 46 // + filename + extra + comment
	directoryEndLen          = 22 // + comment
	directory64LocLen        = 20 //
	directory64EndLen        = 56 // no extensible data sector is ever written

	// Constants for the first byte in CreatorVersion.
	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19

	// Version numbers.
	zipVersion20 = 20 // 2.0
	zipVersion45 = 45 // 4.5 (reads and writes zip64 archives)
	zipVersion63 = 63 // 6.3 (LZMA and Zstandard methods)

	// Limits for non zip64 files. These are also the sentinel values.
	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	// Extra header IDs.
	//
	// IDs 0..31 are reserved for official use by PKWARE.
	zip64ExtraID = 0x0001 // Zip64 extended information

	// General purpose flags.
	flagLZMAEOS        = 0x2
	flagDataDescriptor = 0x8
	flagUTF8           = 0x800
)

// FileHeader describes an entry within a zip archive. It is the entry
// descriptor shared by the writer and the parser.
type FileHeader struct {
	// Name is the name of the entry. A trailing slash marks a directory,
	// which carries no data.
	Name string

	// Comment is any user-defined string shorter than 64KiB.
	Comment string

	// NonUTF8 tags Name and Comment as not encoded in UTF-8.
	NonUTF8 bool

	CreatorVersion uint16
	ReaderVersion  uint16
	Flags          uint16

	// Method is the compression method. If zero, Store is used.
	Method uint16

	// Modified is the modification time. When set, the MS-DOS fields are
	// derived from it on write.
	Modified     time.Time
	ModifiedTime uint16
	ModifiedDate uint16

	CRC32              uint32
	CompressedSize64   uint64
	UncompressedSize64 uint64
	ExternalAttrs      uint32

	// Offset is the absolute position of the entry's local file header.
	Offset uint64
}

// FileInfo returns an os.FileInfo for the FileHeader.
func (h *FileHeader) FileInfo() os.FileInfo {
	return headerFileInfo{h}
}

type headerFileInfo struct {
	fh *FileHeader
}

func (fi headerFileInfo) Name() string       { return path.Base(fi.fh.Name) }
func (fi headerFileInfo) Size() int64        { return int64(fi.fh.UncompressedSize64) }
func (fi headerFileInfo) IsDir() bool        { return fi.Mode().IsDir() }
func (fi headerFileInfo) ModTime() time.Time { return fi.fh.Modified }
func (fi headerFileInfo) Mode() os.FileMode  { return fi.fh.Mode() }
func (fi headerFileInfo) Sys() interface{}   { return fi.fh }

func (h *FileHeader) isDir() bool {
	return len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/'
}

// timeToMsDosTime converts a time.Time to an MS-DOS date and time.
// The resolution is 2s.
func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16) {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + year<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// msDosTimeToTime converts an MS-DOS date and time into a time.Time.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}

const (
	// Unix constants. These are the values agreed on by tools.
	s_IFMT  = 0xf000
	s_IFLNK = 0xa000
	s_IFREG = 0x8000
	s_IFDIR = 0x4000

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// Mode returns the permission and mode bits for the FileHeader.
func (h *FileHeader) Mode() (mode os.FileMode) {
	switch h.CreatorVersion >> 8 {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(h.ExternalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(h.ExternalAttrs)
	}
	if h.isDir() {
		mode |= os.ModeDir
	}
	return mode
}

// SetMode changes the permission and mode bits for the FileHeader.
func (h *FileHeader) SetMode(mode os.FileMode) {
	h.CreatorVersion = h.CreatorVersion&0xff | creatorUnix<<8
	h.ExternalAttrs = fileModeToUnixMode(mode) << 16

	if mode&os.ModeDir != 0 {
		h.ExternalAttrs |= msdosDir
	}
	if mode&0200 == 0 {
		h.ExternalAttrs |= msdosReadOnly
	}
}

func msdosModeToFileMode(m uint32) (mode os.FileMode) {
	if m&msdosDir != 0 {
		mode = os.ModeDir | 0777
	} else {
		mode = 0666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = s_IFREG
	case os.ModeDir:
		m = s_IFDIR
	case os.ModeSymlink:
		m = s_IFLNK
	}
	return m | uint32(mode&0777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & s_IFMT {
	case s_IFDIR:
		mode |= os.ModeDir
	case s_IFLNK:
		mode |= os.ModeSymlink
	}
	return mode
}

type directoryEnd struct {
	diskNbr            uint32 // unused
	dirDiskNbr         uint32 // unused
	dirRecordsThisDisk uint64
	directoryRecords   uint64
	directorySize      uint64
	directoryOffset    uint64 // relative to file
	commentLen         uint16
	comment            string
	zip64              bool // values came from the zip64 record
}
