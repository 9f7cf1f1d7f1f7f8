package zip64

import (
	"bufio"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A Reader serves entries from a finalized archive. All reads go through
// ReadAt, so one Reader may be used from several goroutines.
type Reader struct {
	r             io.ReaderAt
	size          int64
	cfg           Config
	log           logrus.FieldLogger
	File          []*File
	Comment       string
	Trailer       Trailer
	decompressors map[uint16]Decompressor
}

// A File is a single entry of an archive, as described by its central
// directory record.
type File struct {
	FileHeader
	zr *Reader
}

// NewReader parses the trailer chain and central directory of the archive
// of the given size held by r.
func NewReader(r io.ReaderAt, size int64, cfg Config) (*Reader, error) {
	if size < 0 {
		return nil, errors.New("zip: size cannot be negative")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	zr := &Reader{
		r:    r,
		size: size,
		cfg:  cfg,
		log:  cfg.Logger.WithField("component", "reader"),
	}
	if err := zr.init(); err != nil {
		return nil, err
	}
	return zr, nil
}

func (z *Reader) init() error {
	end, err := readDirectoryEnd(z.r, z.size)
	if err != nil {
		return err
	}
	z.Comment = end.comment
	z.Trailer = Trailer{
		DirectoryOffset: end.directoryOffset,
		DirectorySize:   end.directorySize,
		Records:         end.directoryRecords,
		Zip64:           end.zip64,
	}
	// readDirectoryEnd keeps the directory below the trailer, which bounds
	// the record count as well.
	z.File = make([]*File, 0, end.directoryRecords)

	cdOff := int64(end.directoryOffset)
	cdEnd := cdOff + int64(end.directorySize)
	br := bufio.NewReader(io.NewSectionReader(z.r, cdOff, int64(end.directorySize)))
	off := cdOff
	fixed := make([]byte, directoryHeaderLen)
	for i := uint64(0); i < end.directoryRecords; i++ {
		if _, err := io.ReadFull(br, fixed); err != nil {
			return z.directoryReadError(err, off, "record %d", i)
		}
		b := readBuf(fixed[28:])
		n := int(b.uint16()) + int(b.uint16()) + int(b.uint16())
		rec := make([]byte, directoryHeaderLen+n)
		copy(rec, fixed)
		if _, err := io.ReadFull(br, rec[directoryHeaderLen:]); err != nil {
			return z.directoryReadError(err, off, "record %d name, extra and comment", i)
		}
		fh, consumed, err := parseDirectoryRecord(rec, off)
		if err != nil {
			return err
		}
		if fh.Offset >= uint64(cdOff) {
			return errors.Wrapf(ErrFormat, "entry %q local header offset %d inside trailer", fh.Name, fh.Offset)
		}
		z.File = append(z.File, &File{FileHeader: *fh, zr: z})
		off += int64(consumed)
	}
	if off != cdEnd {
		return errors.Wrapf(ErrFormat, "central directory records use %d bytes, directory size is %d", off-cdOff, end.directorySize)
	}
	z.log.WithFields(logrus.Fields{
		"entries": len(z.File),
		"zip64":   z.Trailer.Zip64,
	}).Debug("central directory parsed")
	return nil
}

func (z *Reader) directoryReadError(err error, off int64, format string, args ...interface{}) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return formatError(TruncatedCentralDirectoryRecord, off, format, args...)
	}
	return errors.Wrapf(err, "read central directory at offset %d", off)
}

// Size returns the archive length the Reader was opened with.
func (z *Reader) Size() int64 { return z.size }

// Lookup returns the first entry named name.
func (z *Reader) Lookup(name string) (*File, error) {
	for _, f := range z.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "%q", name)
}

// RegisterDecompressor registers or overrides a custom decompressor for a
// specific method ID. If a decompressor for a given method is not found,
// Reader will default to looking up the decompressor at the package level.
func (z *Reader) RegisterDecompressor(method uint16, dcomp Decompressor) {
	if z.decompressors == nil {
		z.decompressors = make(map[uint16]Decompressor)
	}
	z.decompressors[method] = dcomp
}

func (z *Reader) decompressor(method uint16) Decompressor {
	dcomp := z.decompressors[method]
	if dcomp == nil {
		dcomp = decompressor(method)
	}
	return dcomp
}

// Verify reads every entry and checks its local header, its placement and
// its checksum. It returns the first failure.
func (z *Reader) Verify() error {
	files := make([]*File, len(z.File))
	copy(files, z.File)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Offset < files[j].Offset })

	next := int64(0)
	for _, f := range files {
		if int64(f.Offset) < next {
			return errors.Wrapf(ErrFormat, "entry %q at offset %d overlaps the previous entry", f.Name, f.Offset)
		}
		dataOff, err := f.DataOffset()
		if err != nil {
			return err
		}
		next = dataOff + int64(f.CompressedSize64)
		if err := f.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// DataOffset parses the entry's local header, cross-checks it against the
// central directory record and returns the position of the compressed data.
func (f *File) DataOffset() (int64, error) {
	lh, err := readLocalHeader(f.zr.r, int64(f.Offset), f.zr.size)
	if err != nil {
		return 0, err
	}
	if lh.Method != f.Method {
		return 0, errors.Wrapf(ErrFormat, "entry %q: local method %d, directory method %d", f.Name, lh.Method, f.Method)
	}
	// With a data descriptor the local fields may be zero.
	if f.Flags&flagDataDescriptor == 0 {
		if lh.UncompressedSize64 != f.UncompressedSize64 || lh.CompressedSize64 != f.CompressedSize64 {
			return 0, formatError(InconsistentPromotion, int64(f.Offset)+18,
				"entry %q: local sizes %d/%d, directory sizes %d/%d", f.Name,
				lh.CompressedSize64, lh.UncompressedSize64, f.CompressedSize64, f.UncompressedSize64)
		}
		if lh.CRC32 != f.CRC32 {
			return 0, formatError(IntegrityMismatch, int64(f.Offset)+14,
				"entry %q: local crc %#08x, directory crc %#08x", f.Name, lh.CRC32, f.CRC32)
		}
	}
	dataOff := int64(f.Offset) + lh.length
	if end := dataOff + int64(f.CompressedSize64); end < dataOff || uint64(end) > f.zr.Trailer.DirectoryOffset {
		return 0, errors.Wrapf(ErrFormat, "entry %q data [%d, +%d) runs into the central directory", f.Name, dataOff, f.CompressedSize64)
	}
	return dataOff, nil
}

// OpenRaw returns a reader over the entry's compressed bytes.
func (f *File) OpenRaw() (io.Reader, error) {
	dataOff, err := f.DataOffset()
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(f.zr.r, dataOff, int64(f.CompressedSize64)), nil
}

// Open returns a ReadCloser that provides the decompressed contents. The
// checksum and size are checked when the end of the data is reached.
func (f *File) Open() (io.ReadCloser, error) {
	raw, err := f.OpenRaw()
	if err != nil {
		return nil, err
	}
	dcomp := f.zr.decompressor(f.Method)
	if dcomp == nil {
		return nil, errors.Wrapf(ErrAlgorithm, "entry %q method %d", f.Name, f.Method)
	}
	rc, err := dcomp(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "open entry %q", f.Name)
	}
	return &checksumReader{
		rc:  rc,
		sum: f.zr.cfg.Checksum,
		f:   f,
	}, nil
}

// Verify decompresses the entry and checks its size and checksum.
func (f *File) Verify() error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return errors.Wrapf(err, "verify entry %q", f.Name)
	}
	return nil
}

type checksumReader struct {
	rc    io.ReadCloser
	sum   ChecksumFunc
	crc   uint32
	nread uint64 // number of bytes read so far
	f     *File
	err   error // sticky error
}

func (r *checksumReader) Read(b []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err = r.rc.Read(b)
	r.crc = r.sum(r.crc, b[:n])
	r.nread += uint64(n)
	if r.nread > r.f.UncompressedSize64 {
		r.err = formatError(IntegrityMismatch, int64(r.f.Offset), "entry %q longer than %d bytes", r.f.Name, r.f.UncompressedSize64)
		return 0, r.err
	}
	if err == nil {
		return
	}
	if err == io.EOF {
		switch {
		case r.nread != r.f.UncompressedSize64:
			err = formatError(IntegrityMismatch, int64(r.f.Offset), "entry %q has %d bytes, expected %d", r.f.Name, r.nread, r.f.UncompressedSize64)
		case r.crc != r.f.CRC32:
			err = formatError(IntegrityMismatch, int64(r.f.Offset), "entry %q crc %#08x, expected %#08x", r.f.Name, r.crc, r.f.CRC32)
		}
	}
	r.err = err
	return
}

func (r *checksumReader) Close() error { return r.rc.Close() }
