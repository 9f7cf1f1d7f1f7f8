package zip64

import (
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Writer assembles a zip archive in a Storage. Entries are laid out from
// offset zero in the order they are added; Close appends the central
// directory and the trailer chain.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	s       Storage
	cfg     Config
	log     logrus.FieldLogger
	offset  uint64 // next local header position
	dir     []*FileHeader
	names   map[string]struct{}
	comment string
	closed  bool

	compressors map[uint16]Compressor
	trailer     Trailer
}

// NewWriter returns a Writer that assembles an archive in s. Existing
// contents of s are overwritten and cut off on Close.
func NewWriter(s Storage, cfg Config) (*Writer, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Writer{
		s:     s,
		cfg:   cfg,
		log:   cfg.Logger.WithField("component", "writer"),
		names: make(map[string]struct{}),
	}, nil
}

// SetComment sets the end-of-central-directory comment field.
// It can only be called before Close.
func (w *Writer) SetComment(comment string) error {
	if len(comment) > uint16max {
		return errors.New("zip: Writer.Comment too long")
	}
	w.comment = comment
	return nil
}

// RegisterCompressor registers or overrides a custom compressor for a
// specific method ID on this Writer.
func (w *Writer) RegisterCompressor(method uint16, comp Compressor) {
	if w.compressors == nil {
		w.compressors = make(map[uint16]Compressor)
	}
	w.compressors[method] = comp
}

func (w *Writer) compressor(method uint16) Compressor {
	comp := w.compressors[method]
	if comp == nil {
		comp = compressor(method)
	}
	return comp
}

// Offset returns the position the next local header will be written at.
func (w *Writer) Offset() uint64 { return w.offset }

// Entries returns the descriptors written so far, in order.
func (w *Writer) Entries() []*FileHeader {
	out := make([]*FileHeader, len(w.dir))
	for i, h := range w.dir {
		c := *h
		out[i] = &c
	}
	return out
}

// prepare validates fh and returns the copy the writer owns. A raw copy
// keeps the stored MS-DOS date and time as they are.
func (w *Writer) prepare(fh *FileHeader, raw bool) (*FileHeader, error) {
	if w.closed {
		return nil, ErrClosed
	}
	if fh.Name == "" {
		return nil, errors.New("zip: empty entry name")
	}
	if len(fh.Name) > uint16max {
		return nil, errors.Errorf("zip: entry name of %d bytes too long", len(fh.Name))
	}
	if len(fh.Comment) > uint16max {
		return nil, errors.Errorf("zip: entry comment of %d bytes too long", len(fh.Comment))
	}
	h := *fh
	// Zip entry names always use forward slashes.
	h.Name = strings.Replace(h.Name, "\\", "/", -1)
	if _, dup := w.names[h.Name]; dup {
		return nil, errors.Errorf("zip: duplicate entry %q", h.Name)
	}

	utf8Valid1, utf8Require1 := detectUTF8(h.Name)
	utf8Valid2, utf8Require2 := detectUTF8(h.Comment)
	switch {
	case h.NonUTF8:
		h.Flags &^= flagUTF8
	case (utf8Require1 || utf8Require2) && (utf8Valid1 && utf8Valid2):
		h.Flags |= flagUTF8
	}

	switch {
	case raw:
	case !h.Modified.IsZero():
		h.ModifiedDate, h.ModifiedTime = timeToMsDosTime(h.Modified)
	case h.ModifiedDate == 0 && h.ModifiedTime == 0:
		h.Modified = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
		h.ModifiedDate, h.ModifiedTime = timeToMsDosTime(h.Modified)
	}

	h.CreatorVersion = h.CreatorVersion&0xff00 | zipVersion45
	if h.CreatorVersion>>8 == 0 && h.ExternalAttrs == 0 {
		h.CreatorVersion |= creatorUnix << 8
	}
	if h.Method == LZMA {
		h.Flags |= flagLZMAEOS
	} else {
		h.Flags &^= flagLZMAEOS
	}
	if h.isDir() {
		h.Method = Store
		h.UncompressedSize64 = 0
		h.CompressedSize64 = 0
		h.CRC32 = 0
	}
	h.Offset = w.offset
	return &h, nil
}

// Add writes an entry whose data is pulled from src and returns its final
// descriptor. fh.UncompressedSize64 is taken as a size hint for the first
// pass; fh.CompressedSize64 likewise. CRC-32 and sizes are computed from the
// data. src may be nil for directories.
func (w *Writer) Add(fh *FileHeader, src DataProvider) (*FileHeader, error) {
	h, err := w.prepare(fh, false)
	if err != nil {
		return nil, err
	}
	if h.Method == Store && h.CompressedSize64 == 0 {
		h.CompressedSize64 = h.UncompressedSize64
	}
	comp := w.compressor(h.Method)
	if comp == nil {
		return nil, errors.Wrapf(ErrAlgorithm, "method %d", h.Method)
	}
	if src == nil {
		if !h.isDir() {
			return nil, errors.Errorf("zip: no data source for %q", h.Name)
		}
		src = BytesProvider(nil)
	}

	t := w.cfg.Thresholds
	log := w.log.WithFields(logrus.Fields{"name": h.Name, "offset": h.Offset})
	for pass := 0; ; pass++ {
		planned := localPromotion(h, t)
		headerLen := localHeaderLen(h, t)
		if err := w.writeAt(buildLocalHeader(h, t), h.Offset); err != nil {
			return nil, err
		}
		crc, usize, csize, err := w.stream(h.Offset+uint64(headerLen), comp, src)
		if err != nil {
			return nil, errors.Wrapf(err, "write entry %q", h.Name)
		}
		h.CRC32, h.UncompressedSize64, h.CompressedSize64 = crc, usize, csize

		if localPromotion(h, t) == planned {
			if err := w.writeAt(buildLocalHeader(h, t), h.Offset); err != nil {
				return nil, err
			}
			w.offset = h.Offset + uint64(headerLen) + csize
			break
		}
		if pass > 0 {
			return nil, errors.Errorf("zip: entry %q changed size between passes", h.Name)
		}
		log.WithFields(logrus.Fields{
			"uncompressed": usize,
			"compressed":   csize,
		}).Debug("sizes crossed a threshold, re-streaming entry")
	}

	h.ReaderVersion = readerVersion(h.Method, directoryPromotion(h, t))
	w.dir = append(w.dir, h)
	w.names[h.Name] = struct{}{}
	log.WithFields(logrus.Fields{
		"method":       MethodName(h.Method),
		"uncompressed": h.UncompressedSize64,
		"compressed":   h.CompressedSize64,
		"zip64":        localPromotion(h, t).sizes,
	}).Debug("entry added")
	c := *h
	return &c, nil
}

// stream pulls src through comp into the store at off and returns the
// checksum and both sizes.
func (w *Writer) stream(off uint64, comp Compressor, src DataProvider) (crc uint32, usize, csize uint64, err error) {
	cw := &countWriter{w: io.NewOffsetWriter(w.s, int64(off))}
	zw, err := comp(cw)
	if err != nil {
		return 0, 0, 0, err
	}
	chunk := w.cfg.ChunkSize
	var pos int64
	for {
		p, err := src(pos, chunk)
		if err != nil && err != io.EOF {
			zw.Close()
			return 0, 0, 0, errors.Wrapf(err, "data provider at %d", pos)
		}
		if len(p) > chunk {
			zw.Close()
			return 0, 0, 0, errors.Errorf("zip: data provider returned %d bytes, asked for %d", len(p), chunk)
		}
		if len(p) > 0 {
			crc = w.cfg.Checksum(crc, p)
			if _, werr := zw.Write(p); werr != nil {
				zw.Close()
				return 0, 0, 0, werr
			}
			pos += int64(len(p))
		}
		if err == io.EOF || len(p) < chunk {
			break
		}
	}
	if err := zw.Close(); err != nil {
		return 0, 0, 0, err
	}
	return crc, uint64(pos), cw.count, nil
}

// CopyRaw writes an entry whose compressed data already exists in src at
// dataOffset. fh must carry the final CRC-32, sizes and method; a new local
// header is built for the current position and thresholds.
func (w *Writer) CopyRaw(fh *FileHeader, src io.ReaderAt, dataOffset int64) (*FileHeader, error) {
	crc, usize, csize := fh.CRC32, fh.UncompressedSize64, fh.CompressedSize64
	h, err := w.prepare(fh, true)
	if err != nil {
		return nil, err
	}
	h.CRC32, h.UncompressedSize64, h.CompressedSize64 = crc, usize, csize
	// The copy is written with its sizes in place, never with a descriptor.
	h.Flags &^= flagDataDescriptor

	header := buildLocalHeader(h, w.cfg.Thresholds)
	if err := w.writeAt(header, h.Offset); err != nil {
		return nil, err
	}
	dst := io.NewOffsetWriter(w.s, int64(h.Offset)+int64(len(header)))
	n, err := io.CopyBuffer(dst, io.NewSectionReader(src, dataOffset, int64(csize)), make([]byte, w.cfg.ChunkSize))
	if err != nil {
		return nil, errors.Wrapf(err, "copy entry %q", h.Name)
	}
	if uint64(n) != csize {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "copy entry %q: %d of %d bytes", h.Name, n, csize)
	}
	w.offset = h.Offset + uint64(len(header)) + csize
	h.ReaderVersion = readerVersion(h.Method, directoryPromotion(h, w.cfg.Thresholds))
	w.dir = append(w.dir, h)
	w.names[h.Name] = struct{}{}

	w.log.WithFields(logrus.Fields{
		"name":   h.Name,
		"offset": h.Offset,
		"bytes":  csize,
	}).Debug("entry copied")
	c := *h
	return &c, nil
}

// Close writes the central directory and trailer chain and cuts the store
// off at the end of the archive. It does not close the store.
func (w *Writer) Close() error {
	if w.closed {
		return errors.New("zip: writer closed twice")
	}
	w.closed = true

	trailer, shape, err := BuildTrailer(w.dir, w.offset, w.cfg.Thresholds, w.comment)
	if err != nil {
		return err
	}
	if err := w.writeAt(trailer, w.offset); err != nil {
		return err
	}
	end := w.offset + uint64(len(trailer))
	if err := w.s.Truncate(int64(end)); err != nil {
		return errors.Wrap(err, "truncate archive")
	}
	w.offset = end
	w.trailer = shape

	w.log.WithFields(logrus.Fields{
		"entries":          shape.Records,
		"directory_offset": shape.DirectoryOffset,
		"directory_size":   shape.DirectorySize,
		"zip64":            shape.Zip64,
		"size":             end,
	}).Debug("archive finalized")
	return nil
}

// Size returns the archive length. It is final after Close.
func (w *Writer) Size() int64 { return int64(w.offset) }

// Trailer describes the trailer written by Close.
func (w *Writer) Trailer() Trailer { return w.trailer }

func (w *Writer) writeAt(p []byte, off uint64) error {
	if _, err := w.s.WriteAt(p, int64(off)); err != nil {
		return errors.Wrapf(err, "write %d bytes at offset %d", len(p), off)
	}
	return nil
}

type countWriter struct {
	w     io.Writer
	count uint64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += uint64(n)
	return n, err
}
