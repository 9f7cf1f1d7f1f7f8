package zip64

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// A Compressor returns a new compressing writer, writing to w. The
// WriteCloser's Close method must flush pending data to w. It must not
// close w.
type Compressor func(w io.Writer) (io.WriteCloser, error)

// A Decompressor returns a new decompressing reader, reading from r.
type Decompressor func(r io.Reader) (io.ReadCloser, error)

var (
	compressors   sync.Map // map[uint16]Compressor
	decompressors sync.Map // map[uint16]Decompressor
)

func init() {
	compressors.Store(Store, Compressor(func(w io.Writer) (io.WriteCloser, error) { return &nopCloser{w}, nil }))
	compressors.Store(Deflate, Compressor(newFlateWriter))
	compressors.Store(Zstd, Compressor(newZstdWriter))
	compressors.Store(LZMA, Compressor(newLZMAWriter))

	decompressors.Store(Store, Decompressor(func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil }))
	decompressors.Store(Deflate, Decompressor(newFlateReader))
	decompressors.Store(Zstd, Decompressor(newZstdReader))
	decompressors.Store(LZMA, Decompressor(newLZMAReader))
}

// RegisterCompressor registers or overrides a compressor for a method ID
// for every Writer.
func RegisterCompressor(method uint16, comp Compressor) {
	compressors.Store(method, comp)
}

// RegisterDecompressor registers or overrides a decompressor for a method
// ID for every Reader.
func RegisterDecompressor(method uint16, dcomp Decompressor) {
	decompressors.Store(method, dcomp)
}

func compressor(method uint16) Compressor {
	ci, ok := compressors.Load(method)
	if !ok {
		return nil
	}
	return ci.(Compressor)
}

func decompressor(method uint16) Decompressor {
	di, ok := decompressors.Load(method)
	if !ok {
		return nil
	}
	return di.(Decompressor)
}

// MethodName returns a short name for known compression methods.
func MethodName(method uint16) string {
	switch method {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case LZMA:
		return "lzma"
	case Zstd:
		return "zstd"
	}
	return "unknown"
}

// ParseMethod is the inverse of MethodName.
func ParseMethod(name string) (uint16, error) {
	for _, m := range []uint16{Store, Deflate, LZMA, Zstd} {
		if MethodName(m) == name {
			return m, nil
		}
	}
	return 0, errors.Wrapf(ErrAlgorithm, "method %q", name)
}

var flateWriterPool sync.Pool

func newFlateWriter(w io.Writer) (io.WriteCloser, error) {
	fw, ok := flateWriterPool.Get().(*flate.Writer)
	if ok {
		fw.Reset(w)
	} else {
		var err error
		if fw, err = flate.NewWriter(w, flate.DefaultCompression); err != nil {
			return nil, errors.Wrap(err, "deflate writer")
		}
	}
	return &pooledFlateWriter{fw: fw}, nil
}

type pooledFlateWriter struct {
	mu sync.Mutex // guards Close and Write
	fw *flate.Writer
}

func (w *pooledFlateWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fw == nil {
		return 0, errors.New("zip: write to closed deflate writer")
	}
	return w.fw.Write(p)
}

func (w *pooledFlateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.fw != nil {
		err = w.fw.Close()
		flateWriterPool.Put(w.fw)
		w.fw = nil
	}
	return err
}

func newFlateReader(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

func newZstdWriter(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, errors.Wrap(err, "zstd writer")
	}
	return enc, nil
}

func newZstdReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "zstd reader")
	}
	return dec.IOReadCloser(), nil
}

type nopCloser struct {
	io.Writer
}

func (w nopCloser) Close() error {
	return nil
}
