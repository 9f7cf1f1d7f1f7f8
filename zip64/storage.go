package zip64

import (
	"io"

	"github.com/pkg/errors"
)

// Storage is the random-access store an archive is assembled in. *os.File
// satisfies it.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
}

// Buffer is an in-memory Storage.
type Buffer struct {
	buf []byte
}

// NewBuffer returns a Buffer holding b. The Buffer takes ownership of b.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// ReadAt implements io.ReaderAt.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("zip: negative offset")
	}
	if off >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("zip: negative offset")
	}
	end := off + int64(len(p))
	if end > int64(len(b.buf)) {
		if end > int64(cap(b.buf)) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			old := int64(len(b.buf))
			b.buf = b.buf[:end]
			if off > old {
				clear(b.buf[old:off])
			}
		}
	}
	return copy(b.buf[off:], p), nil
}

// Truncate changes the size of the buffer. Growing pads with zeros.
func (b *Buffer) Truncate(size int64) error {
	if size < 0 {
		return errors.New("zip: negative size")
	}
	if size <= int64(len(b.buf)) {
		b.buf = b.buf[:size]
		return nil
	}
	_, err := b.WriteAt(make([]byte, size-int64(len(b.buf))), int64(len(b.buf)))
	return err
}

// Bytes returns the buffer contents. The slice aliases the buffer until the
// next write.
func (b *Buffer) Bytes() []byte { return b.buf }

// Size returns the buffer length.
func (b *Buffer) Size() int64 { return int64(len(b.buf)) }
