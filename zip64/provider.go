package zip64

import (
	"io"

	"github.com/pkg/errors"
)

// DataProvider supplies entry data on demand. It is called with increasing
// positions starting at zero and returns at most max bytes from pos. A
// chunk shorter than max, or io.EOF, marks the end of the data. A provider
// must be able to start over at position zero: the writer re-reads an entry
// when compression moves its sizes across a threshold.
//
// The returned slice is only used until the next call.
type DataProvider func(pos int64, max int) ([]byte, error)

// BytesProvider serves data from memory.
func BytesProvider(data []byte) DataProvider {
	return func(pos int64, max int) ([]byte, error) {
		if pos >= int64(len(data)) {
			return nil, io.EOF
		}
		end := pos + int64(max)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		return data[pos:end], nil
	}
}

// ReaderAtProvider serves size bytes from r, reusing one chunk buffer.
func ReaderAtProvider(r io.ReaderAt, size int64) DataProvider {
	var buf []byte
	return func(pos int64, max int) ([]byte, error) {
		if pos >= size {
			return nil, io.EOF
		}
		if rem := size - pos; rem < int64(max) {
			max = int(rem)
		}
		if cap(buf) < max {
			buf = make([]byte, max)
		}
		n, err := r.ReadAt(buf[:max], pos)
		if n == max {
			return buf[:n], nil
		}
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrapf(err, "read entry data at %d", pos)
	}
}
