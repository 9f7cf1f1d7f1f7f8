package zip64

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz/lzma"
)

// Entries of method 14 start with a four byte header (LZMA SDK version and
// properties length) followed by the five property bytes and the raw LZMA
// stream. The classic .lzma header written by the encoder carries the same
// five bytes plus an eight byte size, which zip drops.
const (
	lzmaPropsLen         = 5
	lzmaClassicHeaderLen = lzmaPropsLen + 8
	lzmaSDKMajor         = 9
	lzmaSDKMinor         = 20
)

func newLZMAWriter(w io.Writer) (io.WriteCloser, error) {
	hw := &lzmaHeaderWriter{w: w}
	cfg := lzma.WriterConfig{EOSMarker: true}
	lw, err := cfg.NewWriter(hw)
	if err != nil {
		return nil, errors.Wrap(err, "lzma writer")
	}
	return lw, nil
}

// lzmaHeaderWriter rewrites the classic header into the zip form and
// passes the stream through.
type lzmaHeaderWriter struct {
	w      io.Writer
	header []byte
	done   bool
}

func (h *lzmaHeaderWriter) Write(p []byte) (int, error) {
	n := len(p)
	if !h.done {
		need := lzmaClassicHeaderLen - len(h.header)
		if len(p) < need {
			h.header = append(h.header, p...)
			return n, nil
		}
		h.header = append(h.header, p[:need]...)
		p = p[need:]
		h.done = true

		zh := make([]byte, 4, 4+lzmaPropsLen)
		zh[0], zh[1] = lzmaSDKMajor, lzmaSDKMinor
		binary.LittleEndian.PutUint16(zh[2:], lzmaPropsLen)
		zh = append(zh, h.header[:lzmaPropsLen]...)
		if _, err := h.w.Write(zh); err != nil {
			return 0, err
		}
	}
	if len(p) > 0 {
		if _, err := h.w.Write(p); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func newLZMAReader(r io.Reader) (io.ReadCloser, error) {
	var zh [4]byte
	if _, err := io.ReadFull(r, zh[:]); err != nil {
		return nil, errors.Wrap(err, "lzma header")
	}
	if n := binary.LittleEndian.Uint16(zh[2:]); n != lzmaPropsLen {
		return nil, errors.Wrapf(ErrFormat, "lzma properties length %d", n)
	}
	classic := make([]byte, lzmaClassicHeaderLen)
	if _, err := io.ReadFull(r, classic[:lzmaPropsLen]); err != nil {
		return nil, errors.Wrap(err, "lzma properties")
	}
	// unknown size: the stream ends with an EOS marker
	for i := lzmaPropsLen; i < lzmaClassicHeaderLen; i++ {
		classic[i] = 0xff
	}
	lr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(classic), r))
	if err != nil {
		return nil, errors.Wrap(err, "lzma reader")
	}
	return io.NopCloser(lr), nil
}
