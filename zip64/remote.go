package zip64

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HTTPReaderAt reads a remote archive with HTTP range requests, so that
// listing an archive or pulling one entry only transfers the bytes the
// parser asks for.
type HTTPReaderAt struct {
	ctx    context.Context
	client *http.Client
	url    string
	size   int64
}

// NewHTTPReaderAt resolves the length of the resource at url and returns a
// reader over it. Requests are bound to ctx. A nil client means
// http.DefaultClient.
func NewHTTPReaderAt(ctx context.Context, client *http.Client, url string) (*HTTPReaderAt, error) {
	if client == nil {
		client = http.DefaultClient
	}
	h := &HTTPReaderAt{ctx: ctx, client: client, url: url}
	size, err := h.contentLength()
	if err != nil {
		return nil, err
	}
	h.size = size
	return h, nil
}

// Size returns the length of the remote resource.
func (h *HTTPReaderAt) Size() int64 { return h.size }

// ReadAt implements io.ReaderAt.
func (h *HTTPReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("zip: negative offset")
	}
	if off >= h.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := len(p)
	if rem := h.size - off; int64(n) > rem {
		n = int(rem)
	}
	body, err := h.getRange(off, off+int64(n)-1)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	m, err := io.ReadFull(body, p[:n])
	if err != nil {
		return m, errors.Wrapf(err, "read range at %d", off)
	}
	if n < len(p) {
		return m, io.EOF
	}
	return m, nil
}

// getRange requests the inclusive byte range [from, to].
func (h *HTTPReaderAt) getRange(from, to int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build range request")
	}
	// set download ranges
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", from, to))

	res, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %s", h.url)
	}
	switch res.StatusCode {
	case http.StatusPartialContent:
		return res.Body, nil
	case http.StatusOK:
		// The server ignored the range; skip to the start of it.
		if _, err := io.CopyN(io.Discard, res.Body, from); err != nil {
			res.Body.Close()
			return nil, errors.Wrapf(err, "skip to offset %d", from)
		}
		return res.Body, nil
	}
	res.Body.Close()
	return nil, errors.Errorf("zip: GET %s: unexpected status %s", h.url, res.Status)
}

// contentLength asks for the resource length with HEAD, falling back to a
// one byte range request when the server does not report it.
func (h *HTTPReaderAt) contentLength() (int64, error) {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodHead, h.url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "build HEAD request")
	}
	res, err := h.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "HEAD %s", h.url)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK && res.ContentLength >= 0 {
		return res.ContentLength, nil
	}

	req, err = http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "build range request")
	}
	req.Header.Set("Range", "bytes=0-0")
	res, err = h.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "GET %s", h.url)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK && res.ContentLength >= 0 {
		return res.ContentLength, nil
	}
	if res.StatusCode != http.StatusPartialContent {
		return 0, errors.Errorf("zip: GET %s: cannot determine length, status %s", h.url, res.Status)
	}
	// Content-Range: bytes 0-0/<size>
	cr := res.Header.Get("Content-Range")
	i := strings.LastIndexByte(cr, '/')
	if i < 0 {
		return 0, errors.Errorf("zip: GET %s: bad Content-Range %q", h.url, cr)
	}
	size, err := strconv.ParseInt(cr[i+1:], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse Content-Range %q", cr)
	}
	return size, nil
}
