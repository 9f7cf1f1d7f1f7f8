package zip64

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Remove rebuilds the archive of the given size held by src into dst
// without the named entries. Surviving entries keep their order and
// compressed bytes; offsets are recomputed so the entries are contiguous,
// and every zip64 decision is made again for the new layout. The rebuilt
// archive is returned parsed.
//
// dst must not share storage with src.
func Remove(src io.ReaderAt, size int64, dst Storage, cfg Config, names ...string) (*Reader, error) {
	if len(names) == 0 {
		return nil, errors.New("zip: no entry to remove")
	}
	zr, err := NewReader(src, size, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "parse source archive")
	}
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		if _, err := zr.Lookup(name); err != nil {
			return nil, err
		}
		drop[name] = true
	}

	w, err := NewWriter(dst, cfg)
	if err != nil {
		return nil, err
	}
	if err := w.SetComment(zr.Comment); err != nil {
		return nil, err
	}
	log := w.cfg.Logger.WithField("component", "remove")
	for _, f := range zr.File {
		if drop[f.Name] {
			log.WithFields(logrus.Fields{"name": f.Name, "offset": f.Offset}).Debug("entry dropped")
			continue
		}
		dataOff, err := f.DataOffset()
		if err != nil {
			return nil, err
		}
		fh := f.FileHeader
		nh, err := w.CopyRaw(&fh, src, dataOff)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"name": nh.Name,
			"from": f.Offset,
			"to":   nh.Offset,
		}).Debug("entry moved")
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return NewReader(dst, w.Size(), cfg)
}
