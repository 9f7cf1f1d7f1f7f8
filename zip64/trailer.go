package zip64

import (
	"github.com/pkg/errors"
)

// Trailer describes the shape of a finalized trailer chain.
type Trailer struct {
	DirectoryOffset uint64 // absolute position of the first central directory record
	DirectorySize   uint64 // byte length of all central directory records
	Records         uint64
	Zip64           bool // zip64 record and locator were emitted
}

// BuildTrailer returns the central directory, the zip64 end record and
// locator when needed, and the classic end record for entries whose local
// headers are already in place. cdOffset is where the returned bytes will be
// written. The result depends only on its arguments.
func BuildTrailer(entries []*FileHeader, cdOffset uint64, t Thresholds, comment string) ([]byte, Trailer, error) {
	if err := t.Validate(); err != nil {
		return nil, Trailer{}, err
	}
	if len(comment) > uint16max {
		return nil, Trailer{}, errors.New("zip: archive comment too long")
	}

	size := 0
	for _, fh := range entries {
		size += directoryRecordLen(fh, t)
	}
	d := &directoryEnd{
		dirRecordsThisDisk: uint64(len(entries)),
		directoryRecords:   uint64(len(entries)),
		directorySize:      uint64(size),
		directoryOffset:    cdOffset,
		comment:            comment,
	}
	zip64 := endPromotion(d.directoryRecords, d.directorySize, d.directoryOffset, t)

	n := size + directoryEndLen + len(comment)
	if zip64 {
		n += directory64EndLen + directory64LocLen
	}
	buf := make([]byte, 0, n)
	for _, fh := range entries {
		buf = append(buf, buildDirectoryRecord(fh, t)...)
	}
	if zip64 {
		buf = append(buf, buildDirectory64End(d)...)
		buf = append(buf, buildLocator(cdOffset+d.directorySize)...)
	}
	buf = append(buf, buildDirectoryEnd(d, zip64)...)

	return buf, Trailer{
		DirectoryOffset: cdOffset,
		DirectorySize:   d.directorySize,
		Records:         d.directoryRecords,
		Zip64:           zip64,
	}, nil
}
