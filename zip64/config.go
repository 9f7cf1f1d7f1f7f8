package zip64

import (
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultChunkSize is the largest chunk requested from a DataProvider when
// Config.ChunkSize is zero.
const DefaultChunkSize = 64 << 10

// ChecksumFunc folds p into a running checksum, the way crc32.Update does.
type ChecksumFunc func(crc uint32, p []byte) uint32

// Config carries the settings of one build or parse session. The zero value
// selects the classic thresholds, 64 KiB chunks, CRC-32 (IEEE) and no
// logging.
type Config struct {
	Thresholds Thresholds
	ChunkSize  int
	Checksum   ChecksumFunc
	Logger     logrus.FieldLogger
}

func ieeeChecksum(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, p)
}

// withDefaults fills unset fields and validates the result.
func (c Config) withDefaults() (Config, error) {
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds
	}
	if err := c.Thresholds.Validate(); err != nil {
		return c, err
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkSize < 0 {
		return c, errors.Errorf("zip: negative chunk size %d", c.ChunkSize)
	}
	if c.Checksum == nil {
		c.Checksum = ieeeChecksum
	}
	if c.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		c.Logger = l
	}
	return c, nil
}
