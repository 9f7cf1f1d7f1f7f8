package cmd

import (
	"context"
	"io"
	"os"

	"github.com/abe-nagisa/zip64/zip64"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using warning")
		lvl = logrus.WarnLevel
	}
	log.SetLevel(lvl)
	return log
}

// engineConfig builds the archive settings from flags, environment and the
// config file.
func engineConfig() (zip64.Config, error) {
	cfg := zip64.Config{
		Thresholds: zip64.Thresholds{
			Max32: viper.GetUint64("max32"),
			Max16: viper.GetUint64("max16"),
		},
		ChunkSize: viper.GetInt("chunk-size"),
		Logger:    newLogger(viper.GetString("log-level")),
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return cfg, err
	}
	if cfg.ChunkSize <= 0 {
		return cfg, errors.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	return cfg, nil
}

// openArchive parses a local archive, or the one at url when url is set.
// The returned closer releases the local file.
func openArchive(path, url string, cfg zip64.Config) (*zip64.Reader, io.Closer, error) {
	if url != "" {
		h, err := zip64.NewHTTPReaderAt(context.Background(), nil, url)
		if err != nil {
			return nil, nil, err
		}
		zr, err := zip64.NewReader(h, h.Size(), cfg)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "parse %s", url)
		}
		return zr, io.NopCloser(nil), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	zr, err := zip64.NewReader(f, fi.Size(), cfg)
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "parse %s", path)
	}
	return zr, f, nil
}
