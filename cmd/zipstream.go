package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abe-nagisa/zip64/zip64"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract [archive]",
	Short: "Extract a local archive, or stream one from a URL",
	Args:  cobra.MaximumNArgs(1),
	RunE:  getStream,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.PersistentFlags().String("url", "", "read the archive from this URL with range requests")
	extractCmd.PersistentFlags().String("path", ".", "directory to extract into")
}

func getStream(c *cobra.Command, args []string) error {
	url, err := c.PersistentFlags().GetString("url")
	if err != nil {
		return err
	}
	src, err := archiveArg(args, url)
	if err != nil {
		return err
	}
	cfg, err := engineConfig()
	if err != nil {
		return err
	}
	zr, closer, err := openArchive(src, url, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	// create download location
	dir, err := c.PersistentFlags().GetString("path")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	for _, f := range zr.File {
		path, err := filePath(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return err
			}
			continue
		}
		if err := saveFileBody(f, path); err != nil {
			return errors.Wrapf(err, "extract %s", f.Name)
		}
		cfg.Logger.WithField("name", f.Name).Info("extracted")
	}
	return nil
}

// filePath maps an entry name below dir, refusing names that would escape
// it.
func filePath(dir, name string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("entry %q escapes %s", name, dir)
	}
	return p, nil
}

// saveFileBody decompresses f into path. The checksum is verified as the
// last bytes are read.
func saveFileBody(f *zip64.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	fp, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fp, rc); err != nil {
		fp.Close()
		return err
	}
	if err := fp.Close(); err != nil {
		return err
	}
	if !f.Modified.IsZero() {
		return os.Chtimes(path, f.Modified, f.Modified)
	}
	return nil
}
