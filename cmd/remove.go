package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abe-nagisa/zip64/zip64"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <archive> <name>...",
	Short: "Remove entries from an archive",
	Long: `remove rebuilds the archive without the named entries. The remaining
entries are moved up, and the zip64 records are added or dropped to fit the
new layout. The archive is replaced only once the rebuild succeeded.`,
	Args: cobra.MinimumNArgs(2),
	RunE: remove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func remove(c *cobra.Command, args []string) (err error) {
	cfg, err := engineConfig()
	if err != nil {
		return err
	}
	path := args[0]
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".zip64-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zr, err := zip64.Remove(src, fi.Size(), tmp, cfg, args[1:]...)
	if err != nil {
		return err
	}
	if err = tmp.Chmod(fi.Mode().Perm()); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	fmt.Fprintf(c.OutOrStdout(), "%s: %d entries left, %d bytes\n", path, len(zr.File), zr.Size())
	return nil
}
