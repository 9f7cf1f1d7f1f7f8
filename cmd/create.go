package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/abe-nagisa/zip64/zip64"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <archive> <file>...",
	Short: "Create an archive from files and directories",
	Args:  cobra.MinimumNArgs(2),
	RunE:  create,
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().String("method", "deflate", "compression method (store, deflate, lzma, zstd)")
	createCmd.Flags().String("comment", "", "archive comment")
}

func create(c *cobra.Command, args []string) error {
	cfg, err := engineConfig()
	if err != nil {
		return err
	}
	name, err := c.Flags().GetString("method")
	if err != nil {
		return err
	}
	method, err := zip64.ParseMethod(name)
	if err != nil {
		return err
	}
	comment, err := c.Flags().GetString("comment")
	if err != nil {
		return err
	}

	out, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer out.Close()

	w, err := zip64.NewWriter(out, cfg)
	if err != nil {
		return err
	}
	if err := w.SetComment(comment); err != nil {
		return err
	}
	for _, root := range args[1:] {
		if err := addTree(w, root, method); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Fprintf(c.OutOrStdout(), "%s: %d entries, %d bytes\n", args[0], len(w.Entries()), w.Size())
	return out.Close()
}

// addTree adds root and, for a directory, everything below it. Entry names
// are relative to the parent of root.
func addTree(w *zip64.Writer, root string, method uint16) error {
	base := filepath.Dir(filepath.Clean(root))
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if name == "." {
			return nil
		}
		if strings.HasPrefix(name, "../") || name == ".." {
			return errors.Errorf("%s is outside %s", path, base)
		}
		switch {
		case info.IsDir():
			fh := &zip64.FileHeader{Name: name + "/", Modified: info.ModTime()}
			fh.SetMode(info.Mode())
			_, err = w.Add(fh, nil)
			return err
		case info.Mode().IsRegular():
			return addFile(w, path, name, info, method)
		}
		// sockets, devices and links are not archived
		return nil
	})
}

func addFile(w *zip64.Writer, path, name string, info os.FileInfo, method uint16) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fh := &zip64.FileHeader{
		Name:               name,
		Method:             method,
		Modified:           info.ModTime(),
		UncompressedSize64: uint64(info.Size()),
	}
	fh.SetMode(info.Mode())
	_, err = w.Add(fh, zip64.ReaderAtProvider(f, info.Size()))
	return err
}
