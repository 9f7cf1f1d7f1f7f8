package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/abe-nagisa/zip64/zip64"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [archive]",
	Short: "List the entries of a local or remote archive",
	Args:  cobra.MaximumNArgs(1),
	RunE:  list,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("url", "", "read the archive from this URL with range requests")
}

func list(c *cobra.Command, args []string) error {
	url, err := c.Flags().GetString("url")
	if err != nil {
		return err
	}
	path, err := archiveArg(args, url)
	if err != nil {
		return err
	}
	cfg, err := engineConfig()
	if err != nil {
		return err
	}
	zr, closer, err := openArchive(path, url, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tSIZE\tCOMPRESSED\tCRC32\tOFFSET\tMODIFIED\tNAME")
	for _, f := range zr.File {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%08x\t%d\t%s\t%s\n",
			zip64.MethodName(f.Method), f.UncompressedSize64, f.CompressedSize64,
			f.CRC32, f.Offset, f.Modified.Format("2006-01-02 15:04"), f.Name)
	}
	if zr.Comment != "" {
		fmt.Fprintf(tw, "\ncomment: %s\n", zr.Comment)
	}
	return tw.Flush()
}

// archiveArg returns the local archive path unless url names a remote one.
func archiveArg(args []string, url string) (string, error) {
	switch {
	case url != "" && len(args) > 0:
		return "", errors.New("give either an archive path or --url, not both")
	case url == "" && len(args) == 0:
		return "", errors.New("an archive path or --url is required")
	case url != "":
		return "", nil
	}
	return args[0], nil
}
