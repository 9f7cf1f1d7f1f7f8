package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <archive>",
	Short: "Check every entry's headers, placement and checksum",
	Args:  cobra.ExactArgs(1),
	RunE:  verify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func verify(c *cobra.Command, args []string) error {
	cfg, err := engineConfig()
	if err != nil {
		return err
	}
	zr, closer, err := openArchive(args[0], "", cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := zr.Verify(); err != nil {
		return err
	}
	layout := "classic"
	if zr.Trailer.Zip64 {
		layout = "zip64"
	}
	fmt.Fprintf(c.OutOrStdout(), "%s: %d entries ok (%s trailer)\n", args[0], len(zr.File), layout)
	return nil
}
