package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/abe-nagisa/zip64/zip64"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zip64",
	Short: "Build, inspect and edit zip archives of any size",
	Long: `zip64 writes and reads zip archives, switching to the zip64 extensions
only for the fields that overflow their classic width. Archives can be listed
and extracted from a local file or straight from an HTTP server that supports
range requests.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zip64.yaml)")
	pf.Uint64("max32", zip64.DefaultThresholds.Max32, "largest size or offset kept in a 32-bit field")
	pf.Uint64("max16", zip64.DefaultThresholds.Max16, "largest entry count kept in a 16-bit field")
	pf.Int("chunk-size", zip64.DefaultChunkSize, "bytes read per chunk while streaming entry data")
	pf.String("log-level", "warning", "log level (debug, info, warning, error)")
	if err := bindFlags(rootCmd, "max32", "max16", "chunk-size", "log-level"); err != nil {
		logrus.WithError(err).Fatal("bind configuration flags")
	}
}

// bindFlags makes the named persistent flags of c the source of the viper
// keys of the same name.
func bindFlags(c *cobra.Command, names ...string) error {
	for _, name := range names {
		f := c.PersistentFlags().Lookup(name)
		if f == nil {
			return errors.Errorf("no persistent flag %q on %s", name, c.Name())
		}
		if err := viper.BindPFlag(name, f); err != nil {
			return errors.Wrapf(err, "bind flag %q", name)
		}
	}
	return nil
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.SetConfigFile(path)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".zip64" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".zip64")
	}

	viper.SetEnvPrefix("zip64")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		newLogger(viper.GetString("log-level")).
			WithField("file", viper.ConfigFileUsed()).
			Debug("using config file")
	}
}
