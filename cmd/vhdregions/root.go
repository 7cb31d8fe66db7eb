package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "vhdregions",
	Short: "Inspect allocated regions of VHD and VHDX images",
	Long: `vhdregions reads VHD and VHDX virtual hard disk images and reports the
byte ranges that actually hold data, without interpreting the filesystem
inside them.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose || os.Getenv("VHDREGIONS_VERBOSE") != "" {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	log.SetFormatter(&log.TextFormatter{})
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging (or set VHDREGIONS_VERBOSE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
