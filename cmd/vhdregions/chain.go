package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vhdregions"
)

var chainCmd = &cobra.Command{
	Use:                   "chain IMAGE...",
	Short:                 "Merge the allocated regions of a backup chain into one coalesced list",
	Long: `chain enumerates the allocated regions of every image in the given
order and merges them into a single sorted, non-overlapping, coalesced list.
Pass the images parent-first (the base disk, then each differencing disk in
turn).`,
	Args:                  cobra.MinimumNArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Debugf("merging %d image(s)", len(args))

		parser, err := vhdregions.NewParser(args[0])
		if err != nil {
			return err
		}

		regions, err := vhdregions.MergeChain(parser, args)
		if err != nil {
			return err
		}

		printAreas("chain", regions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chainCmd)
}
