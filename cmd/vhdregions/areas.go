package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"vhdregions"
)

var areasCmd = &cobra.Command{
	Use:                   "areas IMAGE",
	Short:                 "List the allocated regions of a single VHD or VHDX image",
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		log.Debugf("opening %s", path)

		parser, err := vhdregions.OpenImage(path)
		if err != nil {
			return err
		}
		defer parser.Close()

		regions, err := parser.EnumerateAreas()
		if err != nil {
			return err
		}

		printAreas(path, regions)
		return nil
	},
}

func printAreas(path string, regions []vhdregions.DataArea) {
	fmt.Printf("%s: %d region(s)\n", path, len(regions))
	for _, r := range regions {
		start := uint64(r.Offset) * 1024 * 1024
		length := uint64(r.Length) * 1024 * 1024
		fmt.Printf("  %10d MiB + %6d MiB  (%s @ %s)\n",
			r.Offset, r.Length, humanize.IBytes(length), humanize.IBytes(start))
	}
}

func init() {
	rootCmd.AddCommand(areasCmd)
}
