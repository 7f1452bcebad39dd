package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hdlforge/crucible"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of crucible",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crucible version %s\n", crucible.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
