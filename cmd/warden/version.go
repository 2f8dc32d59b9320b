package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/daemon"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warden version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("warden %s\n", daemon.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
