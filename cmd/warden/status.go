package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/status"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, queue, and service status",
	Long: `Show daemon, queue, and service status.

Asks the running daemon over its socket; when no daemon is up, reads the
workspace directly (counts may lag a live run).`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	wardenDir, err := findWardenDir()
	if err != nil {
		return err
	}
	return status.Run(wardenDir, statusJSON, os.Stdout)
}
