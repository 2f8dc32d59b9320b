package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/setup"
)

var initName string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a .warden workspace in the current directory",
	Long: `Initialize a .warden workspace in the current directory.

This creates the queue, approvals, state, and log directories plus a
config.yaml you should review before starting the daemon.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "project name (defaults to the directory name)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if err := setup.Run(cwd, initName); err != nil {
		return err
	}

	fmt.Printf("Initialized warden workspace in %s\n", filepath.Join(cwd, ".warden"))
	fmt.Println("Review .warden/config.yaml, then start the daemon with: warden serve")
	return nil
}
