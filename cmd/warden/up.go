package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/lifecycle"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the daemon in the background",
	Long: `Start the daemon as a detached background process.

Waits until the admin socket answers before returning. Refuses to start
when another daemon already holds the workspace lock.`,
	Args: cobra.NoArgs,
	RunE: runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the background daemon",
	Long: `Stop a daemon started with warden up.

Sends shutdown over the admin socket and waits for the daemon to exit.
When no daemon answers, clears any stale socket and lock a crashed daemon
left behind.`,
	Args: cobra.NoArgs,
	RunE: runDown,
}

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	wardenDir, err := findWardenDir()
	if err != nil {
		return err
	}
	// Validate config before spawning: a broken config.yaml should fail
	// here, not in a background process whose error nobody sees.
	if _, err := loadConfig(wardenDir); err != nil {
		return err
	}
	return lifecycle.Up(wardenDir, os.Stdout)
}

func runDown(cmd *cobra.Command, args []string) error {
	wardenDir, err := findWardenDir()
	if err != nil {
		return err
	}
	return lifecycle.Down(wardenDir, os.Stdout)
}
