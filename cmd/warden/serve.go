package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/daemon"
)

var serveLogLevel string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warden daemon in the foreground",
	Long: `Run the warden daemon in the foreground.

The daemon watches queue/inbound for task descriptors, runs allowlisted
commands, parks everything else on approval markers, supervises the
configured service, and answers admin requests on .warden/daemon.sock.
It shuts down cleanly on SIGTERM or SIGINT.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "override logging.level for this run")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	wardenDir, err := findWardenDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(wardenDir)
	if err != nil {
		return err
	}
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}

	d, err := daemon.New(wardenDir, cfg)
	if err != nil {
		return err
	}
	return d.Run()
}
