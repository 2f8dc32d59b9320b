package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msageha/warden/internal/model"
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Governed task execution and service supervision",
	Long: `Warden watches a task queue, runs allowlisted commands, escalates
everything else for human approval, and keeps one HTTP service alive.

All state lives in a .warden/ directory next to your project. Run
warden init once to create it, then warden serve to start the daemon.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// findWardenDir walks up from the working directory until it finds a .warden
// workspace, mirroring how git finds its repository root.
func findWardenDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, ".warden")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .warden workspace found in %s or any parent (run `warden init` first)", cwd)
		}
		dir = parent
	}
}

// loadConfig layers config.yaml over the built-in defaults and validates the
// result. A missing file means pure defaults; a present-but-invalid file is
// an error, never a silent fallback.
func loadConfig(wardenDir string) (model.Config, error) {
	cfg := model.DefaultConfig()

	data, err := os.ReadFile(filepath.Join(wardenDir, "config.yaml"))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config.yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}
