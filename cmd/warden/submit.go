package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/model"
)

var (
	submitID          string
	submitConfidence  float64
	submitCriticality string
	submitSensitivity string
	submitPersona     string
)

var submitCmd = &cobra.Command{
	Use:   "submit <command>",
	Short: "Queue a task for the daemon",
	Long: `Queue a task descriptor for the daemon.

The command runs on the next scan if it starts with an allowlisted prefix;
otherwise it parks on an approval marker. Optional risk hints shape the
recorded escalation tier but never change whether approval is required.

Examples:
  warden submit "pytest -q"
  warden submit "deploy production" --confidence 0.4 --criticality high --sensitivity restricted
  warden submit "git push" --persona release-bot`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitID, "id", "", "task id (generated if empty)")
	submitCmd.Flags().Float64Var(&submitConfidence, "confidence", 1.0, "caller confidence in [0, 1]")
	submitCmd.Flags().StringVar(&submitCriticality, "criticality", "", "low | medium | high")
	submitCmd.Flags().StringVar(&submitSensitivity, "sensitivity", "", "public | internal | restricted")
	submitCmd.Flags().StringVar(&submitPersona, "persona", "", "persona the task runs under")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	wardenDir, err := findWardenDir()
	if err != nil {
		return err
	}

	id := submitID
	if id == "" {
		id = model.NewTaskID()
	}
	if err := model.ValidateTaskID(id); err != nil {
		return err
	}

	payload := map[string]any{"command": args[0]}
	if cmd.Flags().Changed("confidence") {
		payload["confidence"] = submitConfidence
	}
	if submitCriticality != "" {
		payload["criticality"] = submitCriticality
	}
	if submitSensitivity != "" {
		payload["sensitivity"] = submitSensitivity
	}
	if submitPersona != "" {
		payload["persona"] = submitPersona
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	data = append(data, '\n')

	inbound := filepath.Join(wardenDir, "queue", "inbound")
	if err := os.MkdirAll(inbound, 0755); err != nil {
		return fmt.Errorf("ensure inbound dir: %w", err)
	}

	final := filepath.Join(inbound, id+".json")
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("task %s is already queued", id)
	}

	// Write-then-rename so the watcher never sees a half-written descriptor.
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish descriptor: %w", err)
	}

	fmt.Printf("Queued task %s\n", id)
	return nil
}
