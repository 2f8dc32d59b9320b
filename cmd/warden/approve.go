package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/approval"
	"github.com/msageha/warden/internal/model"
)

var approveBy string

var approveCmd = &cobra.Command{
	Use:   "approve <task_id>",
	Short: "Approve a task parked on escalation",
	Long: `Approve a task parked on escalation.

This drops an approved marker next to the awaiting one; the daemon runs the
task on its next pass and consumes both markers. Approval covers a single
execution.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var denyCmd = &cobra.Command{
	Use:   "deny <task_id>",
	Short: "Deny a parked task and retire its descriptor",
	Long: `Deny a parked task.

Both approval markers are removed and the descriptor is moved out of the
inbox with a .denied suffix, so the daemon will not pick it up again.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeny,
}

func init() {
	approveCmd.Flags().StringVar(&approveBy, "by", "", "who approved (defaults to $USER)")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	wardenDir, err := findWardenDir()
	if err != nil {
		return err
	}
	taskID := args[0]
	if err := model.ValidateTaskID(taskID); err != nil {
		return err
	}

	gate, err := approval.NewGate(filepath.Join(wardenDir, "approvals"))
	if err != nil {
		return err
	}

	by := approveBy
	if by == "" {
		by = os.Getenv("USER")
	}
	if err := gate.Approve(taskID, by); err != nil {
		return err
	}

	fmt.Printf("Approved %s\n", taskID)
	return nil
}

func runDeny(cmd *cobra.Command, args []string) error {
	wardenDir, err := findWardenDir()
	if err != nil {
		return err
	}
	taskID := args[0]
	if err := model.ValidateTaskID(taskID); err != nil {
		return err
	}

	gate, err := approval.NewGate(filepath.Join(wardenDir, "approvals"))
	if err != nil {
		return err
	}
	if err := gate.Consume(taskID); err != nil {
		return err
	}

	// Retire the descriptor so the next scan does not re-park it.
	moved, err := retireDescriptor(wardenDir, taskID)
	if err != nil {
		return err
	}
	if moved {
		fmt.Printf("Denied %s and retired its descriptor\n", taskID)
	} else {
		fmt.Printf("Denied %s (no descriptor in the inbox)\n", taskID)
	}
	return nil
}

// retireDescriptor moves the task's inbound file to the outbound directory
// with a .denied suffix. Returns false when no descriptor matches the id.
func retireDescriptor(wardenDir, taskID string) (bool, error) {
	inbound := filepath.Join(wardenDir, "queue", "inbound")
	entries, err := os.ReadDir(inbound)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read inbound dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || model.TaskIDFromFilename(name) != taskID {
			continue
		}
		outbound := filepath.Join(wardenDir, "queue", "outbound")
		if err := os.MkdirAll(outbound, 0755); err != nil {
			return false, fmt.Errorf("ensure outbound dir: %w", err)
		}
		dst := filepath.Join(outbound, name+".denied")
		if err := os.Rename(filepath.Join(inbound, name), dst); err != nil {
			return false, fmt.Errorf("retire descriptor: %w", err)
		}
		return true, nil
	}
	return false, nil
}
