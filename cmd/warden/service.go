package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/daemon"
	"github.com/msageha/warden/internal/model"
	"github.com/msageha/warden/internal/uds"
)

var servicePort int

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Control the supervised service through the daemon",
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Ask the daemon to start the supervised service",
	Long: `Ask the daemon to start the supervised service.

The daemon probes the port before spawning and refuses to start when the
port is already bound or the service is already running.`,
	Args: cobra.NoArgs,
	RunE: runServiceStart,
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the daemon to stop the supervised service",
	Args:  cobra.NoArgs,
	RunE:  runServiceStop,
}

func init() {
	serviceStartCmd.Flags().IntVar(&servicePort, "port", 0, "override the configured port")
	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStopCmd)
	rootCmd.AddCommand(serviceCmd)
}

func daemonClient() (*uds.Client, error) {
	wardenDir, err := findWardenDir()
	if err != nil {
		return nil, err
	}
	return uds.NewClient(filepath.Join(wardenDir, uds.DefaultSocketName)), nil
}

func runServiceStart(cmd *cobra.Command, args []string) error {
	client, err := daemonClient()
	if err != nil {
		return err
	}

	resp, err := client.SendCommand("request-start", daemon.StartParams{Port: servicePort})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}

	var rec model.ServiceRecord
	if err := json.Unmarshal(resp.Data, &rec); err == nil && rec.Name != "" {
		pid := 0
		if rec.PID != nil {
			pid = *rec.PID
		}
		fmt.Printf("Started %s (pid %d, port %d)\n", rec.Name, pid, rec.Port)
	} else {
		fmt.Println("Service started")
	}
	return nil
}

func runServiceStop(cmd *cobra.Command, args []string) error {
	client, err := daemonClient()
	if err != nil {
		return err
	}

	resp, err := client.SendCommand("request-stop", nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}

	fmt.Println("Service stopped")
	return nil
}
