package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/warden/internal/policy"
)

var (
	classifyConfidence  float64
	classifyCriticality string
	classifySensitivity string
	classifyPersona     string
	classifyJSON        bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Score risk signals and report the oversight tier",
	Long: `Score risk signals and report the oversight tier.

Runs the same engine the daemon uses, against the workspace config, without
touching the queue. Useful for tuning thresholds and persona floors.

Examples:
  warden classify --confidence 0.95 --criticality low --sensitivity public
  warden classify --confidence 0.2 --criticality high --sensitivity restricted --json`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().Float64Var(&classifyConfidence, "confidence", 1.0, "agent confidence in [0,1]")
	classifyCmd.Flags().StringVar(&classifyCriticality, "criticality", "low", "task criticality: low, medium, high")
	classifyCmd.Flags().StringVar(&classifySensitivity, "sensitivity", "public", "data sensitivity: public, internal, restricted")
	classifyCmd.Flags().StringVar(&classifyPersona, "persona", "", "persona whose floor applies")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "emit machine-readable JSON")
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	wardenDir, err := findWardenDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(wardenDir)
	if err != nil {
		return err
	}

	// Unlike the queue path, which lets unknown hint values score as maximum
	// severity, the CLI rejects them outright so typos surface immediately.
	crit, err := policy.ParseCriticality(classifyCriticality)
	if err != nil {
		return err
	}
	sens, err := policy.ParseSensitivity(classifySensitivity)
	if err != nil {
		return err
	}

	engine, err := policy.NewEngine(cfg.Escalation)
	if err != nil {
		return err
	}
	decision := engine.Classify(policy.Input{
		Confidence:  classifyConfidence,
		Criticality: crit,
		Sensitivity: sens,
		Persona:     classifyPersona,
	})

	if classifyJSON {
		out := map[string]any{
			"score":      decision.Score,
			"tier":       decision.Tier.String(),
			"confidence": decision.Confidence,
		}
		if decision.PersonaFloor != nil {
			out["persona_floor"] = decision.PersonaFloor.String()
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Score: %.3f\n", decision.Score)
	fmt.Printf("Tier:  %s\n", decision.Tier)
	if decision.PersonaFloor != nil {
		fmt.Printf("Floor: %s (persona %s)\n", decision.PersonaFloor, classifyPersona)
	}
	return nil
}
