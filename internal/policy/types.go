// Package policy implements the escalation decision engine: a pure scoring
// function from task risk signals to an oversight tier. It performs no I/O
// and consults no clock, so every classification is reproducible from its
// inputs and the loaded configuration.
package policy

import (
	"fmt"
	"strings"
)

type Criticality string

const (
	CriticalityLow    Criticality = "low"
	CriticalityMedium Criticality = "medium"
	CriticalityHigh   Criticality = "high"
)

func ParseCriticality(s string) (Criticality, error) {
	switch Criticality(strings.ToLower(s)) {
	case CriticalityLow:
		return CriticalityLow, nil
	case CriticalityMedium:
		return CriticalityMedium, nil
	case CriticalityHigh:
		return CriticalityHigh, nil
	}
	return "", fmt.Errorf("unknown criticality %q (expected low, medium, high)", s)
}

func (c Criticality) severity() float64 {
	switch c {
	case CriticalityLow:
		return 0.0
	case CriticalityMedium:
		return 0.5
	default:
		// unknown values score as high
		return 1.0
	}
}

type Sensitivity string

const (
	SensitivityPublic     Sensitivity = "public"
	SensitivityInternal   Sensitivity = "internal"
	SensitivityRestricted Sensitivity = "restricted"
)

func ParseSensitivity(s string) (Sensitivity, error) {
	switch Sensitivity(strings.ToLower(s)) {
	case SensitivityPublic:
		return SensitivityPublic, nil
	case SensitivityInternal:
		return SensitivityInternal, nil
	case SensitivityRestricted:
		return SensitivityRestricted, nil
	}
	return "", fmt.Errorf("unknown sensitivity %q (expected public, internal, restricted)", s)
}

func (s Sensitivity) severity() float64 {
	switch s {
	case SensitivityPublic:
		return 0.0
	case SensitivityInternal:
		return 0.5
	default:
		return 1.0
	}
}

// Tier is the oversight level a decision lands in, ordered by how much of a
// human the work requires: HOOTL runs unattended, HOTL runs while a human
// watches, HITL waits for a human to act.
type Tier int

const (
	TierHOOTL Tier = iota
	TierHOTL
	TierHITL
)

func (t Tier) String() string {
	switch t {
	case TierHOOTL:
		return "HOOTL"
	case TierHOTL:
		return "HOTL"
	case TierHITL:
		return "HITL"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(s) {
	case "HOOTL":
		return TierHOOTL, nil
	case "HOTL":
		return TierHOTL, nil
	case "HITL":
		return TierHITL, nil
	}
	return TierHITL, fmt.Errorf("unknown tier %q (expected HOOTL, HOTL, HITL)", s)
}

// Input is one classification request. Persona is optional; empty means the
// caller acts under no persona and no floor applies.
type Input struct {
	Confidence  float64
	Criticality Criticality
	Sensitivity Sensitivity
	Persona     string
}

// Decision is the engine's verdict. Confidence echoes the clamped value that
// was actually scored. PersonaFloor is set when the input persona has a
// configured floor, whether or not the floor changed the tier.
type Decision struct {
	Score        float64
	Tier         Tier
	Confidence   float64
	PersonaFloor *Tier
}
