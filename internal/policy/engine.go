package policy

import (
	"fmt"

	"github.com/msageha/warden/internal/model"
)

// Engine maps (confidence, criticality, sensitivity, persona) to an
// escalation decision. The score is a weighted blend of inverse confidence
// and the two severity axes; because every weight is positive and the two
// tier thresholds are fixed, raising any risk axis can only raise the tier,
// never lower it.
type Engine struct {
	lowThreshold  float64
	highThreshold float64

	wConfidence  float64
	wCriticality float64
	wSensitivity float64

	personaFloors map[string]Tier
}

// NewEngine compiles an escalation config into an engine. Zero-valued fields
// take the documented defaults; persona floor tiers must parse (config
// validation reports them with field paths before this runs).
func NewEngine(cfg model.EscalationConfig) (*Engine, error) {
	e := &Engine{
		lowThreshold:  cfg.LowThreshold,
		highThreshold: cfg.HighThreshold,
		wConfidence:   cfg.Weights.Confidence,
		wCriticality:  cfg.Weights.Criticality,
		wSensitivity:  cfg.Weights.Sensitivity,
		personaFloors: make(map[string]Tier, len(cfg.PersonaFloors)),
	}
	applyEngineDefaults(e)

	if e.lowThreshold >= e.highThreshold {
		return nil, fmt.Errorf("escalation thresholds inverted: low %.2f >= high %.2f", e.lowThreshold, e.highThreshold)
	}
	for persona, raw := range cfg.PersonaFloors {
		tier, err := ParseTier(raw)
		if err != nil {
			return nil, fmt.Errorf("persona floor %s: %w", persona, err)
		}
		e.personaFloors[persona] = tier
	}
	return e, nil
}

func applyEngineDefaults(e *Engine) {
	if e.lowThreshold == 0 && e.highThreshold == 0 {
		e.lowThreshold = 0.35
		e.highThreshold = 0.65
	}
	if e.wConfidence == 0 && e.wCriticality == 0 && e.wSensitivity == 0 {
		e.wConfidence = 0.5
		e.wCriticality = 0.25
		e.wSensitivity = 0.25
	}
}

// Classify scores one input and picks its tier. Confidence outside [0, 1] is
// clamped to the nearest bound rather than rejected. When the persona has a
// configured floor the final tier is the higher of the computed tier and the
// floor.
func (e *Engine) Classify(in Input) Decision {
	conf := clamp01(in.Confidence)
	score := clamp01(e.wConfidence*(1.0-conf) +
		e.wCriticality*in.Criticality.severity() +
		e.wSensitivity*in.Sensitivity.severity())

	tier := TierHOOTL
	if score >= e.lowThreshold {
		tier = TierHOTL
	}
	if score >= e.highThreshold {
		tier = TierHITL
	}

	d := Decision{Score: score, Tier: tier, Confidence: conf}
	if in.Persona != "" {
		if floor, ok := e.personaFloors[in.Persona]; ok {
			f := floor
			d.PersonaFloor = &f
			if floor > d.Tier {
				d.Tier = floor
			}
		}
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
