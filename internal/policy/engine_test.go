package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/warden/internal/model"
)

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(model.DefaultConfig().Escalation)
	require.NoError(t, err)
	return e
}

func TestClassifyCalibration(t *testing.T) {
	e := defaultEngine(t)

	testCases := []struct {
		name  string
		input Input
		want  Tier
	}{
		{
			name:  "confident routine public work runs unattended",
			input: Input{Confidence: 0.95, Criticality: CriticalityLow, Sensitivity: SensitivityPublic},
			want:  TierHOOTL,
		},
		{
			name:  "middling internal work runs under observation",
			input: Input{Confidence: 0.6, Criticality: CriticalityMedium, Sensitivity: SensitivityInternal},
			want:  TierHOTL,
		},
		{
			name:  "doubtful critical restricted work waits for a human",
			input: Input{Confidence: 0.2, Criticality: CriticalityHigh, Sensitivity: SensitivityRestricted},
			want:  TierHITL,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Classify(tc.input)
			assert.Equal(t, tc.want, d.Tier)
			assert.GreaterOrEqual(t, d.Score, 0.0)
			assert.LessOrEqual(t, d.Score, 1.0)
		})
	}
}

func TestClassifyClampsConfidence(t *testing.T) {
	e := defaultEngine(t)

	over := e.Classify(Input{Confidence: 1.7, Criticality: CriticalityLow, Sensitivity: SensitivityPublic})
	exact := e.Classify(Input{Confidence: 1.0, Criticality: CriticalityLow, Sensitivity: SensitivityPublic})
	assert.Equal(t, exact, over, "confidence above 1 must score as 1")
	assert.Equal(t, 1.0, over.Confidence)

	under := e.Classify(Input{Confidence: -0.3, Criticality: CriticalityHigh, Sensitivity: SensitivityRestricted})
	floor := e.Classify(Input{Confidence: 0.0, Criticality: CriticalityHigh, Sensitivity: SensitivityRestricted})
	assert.Equal(t, floor, under, "confidence below 0 must score as 0")
	assert.Equal(t, TierHITL, under.Tier)
}

// Tier must never decrease when any single risk axis worsens.
func TestClassifyMonotonic(t *testing.T) {
	e := defaultEngine(t)

	criticalities := []Criticality{CriticalityLow, CriticalityMedium, CriticalityHigh}
	sensitivities := []Sensitivity{SensitivityPublic, SensitivityInternal, SensitivityRestricted}
	confidences := []float64{1.0, 0.8, 0.6, 0.4, 0.2, 0.0}

	t.Run("worsening criticality", func(t *testing.T) {
		for _, conf := range confidences {
			for _, sens := range sensitivities {
				prev := TierHOOTL
				for _, crit := range criticalities {
					d := e.Classify(Input{Confidence: conf, Criticality: crit, Sensitivity: sens})
					assert.GreaterOrEqual(t, int(d.Tier), int(prev),
						"conf=%v sens=%v crit=%v lowered the tier", conf, sens, crit)
					prev = d.Tier
				}
			}
		}
	})

	t.Run("worsening sensitivity", func(t *testing.T) {
		for _, conf := range confidences {
			for _, crit := range criticalities {
				prev := TierHOOTL
				for _, sens := range sensitivities {
					d := e.Classify(Input{Confidence: conf, Criticality: crit, Sensitivity: sens})
					assert.GreaterOrEqual(t, int(d.Tier), int(prev),
						"conf=%v crit=%v sens=%v lowered the tier", conf, crit, sens)
					prev = d.Tier
				}
			}
		}
	})

	t.Run("falling confidence", func(t *testing.T) {
		for _, crit := range criticalities {
			for _, sens := range sensitivities {
				prev := TierHOOTL
				for _, conf := range confidences {
					d := e.Classify(Input{Confidence: conf, Criticality: crit, Sensitivity: sens})
					assert.GreaterOrEqual(t, int(d.Tier), int(prev),
						"crit=%v sens=%v conf=%v lowered the tier", crit, sens, conf)
					prev = d.Tier
				}
			}
		}
	})
}

func TestClassifyPersonaFloor(t *testing.T) {
	cfg := model.DefaultConfig().Escalation
	cfg.PersonaFloors = map[string]string{
		"release-bot":   "HOTL",
		"finance-agent": "HITL",
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	t.Run("floor raises a low score", func(t *testing.T) {
		d := e.Classify(Input{Confidence: 0.99, Criticality: CriticalityLow, Sensitivity: SensitivityPublic, Persona: "release-bot"})
		assert.Equal(t, TierHOTL, d.Tier, "a persona floored at HOTL must never run HOOTL")
		require.NotNil(t, d.PersonaFloor)
		assert.Equal(t, TierHOTL, *d.PersonaFloor)
	})

	t.Run("floor never lowers a high score", func(t *testing.T) {
		d := e.Classify(Input{Confidence: 0.1, Criticality: CriticalityHigh, Sensitivity: SensitivityRestricted, Persona: "release-bot"})
		assert.Equal(t, TierHITL, d.Tier)
	})

	t.Run("unknown persona has no floor", func(t *testing.T) {
		d := e.Classify(Input{Confidence: 0.99, Criticality: CriticalityLow, Sensitivity: SensitivityPublic, Persona: "drifter"})
		assert.Equal(t, TierHOOTL, d.Tier)
		assert.Nil(t, d.PersonaFloor)
	})

	t.Run("absent persona has no floor", func(t *testing.T) {
		d := e.Classify(Input{Confidence: 0.99, Criticality: CriticalityLow, Sensitivity: SensitivityPublic})
		assert.Equal(t, TierHOOTL, d.Tier)
		assert.Nil(t, d.PersonaFloor)
	})
}

func TestNewEngine(t *testing.T) {
	t.Run("zero config takes defaults", func(t *testing.T) {
		e, err := NewEngine(model.EscalationConfig{})
		require.NoError(t, err)
		d := e.Classify(Input{Confidence: 0.95, Criticality: CriticalityLow, Sensitivity: SensitivityPublic})
		assert.Equal(t, TierHOOTL, d.Tier)
	})

	t.Run("bad persona floor tier", func(t *testing.T) {
		cfg := model.DefaultConfig().Escalation
		cfg.PersonaFloors = map[string]string{"bot": "SOMETIMES"}
		_, err := NewEngine(cfg)
		assert.Error(t, err)
	})

	t.Run("inverted thresholds", func(t *testing.T) {
		cfg := model.DefaultConfig().Escalation
		cfg.LowThreshold = 0.8
		cfg.HighThreshold = 0.4
		_, err := NewEngine(cfg)
		assert.Error(t, err)
	})
}

func TestParseEnums(t *testing.T) {
	crit, err := ParseCriticality("High")
	require.NoError(t, err)
	assert.Equal(t, CriticalityHigh, crit)
	_, err = ParseCriticality("urgent")
	assert.Error(t, err)

	sens, err := ParseSensitivity("RESTRICTED")
	require.NoError(t, err)
	assert.Equal(t, SensitivityRestricted, sens)
	_, err = ParseSensitivity("secret")
	assert.Error(t, err)

	tier, err := ParseTier("hitl")
	require.NoError(t, err)
	assert.Equal(t, TierHITL, tier)
	_, err = ParseTier("manual")
	assert.Error(t, err)

	assert.Equal(t, "HOOTL", TierHOOTL.String())
	assert.Equal(t, "HOTL", TierHOTL.String())
	assert.Equal(t, "HITL", TierHITL.String())
}
