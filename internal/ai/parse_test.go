package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/withdraw-review/internal/models"
)

func TestParseDecisionWellFormed(t *testing.T) {
	raw := `{
		"final_decision": "REJECT",
		"primary_threat": "AML",
		"risk_score": 91,
		"confidence": 0.88,
		"narrative": "Sanctioned counterparty with full balance drain.",
		"rule_alignment": "AGREES_WITH_RULE",
		"chain_of_thought": ["A: destination sanctioned", "F: ratio 1.0"]
	}`

	decision, err := parseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionReject, decision.FinalDecision)
	assert.Equal(t, models.ThreatAML, decision.PrimaryThreat)
	assert.Equal(t, 91, decision.RiskScore)
	assert.Equal(t, 0.88, decision.Confidence)
	assert.Equal(t, models.AlignmentAgrees, decision.RuleAlignment)
	assert.Len(t, decision.ChainOfThought, 2)
}

func TestParseDecisionStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"final_decision\": \"PASS\", \"risk_score\": 12}\n```"

	decision, err := parseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionPass, decision.FinalDecision)
	assert.Equal(t, 12, decision.RiskScore)
}

func TestParseDecisionFieldDefaults(t *testing.T) {
	decision, err := parseDecision(`{}`)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionHold, decision.FinalDecision)
	assert.Equal(t, models.ThreatNone, decision.PrimaryThreat)
	assert.Equal(t, 0, decision.RiskScore)
	assert.Equal(t, 0.7, decision.Confidence)
	assert.Equal(t, "AI evaluation.", decision.Narrative)
	assert.Equal(t, models.AlignmentAgrees, decision.RuleAlignment)
	assert.Nil(t, decision.ChainOfThought)
}

func TestParseDecisionCoercesBadFieldsIndependently(t *testing.T) {
	raw := `{
		"final_decision": "MAYBE",
		"primary_threat": 42,
		"risk_score": "77",
		"confidence": "0.9",
		"chain_of_thought": "single thought"
	}`

	decision, err := parseDecision(raw)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionHold, decision.FinalDecision, "unknown enum falls back")
	assert.Equal(t, models.ThreatNone, decision.PrimaryThreat)
	assert.Equal(t, 77, decision.RiskScore, "numeric strings are accepted")
	assert.Equal(t, 0.9, decision.Confidence)
	assert.Equal(t, []string{"single thought"}, decision.ChainOfThought)
}

func TestParseDecisionRejectsNonObject(t *testing.T) {
	for _, raw := range []string{"", "I cannot help with that.", `["PASS"]`, "```\n```"} {
		_, err := parseDecision(raw)
		assert.Error(t, err, raw)
	}
}
