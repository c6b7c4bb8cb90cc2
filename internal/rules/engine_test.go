package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/enterprise/withdraw-review/internal/models"
)

func activeRule(id int64, priority int, expression, action, narrative string) models.RuleDefinition {
	return models.RuleDefinition{
		RuleID:          id,
		RuleName:        narrative,
		Priority:        priority,
		LogicExpression: expression,
		Action:          action,
		Narrative:       narrative,
		Status:          "ACTIVE",
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	compiled := Compile([]models.RuleDefinition{
		activeRule(1, 10, "is_sanctioned == true", models.DecisionReject, "Sanctioned destination"),
		activeRule(2, 20, "withdrawal_ratio > 0.9", models.DecisionHold, "Near-total drain"),
	})

	ruleCtx := Evaluate(models.FeatureSet{
		"is_sanctioned":    true,
		"withdrawal_ratio": 0.95,
	}, compiled)

	assert.True(t, ruleCtx.Triggered)
	assert.Equal(t, models.DecisionReject, ruleCtx.Decision)
	assert.Equal(t, int64(1), ruleCtx.RuleID)
	assert.Equal(t, "[Rule #1] Sanctioned destination", ruleCtx.Narrative)
}

func TestEvaluateNoRuleFires(t *testing.T) {
	compiled := Compile([]models.RuleDefinition{
		activeRule(1, 10, "is_sanctioned == true", models.DecisionReject, "Sanctioned destination"),
	})

	ruleCtx := Evaluate(models.FeatureSet{"is_sanctioned": false}, compiled)

	assert.False(t, ruleCtx.Triggered)
	assert.Empty(t, ruleCtx.Decision)
}

func TestEvaluateNullsReadAsZero(t *testing.T) {
	compiled := Compile([]models.RuleDefinition{
		activeRule(1, 10, "destination_age_hours < 24", models.DecisionHold, "Fresh destination"),
	})

	ruleCtx := Evaluate(models.FeatureSet{"destination_age_hours": nil}, compiled)

	assert.True(t, ruleCtx.Triggered)
}

func TestEvaluateDoesNotMutateCallerFeatures(t *testing.T) {
	compiled := Compile([]models.RuleDefinition{
		activeRule(1, 10, "destination_age_hours < 24", models.DecisionHold, "Fresh destination"),
	})

	features := models.FeatureSet{"destination_age_hours": nil}
	Evaluate(features, compiled)

	assert.Nil(t, features["destination_age_hours"])
}

func TestEvaluateSkipsBrokenRule(t *testing.T) {
	compiled := Compile([]models.RuleDefinition{
		activeRule(1, 10, "withdrawal_ratio >>> 0.9", models.DecisionReject, "Broken expression"),
		activeRule(2, 20, "withdrawal_ratio > 0.9", models.DecisionHold, "Near-total drain"),
	})

	assert.Error(t, compiled[0].ParseErr)

	ruleCtx := Evaluate(models.FeatureSet{"withdrawal_ratio": 0.95}, compiled)

	assert.True(t, ruleCtx.Triggered)
	assert.Equal(t, int64(2), ruleCtx.RuleID)
}

func TestEvaluateSkipsErroringRule(t *testing.T) {
	// Rule 1 references a feature this case does not have; the pass moves
	// on instead of aborting.
	compiled := Compile([]models.RuleDefinition{
		activeRule(1, 10, "velocity_score > 90", models.DecisionReject, "Velocity spike"),
		activeRule(2, 20, "withdrawal_ratio > 0.9", models.DecisionHold, "Near-total drain"),
	})

	ruleCtx := Evaluate(models.FeatureSet{"withdrawal_ratio": 0.95}, compiled)

	assert.True(t, ruleCtx.Triggered)
	assert.Equal(t, int64(2), ruleCtx.RuleID)
}
