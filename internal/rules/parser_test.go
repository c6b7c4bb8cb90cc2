package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/withdraw-review/internal/models"
)

func mustEval(t *testing.T, expression string, features models.FeatureSet) any {
	t.Helper()
	expr, err := Parse(expression)
	require.NoError(t, err)
	result, err := expr.Eval(features)
	require.NoError(t, err)
	return result
}

func TestParseComparisons(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_ratio":  0.95,
		"account_age_days":  3.0,
		"kyc_level":         "L1",
		"is_sanctioned":     true,
		"login_count_24h":   0.0,
	}

	tests := []struct {
		expression string
		want       any
	}{
		{"withdrawal_ratio > 0.9", true},
		{"withdrawal_ratio >= 0.95", true},
		{"withdrawal_ratio < 0.9", false},
		{"account_age_days <= 3", true},
		{"kyc_level == 'L1'", true},
		{"kyc_level != 'L2'", true},
		{`kyc_level == "L1"`, true},
		{"is_sanctioned == true", true},
		{"login_count_24h == 0", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mustEval(t, tt.expression, features), tt.expression)
	}
}

func TestParseBooleanCombinators(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_ratio": 0.95,
		"account_age_days": 30.0,
		"is_sanctioned":    false,
	}

	tests := []struct {
		expression string
		want       any
	}{
		{"withdrawal_ratio > 0.9 and account_age_days < 7", false},
		{"withdrawal_ratio > 0.9 or account_age_days < 7", true},
		{"not is_sanctioned", true},
		{"withdrawal_ratio > 0.9 && account_age_days >= 7", true},
		{"is_sanctioned || withdrawal_ratio > 0.9", true},
		{"!is_sanctioned", true},
		{"(withdrawal_ratio > 0.9 or is_sanctioned) and account_age_days > 7", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mustEval(t, tt.expression, features), tt.expression)
	}
}

func TestParseArithmetic(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_amount": 900.0,
		"total_balance_sum": 1000.0,
	}

	assert.Equal(t, true, mustEval(t, "withdrawal_amount / total_balance_sum > 0.8", features))
	assert.Equal(t, true, mustEval(t, "withdrawal_amount + 100 == total_balance_sum", features))
	assert.Equal(t, true, mustEval(t, "-withdrawal_amount < 0", features))
	assert.Equal(t, 2000.0, mustEval(t, "total_balance_sum * 2", features))
}

func TestParseSingleEqualsMeansEquality(t *testing.T) {
	features := models.FeatureSet{"kyc_level": "L0"}
	assert.Equal(t, true, mustEval(t, "kyc_level = 'L0'", features))
}

func TestParsePythonLiterals(t *testing.T) {
	features := models.FeatureSet{"destination_age_hours": 0.0}

	// None compares as 0.
	assert.Equal(t, true, mustEval(t, "destination_age_hours == None", features))
	assert.Equal(t, true, mustEval(t, "True", features))
	assert.Equal(t, false, mustEval(t, "False", features))
}

func TestParseNewlinesInExpression(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_ratio": 0.95,
		"account_age_days": 2.0,
	}
	expression := "withdrawal_ratio > 0.9\nand account_age_days < 7"
	assert.Equal(t, true, mustEval(t, expression, features))
}

func TestParseBoolNumericEquality(t *testing.T) {
	// Stores encode flags either way; both must compare.
	assert.Equal(t, true, mustEval(t, "is_sanctioned == 1", models.FeatureSet{"is_sanctioned": true}))
	assert.Equal(t, true, mustEval(t, "is_sanctioned == false", models.FeatureSet{"is_sanctioned": 0.0}))
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"withdrawal_ratio >",
		"(withdrawal_ratio > 0.9",
		"'unterminated",
		"withdrawal_ratio > 0.9 extra_token 1",
		"and and",
	}

	for _, expression := range bad {
		_, err := Parse(expression)
		assert.Error(t, err, expression)
	}
}

func TestEvalUndefinedFeature(t *testing.T) {
	expr, err := Parse("no_such_feature > 1")
	require.NoError(t, err)

	_, err = expr.Eval(models.FeatureSet{})
	assert.Error(t, err)
}

func TestEvalDivisionByZero(t *testing.T) {
	expr, err := Parse("withdrawal_amount / total_balance_sum > 1")
	require.NoError(t, err)

	_, err = expr.Eval(models.FeatureSet{
		"withdrawal_amount": 100.0,
		"total_balance_sum": 0.0,
	})
	assert.Error(t, err)
}
