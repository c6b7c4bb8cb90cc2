package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/enterprise/withdraw-review/internal/models"
)

func TestPatchWithdrawalRatioMissingBalance(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_amount": 500.0,
		"withdrawal_ratio":  0.02,
	}

	patched := PatchWithdrawalRatio(features)

	assert.Equal(t, 1.0, patched["withdrawal_ratio"])
	assert.Equal(t, models.RatioSourceUnknownBalance, patched["withdrawal_ratio_source"])
}

func TestPatchWithdrawalRatioNullBalance(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_amount": 500.0,
		"total_balance_sum": nil,
	}

	patched := PatchWithdrawalRatio(features)

	assert.Equal(t, 1.0, patched["withdrawal_ratio"])
	assert.Equal(t, models.RatioSourceUnknownBalance, patched["withdrawal_ratio_source"])
}

func TestPatchWithdrawalRatioZeroBalance(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_amount": 500.0,
		"total_balance_sum": 0.0,
	}

	patched := PatchWithdrawalRatio(features)

	assert.Equal(t, 1.0, patched["withdrawal_ratio"])
	assert.Equal(t, models.RatioSourceUnknownBalance, patched["withdrawal_ratio_source"])
}

func TestPatchWithdrawalRatioSuspiciousBalance(t *testing.T) {
	// Balance is under 10% of the amount: the cached balance cannot be
	// trusted and the ratio is forced to full drain.
	features := models.FeatureSet{
		"withdrawal_amount": 10000.0,
		"total_balance_sum": 500.0,
		"withdrawal_ratio":  20.0,
	}

	patched := PatchWithdrawalRatio(features)

	assert.Equal(t, 1.0, patched["withdrawal_ratio"])
	assert.Equal(t, models.RatioSourceSuspiciousBalance, patched["withdrawal_ratio_source"])
}

func TestPatchWithdrawalRatioPlausibleBalance(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_amount": 500.0,
		"total_balance_sum": 10000.0,
		"withdrawal_ratio":  0.05,
	}

	patched := PatchWithdrawalRatio(features)

	assert.Equal(t, 0.05, patched["withdrawal_ratio"])
	assert.Equal(t, models.RatioSourceBalanceCache, patched["withdrawal_ratio_source"])
}

func TestPatchWithdrawalRatioBoundaryBalance(t *testing.T) {
	// Exactly 10% is not suspicious; the rule is strictly below.
	features := models.FeatureSet{
		"withdrawal_amount": 1000.0,
		"total_balance_sum": 100.0,
		"withdrawal_ratio":  10.0,
	}

	patched := PatchWithdrawalRatio(features)

	assert.Equal(t, 10.0, patched["withdrawal_ratio"])
	assert.Equal(t, models.RatioSourceBalanceCache, patched["withdrawal_ratio_source"])
}

func TestPatchWithdrawalRatioFailsOpenOnGarbage(t *testing.T) {
	features := models.FeatureSet{
		"withdrawal_amount": "not-a-number",
		"total_balance_sum": 10000.0,
		"withdrawal_ratio":  0.05,
	}

	patched := PatchWithdrawalRatio(features)

	assert.Equal(t, 0.05, patched["withdrawal_ratio"])
	assert.NotContains(t, patched, "withdrawal_ratio_source")
}

func TestPatchWithdrawalRatioNumericStrings(t *testing.T) {
	// Numeric columns sometimes arrive as strings from the feature store.
	features := models.FeatureSet{
		"withdrawal_amount": "500",
		"total_balance_sum": "10",
	}

	patched := PatchWithdrawalRatio(features)

	assert.Equal(t, 1.0, patched["withdrawal_ratio"])
	assert.Equal(t, models.RatioSourceSuspiciousBalance, patched["withdrawal_ratio_source"])
}
