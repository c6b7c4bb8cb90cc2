// Package enrich prepares a feature set for review: it derives a
// trustworthy withdrawal ratio and polls the enrichment tables the external
// sanctions/address-age workers write into.
package enrich

import (
	"github.com/enterprise/withdraw-review/internal/models"
)

// PatchWithdrawalRatio derives a trustworthy withdrawal_ratio and tags its
// provenance in withdrawal_ratio_source.
//
// An implausible or missing balance denominator is treated as a full-drain
// signal (ratio 1.0) rather than silently producing a meaningless ratio:
//   - total balance missing or <= 0: UNKNOWN_BALANCE
//   - total balance below 10% of the withdrawal amount: SUSPICIOUS_TOTAL_BALANCE
//   - otherwise the existing ratio stands: BALANCE_CACHE
//
// A numeric-parse failure on any input leaves the features unmodified;
// sanitation fails open.
func PatchWithdrawalRatio(features models.FeatureSet) models.FeatureSet {
	amountRaw, amountPresent := features["withdrawal_amount"]
	totalRaw, totalPresent := features["total_balance_sum"]

	amount, amountOK := features.Float("withdrawal_amount")
	if amountPresent && amountRaw != nil && !amountOK {
		return features
	}
	total, totalOK := features.Float("total_balance_sum")
	if totalPresent && totalRaw != nil && !totalOK {
		return features
	}
	if _, ratioBad := badNumeric(features, "withdrawal_ratio"); ratioBad {
		return features
	}

	hasAmount := amountPresent && amountRaw != nil && amountOK
	hasTotal := totalPresent && totalRaw != nil && totalOK

	if hasAmount && (!hasTotal || total <= 0) {
		features["withdrawal_ratio"] = 1.0
		features["withdrawal_ratio_source"] = models.RatioSourceUnknownBalance
		return features
	}

	if hasAmount && hasTotal && total < amount*0.1 {
		features["withdrawal_ratio"] = 1.0
		features["withdrawal_ratio_source"] = models.RatioSourceSuspiciousBalance
		return features
	}

	features["withdrawal_ratio_source"] = models.RatioSourceBalanceCache
	return features
}

func badNumeric(features models.FeatureSet, name string) (float64, bool) {
	raw, present := features[name]
	if !present || raw == nil {
		return 0, false
	}
	value, ok := features.Float(name)
	return value, !ok
}
