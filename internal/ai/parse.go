package ai

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/enterprise/withdraw-review/internal/models"
)

// parseDecision parses the model's raw text into an AIDecision. Markdown
// code fences are tolerated and stripped even though the prompt forbids
// them. A response that is not a JSON object at all is an error; a single
// bad field is not — each field coerces independently and falls back to its
// default rather than rejecting the whole response.
func parseDecision(raw string) (*models.AIDecision, error) {
	clean := stripFences(raw)
	if clean == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(clean), &fields); err != nil {
		return nil, fmt.Errorf("model response is not a JSON object: %w", err)
	}

	decision := &models.AIDecision{
		FinalDecision: coerceEnum(fields["final_decision"],
			models.DecisionHold, models.DecisionPass, models.DecisionHold, models.DecisionReject),
		PrimaryThreat: coerceEnum(fields["primary_threat"],
			models.ThreatNone, models.ThreatAML, models.ThreatSCAM, models.ThreatATO,
			models.ThreatIntegrity, models.ThreatNone),
		RiskScore:  coerceInt(fields["risk_score"], 0),
		Confidence: coerceFloat(fields["confidence"], 0.7),
		Narrative:  coerceString(fields["narrative"], "AI evaluation."),
		RuleAlignment: coerceEnum(fields["rule_alignment"],
			models.AlignmentAgrees, models.AlignmentAgrees,
			models.AlignmentOverridePass, models.AlignmentOverrideReject),
		ChainOfThought: coerceStringList(fields["chain_of_thought"]),
	}

	return decision, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// json language tag.
func stripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.ReplaceAll(clean, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	return strings.TrimSpace(clean)
}

func coerceString(raw json.RawMessage, fallback string) string {
	if raw == nil {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return fallback
	}
	return s
}

// coerceEnum returns the decoded string when it is one of allowed,
// otherwise fallback.
func coerceEnum(raw json.RawMessage, fallback string, allowed ...string) string {
	value := coerceString(raw, fallback)
	for _, candidate := range allowed {
		if value == candidate {
			return value
		}
	}
	return fallback
}

func coerceInt(raw json.RawMessage, fallback int) int {
	if raw == nil {
		return fallback
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return int(num)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return parsed
		}
	}
	return fallback
}

func coerceFloat(raw json.RawMessage, fallback float64) float64 {
	if raw == nil {
		return fallback
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// coerceStringList accepts a JSON array of strings, or a bare scalar which
// becomes a single-entry list.
func coerceStringList(raw json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return []string{s}
	}
	return nil
}
