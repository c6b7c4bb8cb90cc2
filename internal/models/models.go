package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Decision enum values
const (
	DecisionPass   = "PASS"
	DecisionHold   = "HOLD"
	DecisionReject = "REJECT"
)

// DecisionSource enum values
const (
	SourceRuleEngine = "RULE_ENGINE_RULES"
	SourceAIReview   = "AI_AGENT_REVIEW"
)

// PrimaryThreat enum values. ThreatAINetErr and ThreatAIErr are sentinels
// written when the AI call failed; they never come from the model itself.
const (
	ThreatAML       = "AML"
	ThreatSCAM      = "SCAM"
	ThreatATO       = "ATO"
	ThreatIntegrity = "INTEGRITY"
	ThreatNone      = "NONE"
	ThreatAINetErr  = "AI_NET_ERR"
	ThreatAIErr     = "AI_ERR"
	ThreatUnknown   = "UNKNOWN"
)

// RuleAlignment enum values
const (
	AlignmentAgrees         = "AGREES_WITH_RULE"
	AlignmentOverridePass   = "OVERRIDES_TO_PASS"
	AlignmentOverrideReject = "OVERRIDES_TO_REJECT"
)

// Withdrawal ratio provenance tags
const (
	RatioSourceUnknownBalance    = "UNKNOWN_BALANCE"
	RatioSourceSuspiciousBalance = "SUSPICIOUS_TOTAL_BALANCE"
	RatioSourceBalanceCache      = "BALANCE_CACHE"
)

// Enrichment status written by the external sanctions/age workers
const (
	EnrichmentChecked = "CHECKED"
	EnrichmentUnknown = "UNKNOWN"
)

// FeatureSet is the precomputed risk feature row for one withdrawal,
// keyed by feature name. Values are numeric, boolean, string, or nil.
type FeatureSet map[string]any

// Float returns the named feature as a float64. The second return is false
// when the feature is absent, nil, or not numeric.
func (f FeatureSet) Float(name string) (float64, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		parsed, err := val.Float64()
		return parsed, err == nil
	case pgtype.Numeric:
		// NUMERIC columns come back from pgx row values undecoded.
		f8, err := val.Float64Value()
		if err != nil || !f8.Valid {
			return 0, false
		}
		return f8.Float64, true
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// String returns the named feature as a string, "" when absent or nil.
func (f FeatureSet) String(name string) string {
	v, ok := f[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Bool returns the named feature as a bool.
func (f FeatureSet) Bool(name string) bool {
	v, ok := f[name]
	if !ok || v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}

// Clone returns a shallow copy of the feature set.
func (f FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// NullsAsZero returns a shadow copy with every nil value replaced by 0.
// Rule expressions evaluate against the shadow; the original is not mutated.
func (f FeatureSet) NullsAsZero() FeatureSet {
	out := make(FeatureSet, len(f))
	for k, v := range f {
		if v == nil {
			out[k] = 0
		} else {
			out[k] = v
		}
	}
	return out
}

// Snapshot converts the feature set to a JSONB map with every value coerced
// to a JSON-safe form, for the decision audit row.
func (f FeatureSet) Snapshot() JSONB {
	out := make(JSONB, len(f))
	for k, v := range f {
		switch v.(type) {
		case nil, bool, string, float64, float32, int, int32, int64, json.Number:
			out[k] = v
		case time.Time:
			out[k] = v.(time.Time).Format(time.RFC3339)
		case pgtype.Numeric:
			if f8, err := v.(pgtype.Numeric).Float64Value(); err == nil && f8.Valid {
				out[k] = f8.Float64
			} else {
				out[k] = nil
			}
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// RuleDefinition is a dynamic rule loaded from risk_rules. Rules are
// immutable per cache window and evaluated in ascending priority order.
type RuleDefinition struct {
	RuleID          int64  `json:"rule_id"`
	RuleName        string `json:"rule_name"`
	Priority        int    `json:"priority"`
	LogicExpression string `json:"logic_expression"`
	Action          string `json:"action"` // PASS / HOLD / REJECT
	Narrative       string `json:"narrative"`
	Status          string `json:"status"`
}

// RuleContext is the ephemeral result of one rule-engine pass, handed to the
// AI client as framing for the case payload.
type RuleContext struct {
	Triggered bool   `json:"triggered"`
	Decision  string `json:"decision"`
	RuleID    int64  `json:"rule_id,omitempty"`
	RuleName  string `json:"rule_name,omitempty"`
	Narrative string `json:"narrative,omitempty"`
}

// HoldContext is the default context when no rule fires: the Phase-1 engine
// already decided HOLD, so the AI still gets that framing.
func HoldContext(narrative string) RuleContext {
	return RuleContext{Decision: DecisionHold, Narrative: narrative}
}

// AIDecision is the parsed output of one reasoning-model call. RiskScore -1
// means no score was computed (AI failure); callers must not read it as a
// numeric risk level.
type AIDecision struct {
	FinalDecision  string   `json:"final_decision"`
	PrimaryThreat  string   `json:"primary_threat"`
	RiskScore      int      `json:"risk_score"`
	Confidence     float64  `json:"confidence"`
	Narrative      string   `json:"narrative"`
	RuleAlignment  string   `json:"rule_alignment"`
	ChainOfThought []string `json:"chain_of_thought,omitempty"`
}

// DecisionRecord is one append-only row in risk_withdraw_decision. For a
// (user_code, txn_id) pair duplicates are possible under overlapping worker
// runs; consumers take the latest DecisionTimestamp as authoritative.
type DecisionRecord struct {
	UserCode          string    `json:"user_code"`
	TxnID             string    `json:"txn_id"`
	Decision          string    `json:"decision"`
	PrimaryThreat     string    `json:"primary_threat"`
	Confidence        float64   `json:"confidence"`
	Narrative         string    `json:"narrative"`
	FeaturesSnapshot  JSONB     `json:"features_snapshot"`
	DecisionSource    string    `json:"decision_source"`
	LLMReasoning      string    `json:"llm_reasoning"`
	ProcessingTimeMs  *int64    `json:"processing_time_ms,omitempty"`
	DecisionTimestamp time.Time `json:"decision_timestamp"`
}

// PendingCase identifies a HOLD decision awaiting AI review.
type PendingCase struct {
	UserCode string `json:"user_code"`
	TxnID    string `json:"txn_id"`
}

// SanctionsRecord is one row of dim_sanctions_address, written by the
// external sanctions enrichment worker.
type SanctionsRecord struct {
	IsSanctioned    bool   `json:"is_sanctioned"`
	SanctionsStatus string `json:"sanctions_status"`
}

// AgeRecord is one row of dim_destination_age, written by the external
// address-age enrichment worker. AgeHours -1 means age unknown.
type AgeRecord struct {
	AgeHours  int64  `json:"destination_age_hours"`
	AgeStatus string `json:"age_status"`
}

// BehaviorContext is an optional aggregate over the user's recent decision
// history, passed through to the AI case payload.
type BehaviorContext struct {
	RecentDecisions30d int    `json:"recent_decisions_30d"`
	RecentHolds30d     int    `json:"recent_holds_30d"`
	RecentRejects30d   int    `json:"recent_rejects_30d"`
	LastDecision       string `json:"last_decision,omitempty"`
}

// DecisionEvent is the notification payload published after a final AI
// decision is logged.
type DecisionEvent struct {
	UserCode         string    `json:"user_code"`
	TxnID            string    `json:"txn_id"`
	Decision         string    `json:"decision"`
	PrimaryThreat    string    `json:"primary_threat"`
	RiskScore        int       `json:"risk_score"`
	Narrative        string    `json:"narrative"`
	Source           string    `json:"source"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}
