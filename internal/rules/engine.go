package rules

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/withdraw-review/internal/models"
)

// CompiledRule pairs a rule definition with its parsed expression. A rule
// whose expression failed to parse carries the error and is skipped at
// evaluation time instead of aborting the pass.
type CompiledRule struct {
	Def      models.RuleDefinition
	Expr     Expr
	ParseErr error
}

// Compile parses every rule's logic expression once. Broken rules are kept
// in the slice (evaluation order must stay priority-complete) but flagged.
func Compile(defs []models.RuleDefinition) []CompiledRule {
	compiled := make([]CompiledRule, 0, len(defs))
	for _, def := range defs {
		expr, err := Parse(def.LogicExpression)
		if err != nil {
			log.Warn().
				Int64("rule_id", def.RuleID).
				Str("rule_name", def.RuleName).
				Err(err).
				Msg("Rule expression failed to parse, rule disabled")
		}
		compiled = append(compiled, CompiledRule{Def: def, Expr: expr, ParseErr: err})
	}
	return compiled
}

// Evaluate runs the rules in slice order (ascending priority, as loaded)
// against the feature set. Null feature values are replaced by 0 on a shadow
// copy; the caller's map is not modified. The first rule whose expression is
// truthy wins. A rule that errors mid-evaluation is logged and skipped.
//
// When no rule fires, Triggered is false and the caller supplies the default
// HOLD context.
func Evaluate(features models.FeatureSet, compiled []CompiledRule) models.RuleContext {
	shadow := features.NullsAsZero()

	for _, rule := range compiled {
		if rule.ParseErr != nil {
			continue
		}

		result, err := rule.Expr.Eval(shadow)
		if err != nil {
			log.Warn().
				Int64("rule_id", rule.Def.RuleID).
				Str("rule_name", rule.Def.RuleName).
				Err(err).
				Msg("Rule evaluation error, skipping rule")
			continue
		}

		if truthy(result) {
			log.Info().
				Int64("rule_id", rule.Def.RuleID).
				Str("rule_name", rule.Def.RuleName).
				Str("action", rule.Def.Action).
				Msg("Rule hit")

			return models.RuleContext{
				Triggered: true,
				Decision:  rule.Def.Action,
				RuleID:    rule.Def.RuleID,
				RuleName:  rule.Def.RuleName,
				Narrative: fmt.Sprintf("[Rule #%d] %s", rule.Def.RuleID, rule.Def.Narrative),
			}
		}
	}

	return models.RuleContext{Triggered: false}
}
