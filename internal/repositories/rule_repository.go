package repositories

import (
	"context"

	"github.com/enterprise/withdraw-review/internal/models"
)

// RuleRepository loads the dynamic rule set from risk_rules.
type RuleRepository struct {
	db *Database
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *Database) *RuleRepository {
	return &RuleRepository{db: db}
}

// GetActiveRules returns all ACTIVE rules ordered by ascending priority.
// Priority defines the total evaluation order; the first satisfied rule is
// authoritative regardless of how many rules exist.
func (r *RuleRepository) GetActiveRules(ctx context.Context) ([]models.RuleDefinition, error) {
	query := `
		SELECT rule_id, rule_name, priority, logic_expression, action, narrative, status
		FROM rt.risk_rules
		WHERE status = 'ACTIVE'
		ORDER BY priority ASC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.RuleDefinition
	for rows.Next() {
		var rule models.RuleDefinition
		if err := rows.Scan(
			&rule.RuleID,
			&rule.RuleName,
			&rule.Priority,
			&rule.LogicExpression,
			&rule.Action,
			&rule.Narrative,
			&rule.Status,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}
