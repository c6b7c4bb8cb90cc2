// Package rules evaluates the dynamic rule set stored in risk_rules.
//
// Rule logic expressions come from a mutable configuration store, not from
// code review, so they are never handed to a general-purpose evaluator.
// Each expression is parsed once per rule load into a small enumerated AST
// (feature references, literals, comparisons, arithmetic, boolean
// combinators) and evaluated against a typed feature mapping. There are no
// function calls, attribute access, or built-ins.
package rules

import (
	"fmt"

	"github.com/enterprise/withdraw-review/internal/models"
)

// Expr is a parsed rule expression node.
type Expr interface {
	// Eval evaluates the node against a feature set. The result is a
	// float64, string, or bool.
	Eval(features models.FeatureSet) (any, error)
}

type numberLit struct {
	value float64
}

func (n numberLit) Eval(models.FeatureSet) (any, error) { return n.value, nil }

type stringLit struct {
	value string
}

func (s stringLit) Eval(models.FeatureSet) (any, error) { return s.value, nil }

type boolLit struct {
	value bool
}

func (b boolLit) Eval(models.FeatureSet) (any, error) { return b.value, nil }

// featureRef resolves a bare identifier to the feature of the same name.
type featureRef struct {
	name string
}

func (f featureRef) Eval(features models.FeatureSet) (any, error) {
	v, ok := features[f.name]
	if !ok {
		return nil, fmt.Errorf("undefined feature %q", f.name)
	}
	switch val := v.(type) {
	case bool, string, float64:
		return val, nil
	case nil:
		return nil, fmt.Errorf("feature %q is null", f.name)
	default:
		// Numeric columns arrive as assorted integer widths from the store.
		if num, ok := features.Float(f.name); ok {
			return num, nil
		}
		return nil, fmt.Errorf("feature %q has unsupported type %T", f.name, v)
	}
}

type unaryExpr struct {
	op      string // "not" or "-"
	operand Expr
}

func (u unaryExpr) Eval(features models.FeatureSet) (any, error) {
	v, err := u.operand.Eval(features)
	if err != nil {
		return nil, err
	}
	switch u.op {
	case "not":
		return !truthy(v), nil
	case "-":
		num, ok := asNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", v)
		}
		return -num, nil
	default:
		return nil, fmt.Errorf("unknown unary operator %q", u.op)
	}
}

type binaryExpr struct {
	op    string // + - * / == != < <= > >=
	left  Expr
	right Expr
}

func (b binaryExpr) Eval(features models.FeatureSet) (any, error) {
	left, err := b.left.Eval(features)
	if err != nil {
		return nil, err
	}
	right, err := b.right.Eval(features)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case "+", "-", "*", "/":
		return evalArithmetic(b.op, left, right)
	case "==", "!=":
		eq, err := equalValues(left, right)
		if err != nil {
			return nil, err
		}
		if b.op == "!=" {
			return !eq, nil
		}
		return eq, nil
	case "<", "<=", ">", ">=":
		return evalOrdering(b.op, left, right)
	default:
		return nil, fmt.Errorf("unknown operator %q", b.op)
	}
}

type logicalExpr struct {
	op    string // "and" or "or", short-circuiting
	left  Expr
	right Expr
}

func (l logicalExpr) Eval(features models.FeatureSet) (any, error) {
	left, err := l.left.Eval(features)
	if err != nil {
		return nil, err
	}

	if l.op == "and" && !truthy(left) {
		return false, nil
	}
	if l.op == "or" && truthy(left) {
		return true, nil
	}

	right, err := l.right.Eval(features)
	if err != nil {
		return nil, err
	}
	return truthy(right), nil
}

func evalArithmetic(op string, left, right any) (any, error) {
	l, lok := asNumber(left)
	r, rok := asNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("arithmetic %q needs numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return l / r, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func evalOrdering(op string, left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare string with %T", right)
		}
		return applyOrdering(op, compareStrings(ls, rs)), nil
	}

	l, lok := asNumber(left)
	r, rok := asNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("comparison %q needs ordered operands, got %T and %T", op, left, right)
	}
	switch {
	case l < r:
		return applyOrdering(op, -1), nil
	case l > r:
		return applyOrdering(op, 1), nil
	default:
		return applyOrdering(op, 0), nil
	}
}

func applyOrdering(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func equalValues(left, right any) (bool, error) {
	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			return lb == rb, nil
		}
		// Stores frequently encode flags as 0/1.
		if rn, ok := asNumber(right); ok {
			return lb == (rn != 0), nil
		}
		return false, fmt.Errorf("cannot compare bool with %T", right)
	}
	if rb, ok := right.(bool); ok {
		if ln, ok := asNumber(left); ok {
			return rb == (ln != 0), nil
		}
		return false, fmt.Errorf("cannot compare %T with bool", left)
	}
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("cannot compare string with %T", right)
		}
		return ls == rs, nil
	}
	l, lok := asNumber(left)
	r, rok := asNumber(right)
	if !lok || !rok {
		return false, fmt.Errorf("cannot compare %T with %T", left, right)
	}
	return l == r, nil
}

func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// truthy follows the feature-store convention: zero, empty string, and false
// are falsy, everything else is truthy.
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != ""
	case nil:
		return false
	default:
		return true
	}
}
