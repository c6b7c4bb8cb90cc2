package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse compiles a rule logic expression into an AST. Grammar, loosest to
// tightest binding:
//
//	or      :=  and  (("or"  | "||") and)*
//	and     :=  not  (("and" | "&&") not)*
//	not     :=  ("not" | "!") not | cmp
//	cmp     :=  sum  (("==" | "!=" | "<" | "<=" | ">" | ">=") sum)?
//	sum     :=  term (("+" | "-") term)*
//	term    :=  unary (("*" | "/") unary)*
//	unary   :=  "-" unary | primary
//	primary :=  number | string | bool | identifier | "(" or ")"
//
// Both Python-style keywords (and/or/not, True/False/None) and C-style
// operators are accepted, matching what operators actually type into the
// rule store.
func Parse(input string) (Expr, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected token %q", p.peek().text)
	}
	return expr, nil
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenOp
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(input string) ([]token, error) {
	input = strings.ReplaceAll(input, "\n", " ")
	input = strings.ReplaceAll(input, "\r", " ")

	var tokens []token
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		c := runes[i]

		switch {
		case unicode.IsSpace(c):
			i++

		case unicode.IsDigit(c) || (c == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, fmt.Errorf("invalid number %q", text)
			}
			tokens = append(tokens, token{kind: tokenNumber, text: text})

		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i])})

		case c == '\'' || c == '"':
			quote := c
			i++
			start := i
			for i < len(runes) && runes[i] != quote {
				i++
			}
			if i >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokenString, text: string(runes[start:i])})
			i++

		case strings.ContainsRune("=!<>&|", c):
			start := i
			i++
			if i < len(runes) && strings.ContainsRune("=&|", runes[i]) {
				i++
			}
			op := string(runes[start:i])
			switch op {
			case "==", "!=", "<", "<=", ">", ">=", "&&", "||", "!":
				tokens = append(tokens, token{kind: tokenOp, text: op})
			case "=":
				// Single = in stored rules always means equality.
				tokens = append(tokens, token{kind: tokenOp, text: "=="})
			default:
				return nil, fmt.Errorf("invalid operator %q", op)
			}

		case strings.ContainsRune("+-*/()", c):
			tokens = append(tokens, token{kind: tokenOp, text: string(c)})
			i++

		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}

	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.atEnd() {
		return token{}
	}
	return p.tokens[p.pos]
}

func (p *parser) match(kind tokenKind, texts ...string) bool {
	if p.atEnd() || p.tokens[p.pos].kind != kind {
		return false
	}
	for _, text := range texts {
		if p.tokens[p.pos].text == text {
			p.pos++
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(tokenIdent, "or") || p.match(tokenOp, "||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.match(tokenIdent, "and") || p.match(tokenOp, "&&") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.match(tokenIdent, "not") || p.match(tokenOp, "!") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if p.match(tokenOp, op) {
			right, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			return binaryExpr{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.match(tokenOp, "+"):
			op = "+"
		case p.match(tokenOp, "-"):
			op = "-"
		default:
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.match(tokenOp, "*"):
			op = "*"
		case p.match(tokenOp, "/"):
			op = "/"
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.match(tokenOp, "-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: "-", operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.atEnd() {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	tok := p.tokens[p.pos]
	switch tok.kind {
	case tokenNumber:
		p.pos++
		value, _ := strconv.ParseFloat(tok.text, 64)
		return numberLit{value: value}, nil

	case tokenString:
		p.pos++
		return stringLit{value: tok.text}, nil

	case tokenIdent:
		p.pos++
		switch tok.text {
		case "true", "True":
			return boolLit{value: true}, nil
		case "false", "False":
			return boolLit{value: false}, nil
		case "None", "null":
			return numberLit{value: 0}, nil
		case "and", "or", "not":
			return nil, fmt.Errorf("unexpected keyword %q", tok.text)
		default:
			return featureRef{name: tok.text}, nil
		}

	case tokenOp:
		if tok.text == "(" {
			p.pos++
			expr, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.match(tokenOp, ")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return expr, nil
		}
	}

	return nil, fmt.Errorf("unexpected token %q", tok.text)
}
