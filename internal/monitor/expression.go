package monitor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Predicate is a parsed monitor expression: comparisons over window stat
// fields combined with AND/OR/NOT and parentheses, e.g.
//
//	txn_count < 5 AND gross_revenue < 1000
//	unresolved_rate > 0.5 OR (flagged_count >= 3 AND avg_ticket > 500)
type Predicate interface {
	eval(fields FieldResolver) (bool, error)
}

// FieldResolver supplies numeric values for predicate identifiers.
type FieldResolver interface {
	Field(name string) (float64, bool)
}

type binaryExpr struct {
	op    string // "AND" | "OR"
	left  Predicate
	right Predicate
}

type notExpr struct {
	inner Predicate
}

type comparison struct {
	left  operand
	op    string // == != > >= < <=
	right operand
}

type operand struct {
	field   string // set for field references
	literal float64
	isField bool
}

// Eval evaluates the predicate against the given fields.
func Eval(p Predicate, fields FieldResolver) (bool, error) {
	return p.eval(fields)
}

func (e *binaryExpr) eval(fields FieldResolver) (bool, error) {
	left, err := e.left.eval(fields)
	if err != nil {
		return false, err
	}
	// short-circuit
	if e.op == "AND" && !left {
		return false, nil
	}
	if e.op == "OR" && left {
		return true, nil
	}
	return e.right.eval(fields)
}

func (e *notExpr) eval(fields FieldResolver) (bool, error) {
	v, err := e.inner.eval(fields)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (e *comparison) eval(fields FieldResolver) (bool, error) {
	left, err := e.left.value(fields)
	if err != nil {
		return false, err
	}
	right, err := e.right.value(fields)
	if err != nil {
		return false, err
	}
	switch e.op {
	case "==":
		return math.Abs(left-right) < 1e-9, nil
	case "!=":
		return math.Abs(left-right) >= 1e-9, nil
	case ">":
		return left > right, nil
	case ">=":
		return left >= right, nil
	case "<":
		return left < right, nil
	case "<=":
		return left <= right, nil
	}
	return false, fmt.Errorf("unknown operator %q", e.op)
}

func (o *operand) value(fields FieldResolver) (float64, error) {
	if !o.isField {
		return o.literal, nil
	}
	v, ok := fields.Field(o.field)
	if !ok {
		return 0, fmt.Errorf("unknown field %q", o.field)
	}
	return v, nil
}

// ---- tokenizer ----

type tokenKind int

const (
	tokWord tokenKind = iota
	tokOp
	tokNumber
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		if ch == '(' {
			tokens = append(tokens, token{tokLParen, "("})
			i++
			continue
		}
		if ch == ')' {
			tokens = append(tokens, token{tokRParen, ")"})
			i++
			continue
		}
		if ch == '=' || ch == '!' || ch == '<' || ch == '>' {
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, token{tokOp, expr[i : i+2]})
				i += 2
			} else {
				if ch == '=' || ch == '!' {
					return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
				}
				tokens = append(tokens, token{tokOp, string(ch)})
				i++
			}
			continue
		}
		if unicode.IsDigit(rune(ch)) || (ch == '-' && i+1 < len(expr) && unicode.IsDigit(rune(expr[i+1]))) {
			j := i + 1
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, expr[i:j]})
			i = j
			continue
		}
		if unicode.IsLetter(rune(ch)) || ch == '_' {
			j := i
			for j < len(expr) && (unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j])) || expr[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokWord, expr[i:j]})
			i = j
			continue
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}
	tokens = append(tokens, token{tokEOF, ""})
	return tokens, nil
}

// ---- recursive-descent parser ----

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token    { return p.tokens[p.pos] }
func (p *parser) consume() token { t := p.tokens[p.pos]; p.pos++; return t }

// Parse parses a predicate expression.
func Parse(expr string) (Predicate, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q after expression", p.peek().val)
	}
	return node, nil
}

// or_expr = and_expr ( "OR" and_expr )*
func (p *parser) parseOr() (Predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokWord && strings.EqualFold(p.peek().val, "OR") {
		p.consume()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "OR", left: left, right: right}
	}
	return left, nil
}

// and_expr = not_expr ( "AND" not_expr )*
func (p *parser) parseAnd() (Predicate, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokWord && strings.EqualFold(p.peek().val, "AND") {
		p.consume()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "AND", left: left, right: right}
	}
	return left, nil
}

// not_expr = [ "NOT" ] comparison | "(" or_expr ")"
func (p *parser) parseNot() (Predicate, error) {
	if p.peek().kind == tokWord && strings.EqualFold(p.peek().val, "NOT") {
		p.consume()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.consume()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ')' but got %q", p.peek().val)
		}
		p.consume()
		return inner, nil
	}
	return p.parseComparison()
}

// comparison = operand op operand
func (p *parser) parseComparison() (Predicate, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator, got %q", t.val)
	}
	p.consume()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &comparison{left: left, op: t.val, right: right}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.consume()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q", t.val)
		}
		return operand{literal: f}, nil
	case tokWord:
		if strings.EqualFold(t.val, "AND") || strings.EqualFold(t.val, "OR") || strings.EqualFold(t.val, "NOT") {
			return operand{}, fmt.Errorf("unexpected keyword %q", t.val)
		}
		p.consume()
		return operand{field: t.val, isField: true}, nil
	default:
		return operand{}, fmt.Errorf("expected operand, got %q", t.val)
	}
}
