package events

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a compiled arithmetic expression over named scalars:
// numbers, $name references, + - * /, unary minus and parentheses.
type Expr struct {
	src  string
	root exprNode
}

type exprNode interface {
	eval(params map[string]float64) (float64, error)
	refs(out map[string]struct{})
}

type numberNode float64

func (n numberNode) eval(map[string]float64) (float64, error) { return float64(n), nil }
func (n numberNode) refs(map[string]struct{}) {}

type refNode string

func (r refNode) eval(params map[string]float64) (float64, error) {
	v, ok := params[string(r)]
	if !ok {
		return 0, fmt.Errorf("unknown parameter $%s", string(r))
	}
	return v, nil
}

func (r refNode) refs(out map[string]struct{}) { out[string(r)] = struct{}{} }

type negNode struct{ x exprNode }

func (n negNode) eval(params map[string]float64) (float64, error) {
	v, err := n.x.eval(params)
	return -v, err
}

func (n negNode) refs(out map[string]struct{}) { n.x.refs(out) }

type binaryNode struct {
	op   byte
	l, r exprNode
}

func (b binaryNode) eval(params map[string]float64) (float64, error) {
	l, err := b.l.eval(params)
	if err != nil {
		return 0, err
	}
	r, err := b.r.eval(params)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	default:
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	}
}

func (b binaryNode) refs(out map[string]struct{}) {
	b.l.refs(out)
	b.r.refs(out)
}

// Compile parses src. Errors name the byte offset of the problem.
func Compile(src string) (*Expr, error) {
	p := &exprParser{src: src}
	p.skipSpace()
	if p.done() {
		return nil, fmt.Errorf("empty expression")
	}
	root, err := p.parseSum()
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	p.skipSpace()
	if !p.done() {
		return nil, fmt.Errorf("expression %q: unexpected %q at offset %d", src, p.src[p.pos], p.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval evaluates the expression against params.
func (e *Expr) Eval(params map[string]float64) (float64, error) {
	v, err := e.root.eval(params)
	if err != nil {
		return 0, fmt.Errorf("expression %q: %w", e.src, err)
	}
	return v, nil
}

// Refs returns the parameter names the expression reads.
func (e *Expr) Refs() []string {
	set := make(map[string]struct{})
	e.root.refs(set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

func (e *Expr) String() string { return e.src }

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) done() bool { return p.pos >= len(p.src) }

func (p *exprParser) skipSpace() {
	for !p.done() && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) parseSum() (exprNode, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
}

func (p *exprParser) parseProduct() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	switch p.peek() {
	case '-':
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negNode{x: x}, nil
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parseOperand()
}

func (p *exprParser) parseOperand() (exprNode, error) {
	c := p.peek()
	switch {
	case c == 0:
		return nil, fmt.Errorf("unexpected end of expression")
	case c == '(':
		p.pos++
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing ) at offset %d", p.pos)
		}
		p.pos++
		return inner, nil
	case c == '$':
		p.pos++
		start := p.pos
		for !p.done() && isIdentByte(p.src[p.pos]) {
			p.pos++
		}
		if start == p.pos {
			return nil, fmt.Errorf("missing parameter name at offset %d", start)
		}
		return refNode(p.src[start:p.pos]), nil
	case c == '.' || (c >= '0' && c <= '9'):
		start := p.pos
		for !p.done() && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at offset %d", p.src[start:p.pos], start)
		}
		return numberNode(v), nil
	}
	return nil, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// isExpression reports whether a string parameter should be evaluated
// rather than passed through as a word such as "sin" or "additive".
func isExpression(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, "$()+*/") {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
