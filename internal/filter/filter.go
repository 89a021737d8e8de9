// Package filter implements the engine's Filter component (spec §4.4):
// a keyword substring match plus a boolean marker-expression grammar,
// applied together when both are supplied. Grounded on
// standardbeagle-lci's internal/search query-parsing shape (hand-rolled
// recursive-descent over a small reserved-word grammar) — there is no
// pack dependency for boolean expression parsing, and a grammar this
// small (three productions, no operator precedence beyond and/or/not)
// does not warrant pulling in a general parser-combinator library.
package filter

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

// Expr is a parsed marker expression's predicate tree (spec §4.4 grammar).
type Expr interface {
	eval(markers types.MarkerSet) bool
}

type identExpr struct{ name string }

func (e identExpr) eval(m types.MarkerSet) bool { return m.Has(e.name) }

type notExpr struct{ inner Expr }

func (e notExpr) eval(m types.MarkerSet) bool { return !e.inner.eval(m) }

type andExpr struct{ left, right Expr }

func (e andExpr) eval(m types.MarkerSet) bool { return e.left.eval(m) && e.right.eval(m) }

type orExpr struct{ left, right Expr }

func (e orExpr) eval(m types.MarkerSet) bool { return e.left.eval(m) || e.right.eval(m) }

// Filter holds the parsed, reusable criteria built once at CLI time (spec
// §6.4 "Parsing is performed once at CLI time").
type Filter struct {
	Keyword string // substring match against TestItem.DisplayID(); empty disables
	Marker  Expr   // nil disables
}

// New parses keyword and markerExpr into a reusable Filter. An empty
// markerExpr disables marker filtering; an empty keyword disables keyword
// filtering (spec §4.4 "Both are optional").
func New(keyword, markerExpr string) (*Filter, error) {
	f := &Filter{Keyword: keyword}
	if strings.TrimSpace(markerExpr) != "" {
		expr, err := Parse(markerExpr)
		if err != nil {
			return nil, err
		}
		f.Marker = expr
	}
	return f, nil
}

// Apply returns the subset of items matching both configured criteria, in
// their original relative order (spec §4.4 "Output": "the filtered,
// ordered TestItem vector").
func (f *Filter) Apply(items []types.TestItem) []types.TestItem {
	if f.Keyword == "" && f.Marker == nil {
		return items
	}
	out := make([]types.TestItem, 0, len(items))
	for _, it := range items {
		if f.Keyword != "" && !strings.Contains(it.DisplayID(), f.Keyword) {
			continue
		}
		if f.Marker != nil && !f.Marker.eval(it.Markers) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Parse builds a predicate tree from a marker expression (spec §4.4/§6.4
// grammar): `Expr := Term (('or') Term)*; Term := Factor (('and') Factor)*;
// Factor := 'not' Factor | '(' Expr ')' | <ident>`.
func Parse(input string) (Expr, error) {
	p := &parser{tokens: tokenize(input)}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("filter: unexpected token %q after expression", p.tokens[p.pos])
	}
	return expr, nil
}

// identChars are the characters the grammar permits in a marker
// identifier: letters, digits, underscore, hyphen (spec §6.4).
func isIdentChar(r byte) bool {
	return r == '_' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func tokenize(input string) []string {
	var tokens []string
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, string(c))
			i++
		default:
			start := i
			for i < len(input) && isIdentChar(input[i]) {
				i++
			}
			if i == start {
				// Unrecognised character: keep as its own single-byte
				// token so the parser reports a precise error instead of
				// looping forever.
				tokens = append(tokens, string(input[i]))
				i++
				continue
			}
			tokens = append(tokens, input[start:i])
		}
	}
	return tokens
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) peek() (string, bool) {
	if p.pos >= len(p.tokens) {
		return "", false
	}
	return p.tokens[p.pos], true
}

func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok != "or" {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok != "and" {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
}

func (p *parser) parseFactor() (Expr, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("filter: unexpected end of expression")
	}
	switch tok {
	case "not":
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	case "(":
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closeTok, ok := p.peek()
		if !ok || closeTok != ")" {
			return nil, fmt.Errorf("filter: expected ')' to close group")
		}
		p.pos++
		return inner, nil
	case "and", "or", ")":
		return nil, fmt.Errorf("filter: unexpected keyword %q", tok)
	default:
		p.pos++
		return identExpr{name: tok}, nil
	}
}
