// Package expr implements the dependency-free rule language used by the
// `visibleWhen` key of schema fields.
//
// Supported forms:
//   - truthiness: `hasEmployees`
//   - comparisons: `registrationMethod == "uploadDocument"`, `directors != 0`
//   - membership: `entityType in ["pty", "npc"]`
//   - composition: `a == true && (b || !c)`
//
// Values are read from visibility.Context.Values (with dot-path traversal) and
// visibility.Context.Extras via the `extras.` prefix. When the looked up value
// is a list (multi choice answers) `==` tests whether the list contains the
// literal and `!=` tests that it does not.
package expr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/visibility"
)

// Program is a compiled rule. It is immutable and safe for concurrent use.
type Program struct {
	source string
	root   node
	refs   []string
}

// Compile parses a rule. An empty rule compiles to a program that is always
// true.
func Compile(rule string) (*Program, error) {
	trimmed := strings.TrimSpace(rule)
	prog := &Program{source: trimmed}
	if trimmed == "" {
		return prog, nil
	}

	tokens, err := lex(trimmed)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		return nil, fmt.Errorf("visibility/expr: unexpected token %q at %d", tok.text, tok.pos)
	}
	prog.root = root
	prog.refs = collectRefs(root)
	return prog, nil
}

// MustCompile is Compile for rules known at build time.
func MustCompile(rule string) *Program {
	prog, err := Compile(rule)
	if err != nil {
		panic(err)
	}
	return prog
}

// Source returns the trimmed rule text.
func (p *Program) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

// Refs lists the value keys the rule reads, sorted and without duplicates.
// Keys under `extras.` are not reported.
func (p *Program) Refs() []string {
	if p == nil || len(p.refs) == 0 {
		return nil
	}
	return append([]string(nil), p.refs...)
}

// Eval runs the program against ctx.
func (p *Program) Eval(ctx visibility.Context) (bool, error) {
	if p == nil || p.root == nil {
		return true, nil
	}
	return p.root.eval(ctx)
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.match(tokenOr) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.match(tokenAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.match(tokenNot) {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.match(tokenLParen) {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.match(tokenRParen) {
			return nil, errors.New("visibility/expr: missing closing ')'")
		}
		return inner, nil
	}

	ident, ok := p.take(tokenIdent)
	if !ok {
		if p.pos >= len(p.tokens) {
			return nil, errors.New("visibility/expr: unexpected end of rule")
		}
		tok := p.tokens[p.pos]
		return nil, fmt.Errorf("visibility/expr: expected field name, got %q at %d", tok.text, tok.pos)
	}

	switch {
	case p.match(tokenEq):
		lit, err := p.literal()
		if err != nil {
			return nil, err
		}
		return compareNode{key: ident.text, negate: false, want: lit}, nil
	case p.match(tokenNeq):
		lit, err := p.literal()
		if err != nil {
			return nil, err
		}
		return compareNode{key: ident.text, negate: true, want: lit}, nil
	case p.match(tokenIn):
		list, err := p.list()
		if err != nil {
			return nil, err
		}
		return inNode{key: ident.text, options: list}, nil
	}
	return truthyNode{key: ident.text}, nil
}

func (p *parser) list() ([]literal, error) {
	if !p.match(tokenLBracket) {
		return nil, errors.New("visibility/expr: 'in' expects a [list]")
	}
	var out []literal
	if p.match(tokenRBracket) {
		return out, nil
	}
	for {
		lit, err := p.literal()
		if err != nil {
			return nil, err
		}
		out = append(out, lit)
		if p.match(tokenComma) {
			continue
		}
		if p.match(tokenRBracket) {
			return out, nil
		}
		return nil, errors.New("visibility/expr: missing closing ']'")
	}
}

func (p *parser) literal() (literal, error) {
	if p.pos >= len(p.tokens) {
		return literal{}, errors.New("visibility/expr: missing literal")
	}
	tok := p.tokens[p.pos]
	p.pos++
	switch tok.kind {
	case tokenString, tokenIdent:
		// Bare words are read as strings: `method == upload`.
		return literal{kind: litString, text: tok.text}, nil
	case tokenNumber:
		num, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return literal{}, fmt.Errorf("visibility/expr: invalid number %q", tok.text)
		}
		return literal{kind: litNumber, text: tok.text, num: num}, nil
	case tokenBool:
		return literal{kind: litBool, text: tok.text}, nil
	case tokenNull:
		return literal{kind: litNull, text: "null"}, nil
	default:
		return literal{}, fmt.Errorf("visibility/expr: expected literal, got %q at %d", tok.text, tok.pos)
	}
}

func (p *parser) match(kind tokenKind) bool {
	_, ok := p.take(kind)
	return ok
}

func (p *parser) take(kind tokenKind) (token, bool) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != kind {
		return token{}, false
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok, true
}

func collectRefs(root node) []string {
	seen := make(map[string]struct{})
	var walk func(n node)
	walk = func(n node) {
		switch typed := n.(type) {
		case orNode:
			walk(typed.left)
			walk(typed.right)
		case andNode:
			walk(typed.left)
			walk(typed.right)
		case notNode:
			walk(typed.inner)
		case compareNode:
			addRef(seen, typed.key)
		case inNode:
			addRef(seen, typed.key)
		case truthyNode:
			addRef(seen, typed.key)
		}
	}
	walk(root)
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func addRef(seen map[string]struct{}, key string) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(strings.ToLower(key), "extras.") {
		return
	}
	seen[key] = struct{}{}
}
