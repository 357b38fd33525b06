package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenString
	tokenNumber
	tokenBool
	tokenNull
	tokenEq
	tokenNeq
	tokenAnd
	tokenOr
	tokenNot
	tokenIn
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a rule into tokens. Positions are byte offsets used in errors.
func lex(input string) ([]token, error) {
	var out []token
	i := 0
	for i < len(input) {
		ch := input[i]
		switch {
		case isSpace(ch):
			i++
		case ch == '(':
			out = append(out, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case ch == ')':
			out = append(out, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case ch == '[':
			out = append(out, token{kind: tokenLBracket, text: "[", pos: i})
			i++
		case ch == ']':
			out = append(out, token{kind: tokenRBracket, text: "]", pos: i})
			i++
		case ch == ',':
			out = append(out, token{kind: tokenComma, text: ",", pos: i})
			i++
		case ch == '!':
			if peek(input, i+1) == '=' {
				out = append(out, token{kind: tokenNeq, text: "!=", pos: i})
				i += 2
				continue
			}
			out = append(out, token{kind: tokenNot, text: "!", pos: i})
			i++
		case ch == '=':
			if peek(input, i+1) != '=' {
				return nil, fmt.Errorf("visibility/expr: unexpected '=' at %d; use '=='", i)
			}
			out = append(out, token{kind: tokenEq, text: "==", pos: i})
			i += 2
		case ch == '&':
			if peek(input, i+1) != '&' {
				return nil, fmt.Errorf("visibility/expr: unexpected '&' at %d; use '&&'", i)
			}
			out = append(out, token{kind: tokenAnd, text: "&&", pos: i})
			i += 2
		case ch == '|':
			if peek(input, i+1) != '|' {
				return nil, fmt.Errorf("visibility/expr: unexpected '|' at %d; use '||'", i)
			}
			out = append(out, token{kind: tokenOr, text: "||", pos: i})
			i += 2
		case ch == '"' || ch == '\'':
			tok, next, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			out = append(out, tok)
			i = next
		default:
			start := i
			for i < len(input) && !isDelimiter(input[i]) {
				i++
			}
			out = append(out, classifyWord(input[start:i], start))
		}
	}
	return out, nil
}

func lexString(input string, start int) (token, int, error) {
	quote := input[start]
	i := start + 1
	escaped := false
	for i < len(input) {
		c := input[i]
		i++
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c != quote {
			continue
		}
		body := input[start+1 : i-1]
		if quote == '\'' {
			// strconv.Unquote only accepts single quotes around one rune.
			body = strings.ReplaceAll(body, `\'`, `'`)
			body = strings.ReplaceAll(body, `"`, `\"`)
		}
		value, err := strconv.Unquote(`"` + body + `"`)
		if err != nil {
			return token{}, 0, fmt.Errorf("visibility/expr: invalid string literal at %d: %w", start, err)
		}
		return token{kind: tokenString, text: value, pos: start}, i, nil
	}
	return token{}, 0, errors.New("visibility/expr: unterminated string literal")
}

func classifyWord(word string, pos int) token {
	switch strings.ToLower(word) {
	case "true", "false":
		return token{kind: tokenBool, text: strings.ToLower(word), pos: pos}
	case "null", "nil":
		return token{kind: tokenNull, text: "null", pos: pos}
	case "in":
		return token{kind: tokenIn, text: "in", pos: pos}
	}
	if looksNumeric(word) {
		return token{kind: tokenNumber, text: word, pos: pos}
	}
	return token{kind: tokenIdent, text: word, pos: pos}
}

func peek(input string, i int) byte {
	if i >= len(input) {
		return 0
	}
	return input[i]
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isDelimiter(ch byte) bool {
	if isSpace(ch) {
		return true
	}
	switch ch {
	case '(', ')', '[', ']', ',', '!', '=', '&', '|', '"', '\'':
		return true
	}
	return false
}

func looksNumeric(raw string) bool {
	if raw == "" {
		return false
	}
	ch := raw[0]
	if ch == '-' || ch == '+' {
		if len(raw) == 1 {
			return false
		}
		ch = raw[1]
	}
	return ch >= '0' && ch <= '9'
}
