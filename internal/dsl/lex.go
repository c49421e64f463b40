// Package dsl implements the compatibility predicate language of spec.md
// §4.7: each case may carry an expected.py-like script that is evaluated
// once per (compile build, compile option, exec build) to decide whether a
// real failure was expected. Per spec.md §9's explicit recommendation
// (option (b): "a restricted expression language with a hand-written
// evaluator whose environment is exactly the bindings listed in §4.7"),
// this is not a Python interpreter: it is a small hand-written
// if/elif/else + raise language over version/feature comparisons, grounded
// directly in the shape of predicates the original checker's case authors
// actually write (see cases/tutorial-simple-3.13/expected.py).
package dsl

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

var keywords = map[string]bool{
	"if": true, "elif": true, "else": true, "and": true, "or": true,
	"not": true, "in": true, "raise": true, "pass": true,
	"True": true, "False": true,
}

// tokenizeLine splits one logical line (with indentation and comment-only
// lines already dropped by the block parser) into tokens; a trailing
// `#` comment ends the line.
func tokenizeLine(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '#':
			i = len(s)
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(s) && s[j] != quote {
				j++
			}
			if j >= len(s) {
				return nil, xerrors.Errorf("unterminated string literal: %q", s[i:])
			}
			toks = append(toks, token{tokString, s[i+1 : j]})
			i = j + 1
		case c >= '0' && c <= '9':
			j := i
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		case strings.HasPrefix(s[i:], "<="), strings.HasPrefix(s[i:], ">="),
			strings.HasPrefix(s[i:], "=="), strings.HasPrefix(s[i:], "!="):
			toks = append(toks, token{tokPunct, s[i : i+2]})
			i += 2
		case c == '<' || c == '>' || c == '(' || c == ')' || c == ',' || c == ':' || c == '^':
			toks = append(toks, token{tokPunct, string(c)})
			i++
		default:
			return nil, xerrors.Errorf("unexpected character %q in %q", c, s)
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
