package dsl

import (
	"strings"

	"golang.org/x/xerrors"
)

// Predicate is a compiled compatibility predicate: the parsed statement
// tree of one case's expected.py-equivalent script.
type Predicate struct {
	stmts []stmt
}

type stmt interface{ isStmt() }

type ifStmt struct {
	cond     expr
	body     []stmt
	elifs    []elifClause
	elseBody []stmt
}

type elifClause struct {
	cond expr
	body []stmt
}

type raiseStmt struct {
	// Kind is "ExpectFailure" or "SkipBuild".
	Kind string
	Arg  expr
}

type passStmt struct{}

func (ifStmt) isStmt()    {}
func (raiseStmt) isStmt() {}
func (passStmt) isStmt()  {}

type expr interface{ isExpr() }

type identExpr struct{ name string }
type numberExpr struct{ value int }
type stringExpr struct{ value string }
type boolExpr struct{ value bool }
type callExpr struct {
	name string
	args []expr
}
type notExpr struct{ x expr }
type boolOpExpr struct {
	op   string // "and", "or"
	x, y expr
}
type xorExpr struct{ x, y expr }

// compareExpr models Python's chained comparisons: `a < b < c` means
// `a < b and b < c`, each comparison evaluated once against its neighbor.
type compareExpr struct {
	operands []expr
	ops      []string // len(ops) == len(operands)-1
}

func (identExpr) isExpr()   {}
func (numberExpr) isExpr()  {}
func (stringExpr) isExpr()  {}
func (boolExpr) isExpr()    {}
func (callExpr) isExpr()    {}
func (notExpr) isExpr()     {}
func (boolOpExpr) isExpr()  {}
func (xorExpr) isExpr()     {}
func (compareExpr) isExpr() {}

// rawLine is one non-blank, non-comment-only logical line plus its
// indentation depth (number of leading spaces; tabs are not supported,
// matching the space-indented style every case in the pack uses).
type rawLine struct {
	indent int
	toks   []token
}

// Compile parses source (an expected.py-equivalent script: if/elif/else
// blocks guarding `raise ExpectFailure(...)`/`raise SkipBuild(...)`, or
// `pass`) into a Predicate ready for repeated Eval calls. An empty or
// all-comment source compiles to an empty predicate (spec.md §6: "Missing
// file ≡ empty predicate").
func Compile(source string) (*Predicate, error) {
	lines, err := splitLines(source)
	if err != nil {
		return nil, err
	}
	pos := 0
	stmts, err := parseBlock(lines, &pos, 0)
	if err != nil {
		return nil, err
	}
	if pos != len(lines) {
		return nil, xerrors.Errorf("unexpected indentation at line %d", pos+1)
	}
	return &Predicate{stmts: stmts}, nil
}

func splitLines(source string) ([]rawLine, error) {
	var lines []rawLine
	for _, raw := range strings.Split(source, "\n") {
		trimmed := strings.TrimLeft(raw, " ")
		indent := len(raw) - len(trimmed)
		stripped := strings.TrimRight(trimmed, " \t\r")
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}
		toks, err := tokenizeLine(stripped)
		if err != nil {
			return nil, err
		}
		if len(toks) == 0 {
			continue
		}
		lines = append(lines, rawLine{indent: indent, toks: toks})
	}
	return lines, nil
}

func parseBlock(lines []rawLine, pos *int, indent int) ([]stmt, error) {
	var stmts []stmt
	for *pos < len(lines) {
		ln := lines[*pos]
		if ln.indent < indent {
			break
		}
		if ln.indent > indent {
			return nil, xerrors.Errorf("unexpected indent at line %d", *pos+1)
		}
		st, err := parseStmt(lines, pos, indent)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
	}
	return stmts, nil
}

func parseStmt(lines []rawLine, pos *int, indent int) (stmt, error) {
	ln := lines[*pos]
	if len(ln.toks) == 0 {
		return nil, xerrors.Errorf("empty statement at line %d", *pos+1)
	}
	head := ln.toks[0]
	switch {
	case head.kind == tokIdent && head.text == "if":
		return parseIf(lines, pos, indent)
	case head.kind == tokIdent && head.text == "raise":
		*pos++
		return parseRaise(ln.toks[1:])
	case head.kind == tokIdent && head.text == "pass":
		*pos++
		return passStmt{}, nil
	default:
		return nil, xerrors.Errorf("unexpected statement at line %d: %v", *pos+1, head.text)
	}
}

func parseIf(lines []rawLine, pos *int, indent int) (stmt, error) {
	ln := lines[*pos]
	*pos++
	condToks, err := trimTrailingColon(ln.toks[1:])
	if err != nil {
		return nil, err
	}
	cond, err := parseExpr(condToks)
	if err != nil {
		return nil, err
	}
	body, childIndent, err := parseBody(lines, pos, indent)
	if err != nil {
		return nil, err
	}
	_ = childIndent

	st := ifStmt{cond: cond, body: body}
	for *pos < len(lines) && lines[*pos].indent == indent &&
		len(lines[*pos].toks) > 0 && lines[*pos].toks[0].kind == tokIdent && lines[*pos].toks[0].text == "elif" {
		eln := lines[*pos]
		*pos++
		econdToks, err := trimTrailingColon(eln.toks[1:])
		if err != nil {
			return nil, err
		}
		econd, err := parseExpr(econdToks)
		if err != nil {
			return nil, err
		}
		ebody, _, err := parseBody(lines, pos, indent)
		if err != nil {
			return nil, err
		}
		st.elifs = append(st.elifs, elifClause{cond: econd, body: ebody})
	}
	if *pos < len(lines) && lines[*pos].indent == indent &&
		len(lines[*pos].toks) > 0 && lines[*pos].toks[0].kind == tokIdent && lines[*pos].toks[0].text == "else" {
		eln := lines[*pos]
		if _, err := trimTrailingColon(eln.toks[1:]); err != nil {
			return nil, err
		}
		*pos++
		elseBody, _, err := parseBody(lines, pos, indent)
		if err != nil {
			return nil, err
		}
		st.elseBody = elseBody
	}
	return st, nil
}

// parseBody parses the indented block following a colon-terminated header
// line (if/elif/else). Python-style: the body's indent is whatever the
// first body line happens to use, not a fixed increment.
func parseBody(lines []rawLine, pos *int, parentIndent int) ([]stmt, int, error) {
	if *pos >= len(lines) || lines[*pos].indent <= parentIndent {
		return nil, parentIndent, xerrors.Errorf("expected an indented block at line %d", *pos+1)
	}
	childIndent := lines[*pos].indent
	body, err := parseBlock(lines, pos, childIndent)
	if err != nil {
		return nil, childIndent, err
	}
	return body, childIndent, nil
}

func trimTrailingColon(toks []token) ([]token, error) {
	if len(toks) == 0 || toks[len(toks)-1].kind != tokPunct || toks[len(toks)-1].text != ":" {
		return nil, xerrors.Errorf("expected trailing ':'")
	}
	return toks[:len(toks)-1], nil
}

func parseRaise(toks []token) (stmt, error) {
	if len(toks) < 1 || toks[0].kind != tokIdent {
		return nil, xerrors.Errorf("raise: expected ExpectFailure(...) or SkipBuild(...)")
	}
	kind := toks[0].text
	if kind != "ExpectFailure" && kind != "SkipBuild" {
		return nil, xerrors.Errorf("raise: unrecognized error kind %q (only ExpectFailure/SkipBuild)", kind)
	}
	e, err := parseExpr(toks)
	if err != nil {
		return nil, err
	}
	call, ok := e.(callExpr)
	if !ok || len(call.args) != 1 {
		return nil, xerrors.Errorf("raise %s: expected exactly one reason argument", kind)
	}
	return raiseStmt{Kind: kind, Arg: call.args[0]}, nil
}

// --- expression parser ---
//
// Precedence, low to high: or, and, not, xor (^), comparison chain
// (</<=/>/>=/==/!=/in), primary. This is a strict subset of Python's
// operator grammar -- exactly the operators the pack's case authors
// actually use in expected.py predicates.

type exprParser struct {
	toks []token
	pos  int
}

func parseExpr(toks []token) (expr, error) {
	p := &exprParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, xerrors.Errorf("unexpected trailing tokens starting at %q", p.toks[p.pos].text)
	}
	return e, nil
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) atKeyword(kw string) bool {
	t, ok := p.peek()
	return ok && t.kind == tokIdent && t.text == kw
}

func (p *exprParser) atPunct(s string) bool {
	t, ok := p.peek()
	return ok && t.kind == tokPunct && t.text == s
}

func (p *exprParser) parseOr() (expr, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("or") {
		p.pos++
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = boolOpExpr{op: "or", x: x, y: y}
	}
	return x, nil
}

func (p *exprParser) parseAnd() (expr, error) {
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("and") {
		p.pos++
		y, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		x = boolOpExpr{op: "and", x: x, y: y}
	}
	return x, nil
}

func (p *exprParser) parseNot() (expr, error) {
	if p.atKeyword("not") {
		p.pos++
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{x: x}, nil
	}
	return p.parseXor()
}

func (p *exprParser) parseXor() (expr, error) {
	x, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.atPunct("^") {
		p.pos++
		y, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		x = xorExpr{x: x, y: y}
	}
	return x, nil
}

var compareOps = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true,
}

func (p *exprParser) parseComparison() (expr, error) {
	first, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	var operands []expr
	var ops []string
	operands = append(operands, first)
	for {
		if t, ok := p.peek(); ok && t.kind == tokPunct && compareOps[t.text] {
			p.pos++
			next, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			ops = append(ops, t.text)
			operands = append(operands, next)
			continue
		}
		if p.atKeyword("in") {
			p.pos++
			next, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			ops = append(ops, "in")
			operands = append(operands, next)
			continue
		}
		break
	}
	if len(ops) == 0 {
		return first, nil
	}
	return compareExpr{operands: operands, ops: ops}, nil
}

func (p *exprParser) parsePrimary() (expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, xerrors.Errorf("unexpected end of expression")
	}
	switch {
	case t.kind == tokPunct && t.text == "(":
		p.pos++
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.atPunct(")") {
			return nil, xerrors.Errorf("expected ')'")
		}
		p.pos++
		return x, nil
	case t.kind == tokNumber:
		p.pos++
		return numberExpr{value: parseInt(t.text)}, nil
	case t.kind == tokString:
		p.pos++
		return stringExpr{value: t.text}, nil
	case t.kind == tokIdent && t.text == "True":
		p.pos++
		return boolExpr{value: true}, nil
	case t.kind == tokIdent && t.text == "False":
		p.pos++
		return boolExpr{value: false}, nil
	case t.kind == tokIdent:
		p.pos++
		if p.atPunct("(") {
			p.pos++
			var args []expr
			if !p.atPunct(")") {
				for {
					arg, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.atPunct(",") {
						p.pos++
						continue
					}
					break
				}
			}
			if !p.atPunct(")") {
				return nil, xerrors.Errorf("expected ')' after call arguments to %s", t.text)
			}
			p.pos++
			return callExpr{name: t.text, args: args}, nil
		}
		return identExpr{name: t.text}, nil
	default:
		return nil, xerrors.Errorf("unexpected token %q", t.text)
	}
}
