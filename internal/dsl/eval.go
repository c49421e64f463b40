package dsl

import (
	"golang.org/x/xerrors"

	abichecker "github.com/encukou/abi-checker"
)

// Env is the exact set of bindings a predicate may observe, matching
// spec.md §4.7: the two builds' versions and feature sets, the compile
// option's Limited API flavor, and the `v(major, minor)` constructor.
type Env struct {
	CompileVersion  abichecker.Version
	ExecVersion     abichecker.Version
	CompileFeatures map[string]bool
	ExecFeatures    map[string]bool
	IsLimitedAPI    bool
	LimitedAPI      abichecker.Version // meaningful only if IsLimitedAPI
}

// value is the dynamic type every expression evaluates to.
type value interface{}

// featureSet lets `in` test membership ("'t' in compile_features").
type featureSet map[string]bool

// Eval runs p against env and reports the engine-level classification: nil
// (no expectation, a no-op per spec.md §4.6's decision table),
// *abichecker.ExpectFailure, *abichecker.SkipBuild, or (for a malformed
// predicate body, e.g. a comparison between incompatible types) a plain
// error, which the caller classifies as RunResult ERROR per spec.md §4.7
// ("any other exception is classified as ERROR").
func (p *Predicate) Eval(env Env) error {
	return execBlock(p.stmts, env)
}

func execBlock(stmts []stmt, env Env) error {
	for _, st := range stmts {
		if err := execStmt(st, env); err != nil {
			return err
		}
	}
	return nil
}

func execStmt(st stmt, env Env) error {
	switch s := st.(type) {
	case passStmt:
		return nil
	case raiseStmt:
		v, err := evalExpr(s.Arg, env)
		if err != nil {
			return err
		}
		reason, ok := v.(string)
		if !ok {
			return xerrors.Errorf("%s(...) expects a string reason", s.Kind)
		}
		switch s.Kind {
		case "ExpectFailure":
			return &abichecker.ExpectFailure{Reason: reason}
		case "SkipBuild":
			return &abichecker.SkipBuild{Reason: reason}
		default:
			return xerrors.Errorf("unrecognized raise kind %q", s.Kind)
		}
	case ifStmt:
		cond, err := evalBool(s.cond, env)
		if err != nil {
			return err
		}
		if cond {
			return execBlock(s.body, env)
		}
		for _, clause := range s.elifs {
			cond, err := evalBool(clause.cond, env)
			if err != nil {
				return err
			}
			if cond {
				return execBlock(clause.body, env)
			}
		}
		return execBlock(s.elseBody, env)
	default:
		return xerrors.Errorf("unrecognized statement %T", st)
	}
}

func evalBool(e expr, env Env) (bool, error) {
	v, err := evalExpr(e, env)
	if err != nil {
		return false, err
	}
	return truthy(v)
}

func truthy(v value) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	default:
		return false, xerrors.Errorf("expected a boolean value, got %T (%v)", v, v)
	}
}

func evalExpr(e expr, env Env) (value, error) {
	switch x := e.(type) {
	case numberExpr:
		return x.value, nil
	case stringExpr:
		return x.value, nil
	case boolExpr:
		return x.value, nil
	case identExpr:
		return evalIdent(x.name, env)
	case callExpr:
		return evalCall(x, env)
	case notExpr:
		b, err := evalBool(x.x, env)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case boolOpExpr:
		left, err := evalBool(x.x, env)
		if err != nil {
			return nil, err
		}
		switch x.op {
		case "and":
			if !left {
				return false, nil
			}
			return evalBool(x.y, env)
		case "or":
			if left {
				return true, nil
			}
			return evalBool(x.y, env)
		default:
			return nil, xerrors.Errorf("unrecognized boolean operator %q", x.op)
		}
	case xorExpr:
		left, err := evalBool(x.x, env)
		if err != nil {
			return nil, err
		}
		right, err := evalBool(x.y, env)
		if err != nil {
			return nil, err
		}
		return left != right, nil
	case compareExpr:
		return evalCompare(x, env)
	default:
		return nil, xerrors.Errorf("unrecognized expression %T", e)
	}
}

func evalIdent(name string, env Env) (value, error) {
	switch name {
	case "compile_version":
		return env.CompileVersion, nil
	case "exec_version":
		return env.ExecVersion, nil
	case "compile_features":
		return featureSet(env.CompileFeatures), nil
	case "exec_features":
		return featureSet(env.ExecFeatures), nil
	case "is_limited_api":
		return env.IsLimitedAPI, nil
	case "limited_api":
		if !env.IsLimitedAPI {
			return nil, nil
		}
		return env.LimitedAPI, nil
	default:
		return nil, xerrors.Errorf("unknown name %q", name)
	}
}

func evalCall(c callExpr, env Env) (value, error) {
	switch c.name {
	case "v":
		if len(c.args) != 2 {
			return nil, xerrors.Errorf("v(...) expects exactly 2 arguments (major, minor)")
		}
		major, err := evalInt(c.args[0], env)
		if err != nil {
			return nil, err
		}
		minor, err := evalInt(c.args[1], env)
		if err != nil {
			return nil, err
		}
		return abichecker.Version{Major: major, Minor: minor, Level: abichecker.LevelFinal}, nil
	case "ExpectFailure", "SkipBuild":
		if len(c.args) != 1 {
			return nil, xerrors.Errorf("%s(...) expects exactly 1 argument", c.name)
		}
		return evalExpr(c.args[0], env)
	default:
		return nil, xerrors.Errorf("unknown function %q", c.name)
	}
}

func evalInt(e expr, env Env) (int, error) {
	v, err := evalExpr(e, env)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, xerrors.Errorf("expected an integer, got %T (%v)", v, v)
	}
	return n, nil
}

func evalCompare(c compareExpr, env Env) (value, error) {
	operands := make([]value, len(c.operands))
	for i, oe := range c.operands {
		v, err := evalExpr(oe, env)
		if err != nil {
			return nil, err
		}
		operands[i] = v
	}
	for i, op := range c.ops {
		result, err := compareOne(operands[i], op, operands[i+1])
		if err != nil {
			return nil, err
		}
		if !result {
			return false, nil
		}
	}
	return true, nil
}

func compareOne(left value, op string, right value) (bool, error) {
	if op == "in" {
		s, ok := right.(featureSet)
		if !ok {
			return false, xerrors.Errorf("'in' expects a feature set on the right, got %T", right)
		}
		tag, ok := left.(string)
		if !ok {
			return false, xerrors.Errorf("'in' expects a string on the left, got %T", left)
		}
		return s[tag], nil
	}

	lv, lok := left.(abichecker.Version)
	rv, rok := right.(abichecker.Version)
	if lok && rok {
		return compareVersions(lv, op, rv)
	}

	li, liok := left.(int)
	ri, riok := right.(int)
	if liok && riok {
		return compareInts(li, op, ri), nil
	}

	return false, xerrors.Errorf("cannot compare %T and %T with %q", left, right, op)
}

func compareVersions(a abichecker.Version, op string, b abichecker.Version) (bool, error) {
	switch op {
	case "<":
		return a.Less(b), nil
	case "<=":
		return a.Less(b) || a == b, nil
	case ">":
		return b.Less(a), nil
	case ">=":
		return b.Less(a) || a == b, nil
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	default:
		return false, xerrors.Errorf("unrecognized comparison operator %q", op)
	}
}

func compareInts(a int, op string, b int) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "==":
		return a == b
	case "!=":
		return a != b
	default:
		return false
	}
}
