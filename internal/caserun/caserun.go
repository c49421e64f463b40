// Package caserun implements CaseRun (spec.md §3/§4.6): the pair
// (TestModule, exec Build), the unit whose classified outcome appears in
// the compatibility matrix. Grounded in the original checker's caserun.py,
// translated from its cached_task-decorated get_result into a single
// internal/task.Handle, and from raising/catching Python exceptions into
// Go's explicit error values classified by errors.As.
package caserun

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	abichecker "github.com/encukou/abi-checker"
	"github.com/encukou/abi-checker/internal/dsl"
	"github.com/encukou/abi-checker/internal/interp"
	"github.com/encukou/abi-checker/internal/proc"
	"github.com/encukou/abi-checker/internal/task"
	"github.com/encukou/abi-checker/internal/testmodule"
)

// CaseRun is the pair (TestModule, exec Build): one classified outcome.
type CaseRun struct {
	Proc       *proc.Runner
	CacheDir   string
	TestModule *testmodule.TestModule
	ExecBuild  *interp.Build

	resultTask task.Handle[abichecker.RunResult]

	// Err holds the exception behind a non-SUCCESS/BUILD_FAILURE/
	// EXEC_FAILURE classification (SkipBuild, ExpectFailure, or an
	// internal error for ERROR), once Result has completed. The dashboard
	// surfaces this directly, per spec.md §7.
	err error
}

// Dir is the run directory: <cache>/runs/<case>/<compile build>/<opts>/<exec build>/.
func (r *CaseRun) Dir() string {
	return filepath.Join(r.TestModule.Dir(), r.ExecBuild.Tag())
}

func (r *CaseRun) stdoutLogPath() string { return filepath.Join(r.Dir(), "stdout.log") }
func (r *CaseRun) stderrLogPath() string { return filepath.Join(r.Dir(), "stderr.log") }

// Err returns the exception behind the run's result, once Result has
// completed; nil if the result was (or will be) SUCCESS, or if Result has
// not completed yet.
func (r *CaseRun) Err() error { return r.err }

// Result runs the full pipeline -- compatibility predicate, compile, exec,
// classification -- exactly once, and returns the terminal RunResult.
// Within one CaseRun, the steps are strictly sequential (spec.md §5); two
// CaseRuns sharing a TestModule or Build observe that dependency's own
// single memoized computation, not a repeat of it.
func (r *CaseRun) Result(ctx context.Context) (abichecker.RunResult, error) {
	return r.resultTask.Get(ctx, func(ctx context.Context) (abichecker.RunResult, error) {
		result, err := r.evaluate(ctx)
		r.err = err
		return result, nil
	})
}

// evaluate implements spec.md §4.6's decision table. The returned
// RunResult is the classification; the returned error is the cause behind
// it (the SkipBuild or ExpectFailure raised, or the internal error behind
// ERROR), nil for a plain SUCCESS, BUILD_FAILURE or EXEC_FAILURE. Result
// stashes that cause in r.err for callers that want it (e.g. the dashboard,
// or the CLI's per-run line) instead of returning it.
func (r *CaseRun) evaluate(ctx context.Context) (abichecker.RunResult, error) {
	pred, err := r.TestModule.Case.Predicate()
	if err != nil {
		return abichecker.Error, err
	}

	compileVersion, err := r.TestModule.CompileBuild.Version(ctx)
	if err != nil {
		return abichecker.Error, err
	}
	execVersion, err := r.ExecBuild.Version(ctx)
	if err != nil {
		return abichecker.Error, err
	}

	// The per-case minimum-interpreter-version gate (case.toml's
	// [build-python] table, a supplemented feature grounded in the
	// original checker's BuildPythonSpec) applies to the exec build too,
	// independent of TestModule's own compile-side check, and fires
	// before any expensive work per spec.md §4.6.
	spec, err := r.TestModule.Case.Spec()
	if err != nil {
		return abichecker.Error, err
	}
	if err := spec.VerifyCompatibility(execVersion); err != nil {
		var skip *abichecker.SkipBuild
		if errors.As(err, &skip) {
			return abichecker.Skipped, skip
		}
		return abichecker.Error, err
	}

	var limitedAPI abichecker.Version
	isLimitedAPI := r.TestModule.CompileOption.IsLimitedAPI()
	if isLimitedAPI {
		limitedAPI, _ = r.TestModule.CompileOption.LimitedAPIVersion()
		// spec.md §4.7: an engine-level skip, independent of the
		// predicate, fires when the Limited API level requested is at
		// least as new as the exec interpreter -- such a combination is
		// nonsensical (the exec build cannot have shipped symbols from
		// its own version or a future one).
		if !limitedAPI.Less(execVersion) {
			return abichecker.Skipped, &abichecker.SkipBuild{
				Reason: "limited API " + limitedAPI.String() + " newer than exec version " + execVersion.String(),
			}
		}
	}

	env := dsl.Env{
		CompileVersion:  compileVersion,
		ExecVersion:     execVersion,
		CompileFeatures: featureTags(r.TestModule.CompileBuild),
		ExecFeatures:    featureTags(r.ExecBuild),
		IsLimitedAPI:    isLimitedAPI,
		LimitedAPI:      limitedAPI,
	}

	// SkipBuild is evaluated before any expensive work. An ExpectFailure
	// raised here is not acted on yet: classifyAfterRealOutcome evaluates
	// the predicate again once the real outcome is known. Any other
	// predicate error is ERROR.
	if predErr := pred.Eval(env); predErr != nil {
		var skip *abichecker.SkipBuild
		if errors.As(predErr, &skip) {
			return abichecker.Skipped, skip
		}
		var expect *abichecker.ExpectFailure
		if !errors.As(predErr, &expect) {
			return abichecker.Error, predErr
		}
	}

	compileResult, err := r.TestModule.Result(ctx)
	if err != nil {
		var skip *abichecker.SkipBuild
		if errors.As(err, &skip) {
			return abichecker.Skipped, skip
		}
		return abichecker.Error, err
	}
	if compileResult == abichecker.BuildFailure {
		return r.classifyAfterRealOutcome(pred, env, abichecker.BuildFailure)
	}

	execResult, execErr := r.exec(ctx)
	if execErr != nil {
		return abichecker.Error, execErr
	}
	return r.classifyAfterRealOutcome(pred, env, execResult)
}

// classifyAfterRealOutcome evaluates the predicate a second time now that
// the real build/exec outcome is known, implementing the rest of spec.md
// §4.6's decision table (ExpectFailure vs no expectation).
func (r *CaseRun) classifyAfterRealOutcome(pred *dsl.Predicate, env dsl.Env, real abichecker.RunResult) (abichecker.RunResult, error) {
	predErr := pred.Eval(env)
	if predErr == nil {
		return real, nil
	}
	var expect *abichecker.ExpectFailure
	if errors.As(predErr, &expect) {
		if real == abichecker.Success {
			return abichecker.UnexpectedSuccess, expect
		}
		return abichecker.ExpectedFailureResult, expect
	}
	var skip *abichecker.SkipBuild
	if errors.As(predErr, &skip) {
		// Not reachable per spec.md's stated evaluation order (SkipBuild
		// is meant to fire before expensive work), but a predicate may
		// raise it unconditionally regardless of phase; honor it rather
		// than mask it as ERROR.
		return abichecker.Skipped, skip
	}
	return abichecker.Error, predErr
}

func (r *CaseRun) exec(ctx context.Context) (abichecker.RunResult, error) {
	dir := r.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return abichecker.Error, xerrors.Errorf("creating run dir: %w", err)
	}
	scratch, err := os.MkdirTemp("", "abi-checker-exec-*")
	if err != nil {
		return abichecker.Error, xerrors.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	executable, err := r.ExecBuild.Executable(ctx)
	if err != nil {
		return abichecker.Error, err
	}
	env := append(os.Environ(), "PYTHONPATH="+r.TestModule.Dir())
	res, err := r.Proc.Run(ctx, proc.Request{
		Argv:   []string{executable, r.TestModule.Case.ScriptPath()},
		Dir:    scratch,
		Env:    env,
		Stdout: proc.Stream{File: r.stdoutLogPath()},
		Stderr: proc.Stream{File: r.stderrLogPath()},
		Check:  false,
	})
	if err != nil {
		return abichecker.Error, xerrors.Errorf("executing %s under %s: %w", r.TestModule.Case.Tag, r.ExecBuild, err)
	}
	if res.ExitCode != 0 {
		return abichecker.ExecFailure, nil
	}
	return abichecker.Success, nil
}

func featureTags(b *interp.Build) map[string]bool {
	tags := make(map[string]bool, len(b.Features))
	for _, f := range b.Features {
		tags[f.Tag] = true
	}
	return tags
}
