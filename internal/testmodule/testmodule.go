// Package testmodule implements TestModule (spec.md §3/§4.5): the unique
// compiled-extension artifact for one (case, compile build, compile
// option). Grounded in the original checker's testmodule.py.
package testmodule

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	abichecker "github.com/encukou/abi-checker"
	"github.com/encukou/abi-checker/internal/compileopt"
	"github.com/encukou/abi-checker/internal/interp"
	"github.com/encukou/abi-checker/internal/proc"
	"github.com/encukou/abi-checker/internal/task"
	"github.com/encukou/abi-checker/internal/testcase"
)

// TestModule is the triple (Case, Build, CompileOption): it uniquely
// identifies one compiled extension artifact and its compile log.
type TestModule struct {
	Proc          *proc.Runner
	CacheDir      string
	Case          *testcase.Case
	CompileBuild  *interp.Build
	CompileOption compileopt.CompileOption

	flagsTask  task.Handle[[]string]
	resultTask task.Handle[abichecker.RunResult]
}

// Dir is the artifact directory: <cache>/runs/<case>/<build>/<opts>/.
func (m *TestModule) Dir() string {
	return filepath.Join(
		m.CacheDir, "runs",
		m.Case.Tag, m.CompileBuild.Tag(), m.CompileOption.Tag(),
	)
}

// ExtensionPath is the compiled shared-object artifact's path.
func (m *TestModule) ExtensionPath() string {
	return filepath.Join(m.Dir(), "extension.so")
}

func (m *TestModule) compileLogPath() string {
	return filepath.Join(m.Dir(), "compile.log")
}

// Flags is the concatenation of the compile build's own flags, the
// compile option's flags, every feature's flags, and -I<case path>
// (spec.md §4.5 Flags).
func (m *TestModule) Flags(ctx context.Context) ([]string, error) {
	return m.flagsTask.Get(ctx, func(ctx context.Context) ([]string, error) {
		buildFlags, err := m.CompileBuild.Flags(ctx)
		if err != nil {
			return nil, err
		}
		flags := append([]string{}, buildFlags...)
		flags = append(flags, m.CompileOption.CFlags()...)
		for _, f := range m.CompileBuild.Features {
			flags = append(flags, f.CFlags...)
		}
		flags = append(flags, "-I"+m.Case.Path)
		return flags, nil
	})
}

// Result compiles the extension (if not already done) and reports
// SUCCESS or BUILD_FAILURE. It is memoized, so within one process each
// key compiles at most once. A fresh process that finds the extension
// artifact already on disk reports SUCCESS without invoking the compiler;
// otherwise any stale artifact is removed before compiling, so the
// compile directory holds at most one extension artifact per tag
// (spec.md invariant 4).
func (m *TestModule) Result(ctx context.Context) (abichecker.RunResult, error) {
	return m.resultTask.Get(ctx, func(ctx context.Context) (abichecker.RunResult, error) {
		if spec, err := m.Case.Spec(); err != nil {
			return abichecker.RunResult{}, err
		} else if version, err := m.CompileBuild.Version(ctx); err != nil {
			return abichecker.RunResult{}, err
		} else if err := spec.VerifyCompatibility(version); err != nil {
			return abichecker.RunResult{}, err
		}

		if _, err := os.Stat(m.ExtensionPath()); err == nil {
			return abichecker.Success, nil
		}

		if err := os.MkdirAll(m.Dir(), 0o755); err != nil {
			return abichecker.RunResult{}, xerrors.Errorf("creating test-module dir: %w", err)
		}
		cc, err := m.CompileBuild.Compiler(ctx)
		if err != nil {
			return abichecker.RunResult{}, err
		}
		flags, err := m.Flags(ctx)
		if err != nil {
			return abichecker.RunResult{}, err
		}

		extensionPath := m.ExtensionPath()
		os.Remove(extensionPath)

		scratch, err := os.MkdirTemp("", "abi-checker-compile-*")
		if err != nil {
			return abichecker.RunResult{}, xerrors.Errorf("creating scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)

		argv := append([]string{cc}, flags...)
		argv = append(argv, "--shared", m.Case.ExtensionSourcePath(), "-o", extensionPath, "-fPIC")
		logPath := m.compileLogPath()
		res, err := m.Proc.Run(ctx, proc.Request{
			Argv:   argv,
			Dir:    scratch,
			Stdout: proc.Stream{File: logPath},
			Stderr: proc.Stream{File: logPath},
			Check:  false,
		})
		if err != nil {
			return abichecker.RunResult{}, xerrors.Errorf("compiling %s against %s: %w", m.Case.Tag, m.CompileBuild, err)
		}
		if res.ExitCode != 0 {
			return abichecker.BuildFailure, nil
		}
		return abichecker.Success, nil
	})
}
