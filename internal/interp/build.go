// Package interp implements a Build: one configured-and-compiled interpreter,
// identified by a commit plus a set of features (spec.md §4.4 Build).
// Grounded in the original checker's build.py, translated from its
// asyncio.Lock-guarded cached coroutines into single-flight internal/task
// handles — per spec.md §9's recommendation, the memoization alone is
// sufficient and the extra lock is dropped rather than carried over.
package interp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"golang.org/x/xerrors"

	abichecker "github.com/encukou/abi-checker"
	"github.com/encukou/abi-checker/internal/compileopt"
	"github.com/encukou/abi-checker/internal/feature"
	"github.com/encukou/abi-checker/internal/proc"
	"github.com/encukou/abi-checker/internal/scm"
	"github.com/encukou/abi-checker/internal/task"
)

// Build is one configured-and-compiled interpreter: a commit checked out and
// built with a given set of features (e.g. free-threading).
type Build struct {
	Proc     *proc.Runner
	CacheDir string
	Commit   *scm.Commit
	Features []feature.Feature

	buildDirTask   task.Handle[string]
	configureTask  task.Handle[struct{}]
	executableTask task.Handle[string]
	versionTask    task.Handle[abichecker.Version]
	compilerTask   task.Handle[string]
	flagsTask      task.Handle[[]string]
	optionsTask    task.Handle[[]compileopt.CompileOption]
}

// Tag identifies b on disk and in reports: the commit name, plus "~" and
// each feature's tag character if any features are set.
func (b *Build) Tag() string {
	if len(b.Features) == 0 {
		return b.Commit.Name
	}
	var tags strings.Builder
	tags.WriteString(b.Commit.Name)
	tags.WriteByte('~')
	for _, f := range b.Features {
		tags.WriteString(f.Tag)
	}
	return tags.String()
}

func (b *Build) String() string { return b.Tag() }

// buildDir returns <cache>/build-<tag>-<hash>, creating no directory yet.
func (b *Build) buildDir(ctx context.Context) (string, error) {
	return b.buildDirTask.Get(ctx, func(ctx context.Context) (string, error) {
		hash, err := b.Commit.CommitHash(ctx)
		if err != nil {
			return "", err
		}
		return filepath.Join(b.CacheDir, fmt.Sprintf("build-%s-%s", b.Tag(), hash)), nil
	})
}

func (b *Build) configLogPath(ctx context.Context) (string, error) {
	dir, err := b.buildDir(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "_config.log"), nil
}

// Configure verifies every feature is compatible with the commit, checks out
// a worktree, and runs `configure` with the union of the features' configure
// options. It is a no-op if the build directory already has a Makefile.
func (b *Build) Configure(ctx context.Context) error {
	_, err := b.configureTask.Get(ctx, func(ctx context.Context) (struct{}, error) {
		dir, err := b.buildDir(ctx)
		if err != nil {
			return struct{}{}, err
		}
		makefile := filepath.Join(dir, "Makefile")
		if _, err := os.Stat(makefile); err == nil {
			return struct{}{}, nil
		}

		commitVersion, err := b.Commit.Version(ctx)
		if err != nil {
			return struct{}{}, err
		}
		for _, f := range b.Features {
			if err := f.VerifyCompatibility(ctx, commitVersion); err != nil {
				return struct{}{}, err
			}
		}

		worktree, err := b.Commit.Worktree(ctx)
		if err != nil {
			return struct{}{}, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return struct{}{}, xerrors.Errorf("creating build dir %s: %w", dir, err)
		}

		var configOptions []string
		for _, f := range b.Features {
			configOptions = append(configOptions, f.ConfigOptions...)
		}
		logPath, err := b.configLogPath(ctx)
		if err != nil {
			return struct{}{}, err
		}
		argv := append([]string{filepath.Join(worktree, "configure")}, configOptions...)
		if _, err := b.Proc.Run(ctx, proc.Request{
			Argv:   argv,
			Dir:    dir,
			Stdout: proc.Stream{File: logPath},
			Stderr: proc.Stream{File: logPath},
			Check:  true,
		}); err != nil {
			return struct{}{}, xerrors.Errorf("configuring %s: %w", b, err)
		}
		return struct{}{}, nil
	})
	return err
}

// Executable returns the path to the built `python` binary, configuring and
// compiling it first if necessary.
func (b *Build) Executable(ctx context.Context) (string, error) {
	return b.executableTask.Get(ctx, func(ctx context.Context) (string, error) {
		dir, err := b.buildDir(ctx)
		if err != nil {
			return "", err
		}
		executable := filepath.Join(dir, "python")
		if _, err := os.Stat(executable); err == nil {
			return executable, nil
		}
		if err := b.Configure(ctx); err != nil {
			return "", err
		}
		if _, err := os.Stat(executable); err == nil {
			return executable, nil
		}

		jobs := runtime.NumCPU()
		if jobs < 2 {
			jobs = 2
		}
		if n, err := strconv.Atoi(os.Getenv("ABI_CHECKER_MAKE_JOBS")); err == nil && n > 0 {
			jobs = n
		}
		makeLog := filepath.Join(dir, "make.log")
		if _, err := b.Proc.Run(ctx, proc.Request{
			Argv:   []string{"make", "-j", strconv.Itoa(jobs)},
			Dir:    dir,
			Stdout: proc.Stream{File: makeLog},
			Stderr: proc.Stream{File: makeLog},
			Check:  true,
		}); err != nil {
			return "", xerrors.Errorf("building %s: %w", b, err)
		}

		version, err := b.probeVersion(ctx, executable)
		if err != nil {
			return "", err
		}
		threshold, _ := abichecker.Pack(3, 7, 0, 0xf, 0)
		if threshold.Less(version) {
			if _, err := b.Proc.Run(ctx, proc.Request{
				Argv:   []string{"make", "pythoninfo"},
				Dir:    dir,
				Stdout: proc.Stream{File: filepath.Join(dir, "pythoninfo")},
				Check:  true,
			}); err != nil {
				return "", xerrors.Errorf("make pythoninfo for %s: %w", b, err)
			}
		}
		return executable, nil
	})
}

// RunPython runs the built interpreter with the given arguments.
func (b *Build) RunPython(ctx context.Context, args ...string) (*proc.Result, error) {
	executable, err := b.Executable(ctx)
	if err != nil {
		return nil, err
	}
	return b.Proc.Run(ctx, proc.Request{
		Argv:   append([]string{executable}, args...),
		Stdout: proc.Stream{Capture: true},
		Stderr: proc.Stream{Capture: true},
		Check:  true,
	})
}

func (b *Build) probeVersion(ctx context.Context, executable string) (abichecker.Version, error) {
	res, err := b.Proc.Run(ctx, proc.Request{
		Argv:   []string{executable, "-c", "import sys; print(sys.hexversion)"},
		Stdout: proc.Stream{Capture: true},
		Check:  true,
	})
	if err != nil {
		return abichecker.Version{}, xerrors.Errorf("probing version of %s: %w", b, err)
	}
	hex, err := strconv.ParseUint(strings.TrimSpace(string(res.Stdout)), 10, 32)
	if err != nil {
		return abichecker.Version{}, xerrors.Errorf("parsing hexversion output %q: %w", res.Stdout, err)
	}
	return abichecker.VersionFromHex(uint32(hex))
}

// Version reports the built interpreter's CPython version.
func (b *Build) Version(ctx context.Context) (abichecker.Version, error) {
	return b.versionTask.Get(ctx, func(ctx context.Context) (abichecker.Version, error) {
		executable, err := b.Executable(ctx)
		if err != nil {
			return abichecker.Version{}, err
		}
		return b.probeVersion(ctx, executable)
	})
}

// Compiler reports the C compiler the build was configured with
// (sysconfig's CC variable).
func (b *Build) Compiler(ctx context.Context) (string, error) {
	return b.compilerTask.Get(ctx, func(ctx context.Context) (string, error) {
		res, err := b.RunPython(ctx, "-c", `import sysconfig; print(sysconfig.get_config_var('CC'))`)
		if err != nil {
			return "", xerrors.Errorf("getting compiler for %s: %w", b, err)
		}
		return strings.TrimSpace(string(res.Stdout)), nil
	})
}

// Flags reports the compiler/linker flags reported by the build's shipped
// python-config.py --cflags --ldflags, tokenized with POSIX shell-word
// rules (a quoted include path must survive as one argument).
func (b *Build) Flags(ctx context.Context) ([]string, error) {
	return b.flagsTask.Get(ctx, func(ctx context.Context) ([]string, error) {
		dir, err := b.buildDir(ctx)
		if err != nil {
			return nil, err
		}
		res, err := b.RunPython(ctx, filepath.Join(dir, "python-config.py"), "--cflags", "--ldflags")
		if err != nil {
			return nil, xerrors.Errorf("getting flags for %s: %w", b, err)
		}
		flags, err := shlex.Split(strings.TrimSpace(string(res.Stdout)))
		if err != nil {
			return nil, xerrors.Errorf("tokenizing python-config output for %s: %w", b, err)
		}
		return flags, nil
	})
}

// PossibleCompileOptions enumerates the compile options b can build
// extensions for: unrestricted, the Limited API sentinel, and a limited API
// pinned to each minor version from 3.9 up to the commit's own minor.
func (b *Build) PossibleCompileOptions(ctx context.Context) ([]compileopt.CompileOption, error) {
	return b.optionsTask.Get(ctx, func(ctx context.Context) ([]compileopt.CompileOption, error) {
		result := []compileopt.CompileOption{compileopt.Unrestricted, compileopt.NewLimitedAPI(3)}
		version, err := b.Commit.Version(ctx)
		if err != nil {
			return nil, err
		}
		for minor := 9; minor <= version.Minor; minor++ {
			result = append(result, compileopt.NewLimitedAPI(int64(3<<24|minor<<16)))
		}
		return result, nil
	})
}
