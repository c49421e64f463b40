package testmodule

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/encukou/abi-checker/internal/compileopt"
	"github.com/encukou/abi-checker/internal/interp"
	"github.com/encukou/abi-checker/internal/proc"
	"github.com/encukou/abi-checker/internal/scm"
	"github.com/encukou/abi-checker/internal/testcase"
)

// newFixture builds a tiny real git repo standing in for a CPython
// checkout (same shape as internal/interp's own fixture), plus a case
// directory and a fake compiler script (fake-cc.sh, copied into the build
// directory and reported as CC by the fake interpreter) so
// TestModule.Result can run a real subprocess without actually invoking a
// C compiler.
func newFixture(t *testing.T, ccSucceeds bool) (*scm.Repo, *testcase.Case) {
	t.Helper()
	for _, tool := range []string{"git", "sh"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}

	src := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = src
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	write := func(name, content string, perm os.FileMode) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), perm); err != nil {
			t.Fatal(err)
		}
	}

	write("README.rst", "This is Python version 3.9.1\nmore text\n", 0o644)

	ccExit := "exit 0"
	ccTouch := "touch \"$out\""
	if !ccSucceeds {
		ccExit = "exit 1"
		ccTouch = ""
	}
	write("fake-cc.sh", "#!/bin/sh\nout=\"\"\nwhile [ $# -gt 0 ]; do\n  if [ \"$1\" = \"-o\" ]; then shift; out=\"$1\"; fi\n  shift\ndone\n"+ccTouch+"\n"+ccExit+"\n", 0o755)
	write("fake-python.sh", `#!/bin/sh
case "$1" in
  -c)
    case "$2" in
      *hexversion*) echo 50921968 ;;
      *CC*) dir=$(cd "$(dirname "$0")" && pwd); echo "$dir/fake-cc.sh" ;;
    esac
    ;;
  *python-config.py)
    echo "-I/usr/include/python3.9"
    ;;
esac
`, 0o644)
	write("configure", `#!/bin/sh
set -e
dir=$(cd "$(dirname "$0")" && pwd)
cat > Makefile <<MAKEFILE
all:
	cp $dir/fake-python.sh ./python
	chmod +x ./python
	cp $dir/fake-cc.sh ./fake-cc.sh
	chmod +x ./fake-cc.sh
	touch python-config.py

pythoninfo:
	touch pythoninfo
MAKEFILE
`, 0o755)

	run("add", ".")
	run("commit", "-q", "-m", "initial")
	run("tag", "v3.9.1")

	repo := &scm.Repo{
		Proc:      proc.NewRunner(2),
		Log:       log.New(os.Stderr, "test: ", 0),
		SourceDir: src,
		CacheDir:  t.TempDir(),
	}

	caseDir := t.TempDir()
	casePath := filepath.Join(caseDir, "simple")
	if err := os.MkdirAll(casePath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(casePath, "extension.c"), []byte("// fake extension\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(casePath, "script.py"), []byte("print('ok')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cases, err := testcase.Load(caseDir)
	if err != nil {
		t.Fatal(err)
	}
	c, err := cases.Get("simple")
	if err != nil {
		t.Fatal(err)
	}
	return repo, c
}

func TestResultSuccess(t *testing.T) {
	repo, c := newFixture(t, true)
	ctx := context.Background()
	build := &interp.Build{Proc: repo.Proc, CacheDir: repo.CacheDir, Commit: repo.Commit("v3.9.1")}

	m := &TestModule{
		Proc:          repo.Proc,
		CacheDir:      repo.CacheDir,
		Case:          c,
		CompileBuild:  build,
		CompileOption: compileopt.Unrestricted,
	}
	result, err := m.Result(ctx)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Name() != "SUCCESS" {
		t.Errorf("Result() = %v, want SUCCESS", result)
	}
	if _, err := os.Stat(m.ExtensionPath()); err != nil {
		t.Errorf("extension artifact missing: %v", err)
	}
}

func TestResultBuildFailure(t *testing.T) {
	repo, c := newFixture(t, false)
	ctx := context.Background()
	build := &interp.Build{Proc: repo.Proc, CacheDir: repo.CacheDir, Commit: repo.Commit("v3.9.1")}

	m := &TestModule{
		Proc:          repo.Proc,
		CacheDir:      repo.CacheDir,
		Case:          c,
		CompileBuild:  build,
		CompileOption: compileopt.Unrestricted,
	}
	result, err := m.Result(ctx)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Name() != "BUILD_FAILURE" {
		t.Errorf("Result() = %v, want BUILD_FAILURE", result)
	}
}
