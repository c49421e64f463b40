package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// newFixtureSource builds a tiny real git repo with a single tagged,
// buildable-in-spirit commit, the same shape internal/report's own fixture
// uses, just trimmed to one release since this package only exercises
// wiring, not build expansion itself.
func newFixtureSource(t *testing.T) string {
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
	write := func(name, content string, perm os.FileMode) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), perm); err != nil {
			t.Fatal(err)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	write("README.rst", "This is Python version 3.9.0\nmore text\n", 0o644)
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	run("tag", "v3.9.0")
	return src
}

func newFixtureCaseDir(t *testing.T) string {
	t.Helper()
	caseDir := t.TempDir()
	casePath := filepath.Join(caseDir, "simple")
	if err := os.MkdirAll(casePath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(casePath, "extension.c"), []byte("// fake\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(casePath, "script.py"), []byte("print('ok')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return caseDir
}

func TestNewWiresRepoProcAndReport(t *testing.T) {
	src := newFixtureSource(t)
	e, err := New(Config{
		SourceDir: src,
		CacheDir:  t.TempDir(),
		CaseDir:   newFixtureCaseDir(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Repo == nil || e.Proc == nil || e.Report == nil {
		t.Fatalf("New left a field unwired: %+v", e)
	}
	if e.Repo.SourceDir != src {
		t.Errorf("Repo.SourceDir = %q, want %q", e.Repo.SourceDir, src)
	}

	ctx := context.Background()
	commits, err := e.Report.Commits(ctx)
	if err != nil {
		t.Fatalf("Report.Commits: %v", err)
	}
	if len(commits) != 1 || commits[0].Name != "v3.9.0" {
		t.Errorf("Commits() = %v, want [v3.9.0]", commits)
	}
}

func TestNewDefaultsLogger(t *testing.T) {
	src := newFixtureSource(t)
	e, err := New(Config{
		SourceDir: src,
		CacheDir:  t.TempDir(),
		CaseDir:   newFixtureCaseDir(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Config.Log == nil {
		t.Errorf("New should default Config.Log rather than leaving it nil")
	}
}
