package scm

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/encukou/abi-checker/internal/proc"
)

// newFixtureRepo creates a tiny real git repository on disk with one tagged
// commit whose README.rst matches CPython's own "This is Python version"
// convention, and returns an scm.Repo pointed at it.
func newFixtureRepo(t *testing.T) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
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
	if err := os.WriteFile(filepath.Join(src, "README.rst"), []byte("This is Python version 3.13.0\nmore text\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "README.rst")
	run("commit", "-q", "-m", "initial")
	run("tag", "v3.13.0")

	cacheDir := t.TempDir()
	return &Repo{
		Proc:      proc.NewRunner(2),
		Log:       log.New(os.Stderr, "test: ", 0),
		SourceDir: src,
		CacheDir:  cacheDir,
	}
}

func TestBareCloneAndTags(t *testing.T) {
	repo := newFixtureRepo(t)
	ctx := context.Background()

	commits, err := repo.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(commits) != 1 || commits[0].Name != "v3.13.0" {
		t.Fatalf("Tags() = %v, want exactly [v3.13.0]", commits)
	}

	if _, err := os.Stat(repo.GitDir()); err != nil {
		t.Errorf("bare clone dir missing: %v", err)
	}
}

func TestCommitHashAndVersion(t *testing.T) {
	repo := newFixtureRepo(t)
	ctx := context.Background()

	c := repo.Commit("v3.13.0")
	hash, err := c.CommitHash(ctx)
	if err != nil {
		t.Fatalf("CommitHash: %v", err)
	}
	if len(hash) != 40 {
		t.Errorf("CommitHash() = %q, want 40 hex chars", hash)
	}

	version, err := c.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if got, want := version.String(), "3.13.0"; got != want {
		t.Errorf("Version() = %q, want %q", got, want)
	}
}

func TestCommitHashUnknownRefIsZero(t *testing.T) {
	repo := newFixtureRepo(t)
	ctx := context.Background()

	c := repo.Commit("does-not-exist")
	hash, err := c.CommitHash(ctx)
	if err != nil {
		t.Fatalf("CommitHash: %v", err)
	}
	if hash != ZeroHash {
		t.Errorf("CommitHash() = %q, want ZeroHash", hash)
	}

	version, err := c.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version.Major != 0 || version.Minor != 0 {
		t.Errorf("Version() for unknown ref = %v, want zero version", version)
	}
}

func TestWorktreeIdempotentAcrossConcurrentCallers(t *testing.T) {
	repo := newFixtureRepo(t)
	ctx := context.Background()
	c := repo.Commit("v3.13.0")

	type result struct {
		path string
		err  error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			path, err := c.Worktree(ctx)
			results <- result{path, err}
		}()
	}
	r1 := <-results
	r2 := <-results
	if r1.err != nil || r2.err != nil {
		t.Fatalf("Worktree errors: %v, %v", r1.err, r2.err)
	}
	if r1.path != r2.path {
		t.Errorf("concurrent Worktree() calls returned different paths: %q vs %q", r1.path, r2.path)
	}
	if _, err := os.Stat(filepath.Join(r1.path, "README.rst")); err != nil {
		t.Errorf("worktree missing checked-out files: %v", err)
	}
}

func TestWorktreeWritesRefBookkeepingFile(t *testing.T) {
	repo := newFixtureRepo(t)
	ctx := context.Background()
	c := repo.Commit("v3.13.0")

	worktreeDir, err := c.Worktree(ctx)
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	data, err := os.ReadFile(worktreeDir + ".ref")
	if err != nil {
		t.Fatalf("reading ref bookkeeping file: %v", err)
	}
	if got, want := string(data), "v3.13.0\n"; got != want {
		t.Errorf("ref bookkeeping file = %q, want %q", got, want)
	}
}

func TestCommitIsInterned(t *testing.T) {
	repo := newFixtureRepo(t)
	if repo.Commit("v3.13.0") != repo.Commit("v3.13.0") {
		t.Error("Commit(name) should return the same object for the same name")
	}
}
