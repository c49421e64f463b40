// Package scm implements the source-control layer: a bare clone of the
// interpreter repository, tag enumeration, worktree materialization, commit
// hash resolution, and version detection from a commit's README. Grounded
// in the original checker's root.py (get_cloned_repo, run_process) and
// commit.py (get_worktree, get_commit_hash, get_version), translated into
// the memoized-task idiom of internal/task and the process idiom of
// internal/proc.
package scm

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	abichecker "github.com/encukou/abi-checker"
	"github.com/encukou/abi-checker/internal/proc"
	"github.com/encukou/abi-checker/internal/task"
)

// ZeroHash is the sentinel commit hash returned when a ref cannot be
// resolved ("unknown ref").
const ZeroHash = "0000000000000000000000000000000000000000"

// Repo is a bare clone of the interpreter repository, plus everything
// derived from it (tags, worktrees, commit metadata). The bare clone and
// each Commit's hash, version and worktree are memoized per process via
// internal/task, so repeated calls across many Commits and Builds are free
// after the first; Tags runs `git tag` again on every call.
type Repo struct {
	Proc      *proc.Runner
	Log       *log.Logger
	SourceDir string // local path or remote URL to clone --bare from
	CacheDir  string

	cloneTask task.Handle[string]

	commitsMu sync.RWMutex
	commits   map[string]*Commit
}

// GitDir returns the path of the bare clone (which may not exist yet).
func (r *Repo) GitDir() string {
	return filepath.Join(r.CacheDir, "cpython.git")
}

// BareClone lazily clones (or, on subsequent calls across process restarts
// where the directory already exists, fetches) the interpreter repository
// into the cache. It runs at most once per process.
func (r *Repo) BareClone(ctx context.Context) (string, error) {
	return r.cloneTask.Get(ctx, func(ctx context.Context) (string, error) {
		gitDir := r.GitDir()
		if err := os.MkdirAll(r.CacheDir, 0o755); err != nil {
			return "", xerrors.Errorf("creating cache dir: %w", err)
		}
		if _, err := os.Stat(gitDir); err == nil {
			r.Log.Printf("fetching %s", gitDir)
			if _, err := r.Proc.Run(ctx, proc.Request{
				Argv:  []string{"git", "fetch", "origin"},
				Dir:   gitDir,
				Check: true,
			}); err != nil {
				return "", xerrors.Errorf("git fetch: %w", err)
			}
			return gitDir, nil
		}
		r.Log.Printf("cloning %s into %s", r.SourceDir, gitDir)
		if _, err := r.Proc.Run(ctx, proc.Request{
			Argv:  []string{"git", "clone", "--bare", "--", r.SourceDir, gitDir},
			Check: true,
		}); err != nil {
			return "", xerrors.Errorf("git clone: %w", err)
		}
		return gitDir, nil
	})
}

// Tags enumerates every tag in the bare clone and returns one Commit per
// tag name.
func (r *Repo) Tags(ctx context.Context) ([]*Commit, error) {
	gitDir, err := r.BareClone(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.Proc.Run(ctx, proc.Request{
		Argv:   []string{"git", "tag"},
		Dir:    gitDir,
		Stdout: proc.Stream{Capture: true},
		Check:  true,
	})
	if err != nil {
		return nil, xerrors.Errorf("git tag: %w", err)
	}
	var commits []*Commit
	for _, line := range splitLines(res.Stdout) {
		if line == "" {
			continue
		}
		commits = append(commits, r.Commit(line))
	}
	return commits, nil
}

// Commit returns the (interned) Commit object for name, a tag or branch.
// Two calls with the same name return the same object, so memoized tasks on
// the Commit (commit-hash, version, worktree) are shared.
func (r *Repo) Commit(name string) *Commit {
	r.commitsMu.RLock()
	c, ok := r.commits[name]
	r.commitsMu.RUnlock()
	if ok {
		return c
	}

	r.commitsMu.Lock()
	defer r.commitsMu.Unlock()
	if c, ok := r.commits[name]; ok {
		return c
	}
	if r.commits == nil {
		r.commits = make(map[string]*Commit)
	}
	c = &Commit{repo: r, Name: name}
	r.commits[name] = c
	return c
}

// Commit is a named reference (tag or branch) into the bare clone.
type Commit struct {
	repo *Repo
	Name string

	hashTask     task.Handle[string]
	versionTask  task.Handle[abichecker.Version]
	worktreeTask task.Handle[string]
}

var readmeVersionRe = regexp.MustCompile(`^This is Python version ([.\da-z]+)`)

// CommitHash resolves c.Name to its 40-hex-character commit hash via `git
// rev-parse`. An unresolvable ref (exit 128) resolves to ZeroHash rather
// than failing, matching spec semantics for stale/deleted branches.
func (c *Commit) CommitHash(ctx context.Context) (string, error) {
	return c.hashTask.Get(ctx, func(ctx context.Context) (string, error) {
		gitDir, err := c.repo.BareClone(ctx)
		if err != nil {
			return "", err
		}
		res, err := c.repo.Proc.Run(ctx, proc.Request{
			Argv:   []string{"git", "rev-parse", c.Name},
			Dir:    gitDir,
			Stdout: proc.Stream{Capture: true},
			Check:  false,
		})
		if err != nil {
			return "", xerrors.Errorf("git rev-parse %s: %w", c.Name, err)
		}
		if res.ExitCode == 128 {
			return ZeroHash, nil
		}
		if res.ExitCode != 0 {
			return "", xerrors.Errorf("git rev-parse %s: exit %d", c.Name, res.ExitCode)
		}
		return string(bytes.TrimSpace(res.Stdout)), nil
	})
}

// Version detects c's CPython version from the first line of README.rst
// (falling back to README) at c's commit, matching "This is Python version
// X.Y[...]". A zero-hash commit (unresolvable ref) has version zero.
func (c *Commit) Version(ctx context.Context) (abichecker.Version, error) {
	return c.versionTask.Get(ctx, func(ctx context.Context) (abichecker.Version, error) {
		hash, err := c.CommitHash(ctx)
		if err != nil {
			return abichecker.Version{}, err
		}
		if hash == ZeroHash {
			return abichecker.Version{}, nil
		}
		gitDir, err := c.repo.BareClone(ctx)
		if err != nil {
			return abichecker.Version{}, err
		}
		var readme []byte
		found := false
		for _, name := range []string{"README.rst", "README"} {
			res, err := c.repo.Proc.Run(ctx, proc.Request{
				Argv:   []string{"git", "show", fmt.Sprintf("%s:%s", hash, name)},
				Dir:    gitDir,
				Stdout: proc.Stream{Capture: true},
				Check:  false,
			})
			if err != nil {
				return abichecker.Version{}, xerrors.Errorf("git show %s:%s: %w", hash, name, err)
			}
			if res.ExitCode == 0 {
				readme = res.Stdout
				found = true
				break
			}
		}
		if !found {
			return abichecker.Version{}, xerrors.Errorf("README not found in commit %s", hash)
		}
		firstLine := readme
		if idx := bytes.IndexByte(readme, '\n'); idx >= 0 {
			firstLine = readme[:idx]
		}
		m := readmeVersionRe.FindSubmatch(firstLine)
		if m == nil {
			return abichecker.Version{}, xerrors.Errorf("could not find version in README first line: %q", firstLine)
		}
		return abichecker.ParseVersion(string(m[1]))
	})
}

// Worktree materializes an on-disk, detached worktree at
// <cache>/cpython_<hash>, creating it with `git worktree add` if it does
// not already exist. `git worktree` contends on a single index lock; exit
// code 128 is retried with exponential backoff (100ms, 200ms, ... up to 5
// attempts).
func (c *Commit) Worktree(ctx context.Context) (string, error) {
	return c.worktreeTask.Get(ctx, func(ctx context.Context) (string, error) {
		hash, err := c.CommitHash(ctx)
		if err != nil {
			return "", err
		}
		gitDir, err := c.repo.BareClone(ctx)
		if err != nil {
			return "", err
		}
		worktreeDir := filepath.Join(c.repo.CacheDir, fmt.Sprintf("cpython_%s", hash))

		const maxAttempts = 5
		backoff := 100 * time.Millisecond
		for attempt := 0; attempt < maxAttempts; attempt++ {
			if _, err := os.Stat(worktreeDir); err == nil {
				c.writeWorktreeRef(worktreeDir)
				return worktreeDir, nil
			}
			res, err := c.repo.Proc.Run(ctx, proc.Request{
				Argv: []string{
					"git", "worktree", "add",
					"--detach", "--checkout",
					worktreeDir, hash,
				},
				Dir:   gitDir,
				Check: false,
			})
			if err != nil {
				return "", xerrors.Errorf("git worktree add: %w", err)
			}
			if res.ExitCode == 0 {
				c.writeWorktreeRef(worktreeDir)
				return worktreeDir, nil
			}
			if res.ExitCode == 128 {
				// Git index is locked by a concurrent worktree operation.
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return "", ctx.Err()
				}
				backoff *= 2
				continue
			}
			return "", xerrors.Errorf("git worktree add %s: exit %d", worktreeDir, res.ExitCode)
		}
		return "", xerrors.Errorf("git worktree add %s: index stayed locked after %d attempts", worktreeDir, maxAttempts)
	})
}

// writeWorktreeRef atomically records, next to a worktree directory named
// only by commit hash (cpython_<hash>), the ref name (tag or branch) that
// was resolved to it -- bookkeeping an operator browsing the cache
// directory otherwise has no way to recover without re-running `git
// rev-parse` for every hash. Best-effort: a write failure is logged, never
// fatal to worktree materialization. Grounded on
// cmd/autobuilder/autobuilder.go's renameio.Symlink bookkeeping of its own
// "latest built" pointer; a plain atomically-written file is used here
// since the recorded value is a ref name, not a path.
func (c *Commit) writeWorktreeRef(worktreeDir string) {
	path := worktreeDir + ".ref"
	if err := renameio.WriteFile(path, []byte(c.Name+"\n"), 0o644); err != nil {
		c.repo.Log.Printf("writing %s: %v", path, err)
	}
}

func splitLines(b []byte) []string {
	var lines []string
	for _, line := range bytes.Split(bytes.TrimRight(b, "\n"), []byte("\n")) {
		lines = append(lines, string(line))
	}
	return lines
}
