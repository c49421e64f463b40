// Package engine wires the source-control layer, the process runner, and
// the Report aggregator into the single root configuration record spec.md
// §9 calls for ("pass them through a root configuration record rather than
// as ambient globals"), mirroring distri's own `Root`/autobuilder's
// `autobuilder` struct: one value built once from flags/environment by the
// entrypoint (cmd/abi-checker or internal/web) and threaded down instead of
// held in package-level variables.
package engine

import (
	"log"
	"os"

	"github.com/encukou/abi-checker/internal/proc"
	"github.com/encukou/abi-checker/internal/report"
	"github.com/encukou/abi-checker/internal/scm"
)

// Config is the resolved set of inputs the engine needs: where the
// interpreter's source lives, where to cache build artifacts, where cases
// are loaded from, and how many external processes may spawn concurrently.
type Config struct {
	Log *log.Logger

	// SourceDir is a local path or remote URL the interpreter repository is
	// bare-cloned from.
	SourceDir string
	CacheDir  string
	CaseDir   string

	// Jobs bounds process-spawn concurrency (internal/proc.NewRunner); <= 0
	// uses its own CPU-count default.
	Jobs int

	// Commits, if non-nil, fixes the commit set the report expands instead
	// of the latest-per-minor auto-selection.
	Commits []*scm.Commit
}

// Engine is the constructed root object: the bare-clone repository, the
// bounded process runner, and the Report built on top of them.
type Engine struct {
	Config Config
	Repo   *scm.Repo
	Proc   *proc.Runner
	Report *report.Report
}

// New constructs an Engine from cfg. It does not touch the network or the
// filesystem beyond what report.New needs (reading cfg.CaseDir) -- cloning
// the repository and building interpreters happens lazily, on first use,
// via the memoized tasks in internal/scm and internal/interp.
func New(cfg Config) (*Engine, error) {
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stderr, "", log.LstdFlags)
	}

	runner := proc.NewRunner(cfg.Jobs)
	repo := &scm.Repo{
		Proc:      runner,
		Log:       cfg.Log,
		SourceDir: cfg.SourceDir,
		CacheDir:  cfg.CacheDir,
	}

	rep, err := report.New(report.Config{
		Proc:     runner,
		Log:      cfg.Log,
		Repo:     repo,
		CacheDir: cfg.CacheDir,
		CaseDir:  cfg.CaseDir,
		Commits:  cfg.Commits,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		Config: cfg,
		Repo:   repo,
		Proc:   runner,
		Report: rep,
	}, nil
}
