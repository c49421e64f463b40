// Package report implements Report (spec.md §4.8): the root aggregate that
// lazily selects commits, expands them into Builds, expands the Cartesian
// product of (compile build × compile option × exec build × case) into
// CaseRuns, and renders the result as a matrix. Grounded in the original
// checker's report.py, translated from its asyncio.TaskGroup fan-out into
// golang.org/x/sync/errgroup (the same library distri's own
// internal/batch/batch.go uses to drive its package-build DAG), and its
// ad-hoc dict-based build/run caches into explicit get-or-create registries
// matching spec.md invariants 1 and 2.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	abichecker "github.com/encukou/abi-checker"
	"github.com/encukou/abi-checker/internal/caserun"
	"github.com/encukou/abi-checker/internal/compileopt"
	"github.com/encukou/abi-checker/internal/feature"
	"github.com/encukou/abi-checker/internal/interp"
	"github.com/encukou/abi-checker/internal/proc"
	"github.com/encukou/abi-checker/internal/scm"
	"github.com/encukou/abi-checker/internal/task"
	"github.com/encukou/abi-checker/internal/testcase"
	"github.com/encukou/abi-checker/internal/testmodule"
)

// minBuildVersion is the floor below which spec.md §4.8 says no Build is
// even attempted.
var minBuildVersion = abichecker.Version{Major: 3, Minor: 5, Level: abichecker.LevelFinal}

// minCompileVersion is the floor below which a Build exists (can be an exec
// build) but cannot compile extensions (spec.md §4.8's compile-capable
// subset): older toolchains lack a reliable python-config.py surface.
var minCompileVersion = abichecker.Version{Major: 3, Minor: 9, Level: abichecker.LevelFinal}

// Config is the resolved root configuration record the whole engine is
// threaded through (spec.md §9: "pass them through a root configuration
// record rather than as ambient globals").
type Config struct {
	Proc     *proc.Runner
	Log      *log.Logger
	Repo     *scm.Repo
	CacheDir string
	CaseDir  string

	// Commits, if non-nil, fixes the commit set instead of the
	// latest-per-minor auto-selection (spec.md §4.8).
	Commits []*scm.Commit
}

// Report is the root aggregate: configured paths, lazily materialized
// commits, a deduplicated Build registry keyed by tag, the loaded Cases,
// and a CaseRun registry keyed by (case, compile build, compile option,
// exec build).
type Report struct {
	cfg   Config
	cases *testcase.Cases

	commitsTask task.Handle[[]*scm.Commit]
	buildsTask  task.Handle[[]*interp.Build]
	runsTask    task.Handle[[]*caserun.CaseRun]

	buildsMu    sync.Mutex
	buildsByTag map[string]*interp.Build

	modulesMu    sync.Mutex
	modulesByKey map[moduleKey]*testmodule.TestModule

	runsMu    sync.Mutex
	runsByKey map[runKey]*caserun.CaseRun
}

type moduleKey struct {
	caseTag, compileTag, optTag string
}

type runKey struct {
	caseTag, compileTag, optTag, execTag string
}

// New loads cfg.CaseDir's cases and returns a Report ready to lazily
// construct and schedule the DAG on demand.
func New(cfg Config) (*Report, error) {
	cases, err := testcase.Load(cfg.CaseDir)
	if err != nil {
		return nil, err
	}
	return &Report{
		cfg:          cfg,
		cases:        cases,
		buildsByTag:  make(map[string]*interp.Build),
		modulesByKey: make(map[moduleKey]*testmodule.TestModule),
		runsByKey:    make(map[runKey]*caserun.CaseRun),
	}, nil
}

// Cases returns every loaded case, in a stable (sorted-by-tag) order.
func (r *Report) Cases() []*testcase.Case { return r.cases.All() }

// Commits returns the commit set: cfg.Commits if explicitly supplied,
// otherwise the latest-per-minor selection of v3.* tags (spec.md §4.3).
func (r *Report) Commits(ctx context.Context) ([]*scm.Commit, error) {
	return r.commitsTask.Get(ctx, func(ctx context.Context) ([]*scm.Commit, error) {
		if r.cfg.Commits != nil {
			return r.cfg.Commits, nil
		}
		commits, err := latestPerMinor(ctx, r.cfg.Repo)
		if err != nil {
			return nil, err
		}
		if err := r.publishLatestPerMinor(commits); err != nil {
			r.logger().Printf("publishing latest-per-minor metadata: %v", err)
		}
		return commits, nil
	})
}

func (r *Report) logger() *log.Logger {
	if r.cfg.Log != nil {
		return r.cfg.Log
	}
	return log.Default()
}

// publishLatestPerMinor atomically records, per (major, minor) group, the
// tag name latestPerMinor picked -- e.g. <cache>/latest/3.13 containing
// "v3.13.0" -- so an external tool (the dashboard, a shell script) can
// learn the current selection without re-running `git tag` and without
// ever observing a half-written file. Grounded on
// cmd/autobuilder/autobuilder.go's renameio.Symlink use for its own
// "latest built branch" pointer; a plain atomically-written file is used
// here instead of a symlink because the target (a tag name) isn't itself
// a path worth symlinking to.
func (r *Report) publishLatestPerMinor(commits []*scm.Commit) error {
	if r.cfg.CacheDir == "" {
		return nil
	}
	dir := filepath.Join(r.cfg.CacheDir, "latest")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("creating %s: %w", dir, err)
	}
	for _, c := range commits {
		version, err := abichecker.ParseVersion(strings.TrimPrefix(c.Name, "v"))
		if err != nil {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%d.%d", version.Major, version.Minor))
		if err := renameio.WriteFile(path, []byte(c.Name+"\n"), 0o644); err != nil {
			return xerrors.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// latestPerMinor groups v3.* tags by (major, minor) and keeps, per group,
// the highest version -- preferring any final release over any
// pre-release, regardless of numeric version; a pre-release only wins a
// group that has no final release at all. Groups are returned in
// ascending version order.
func latestPerMinor(ctx context.Context, repo *scm.Repo) ([]*scm.Commit, error) {
	tags, err := repo.Tags(ctx)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		version abichecker.Version
		commit  *scm.Commit
	}
	best := make(map[[2]int]candidate)
	var order [][2]int
	for _, c := range tags {
		if !strings.HasPrefix(c.Name, "v3") {
			continue
		}
		version, err := abichecker.ParseVersion(strings.TrimPrefix(c.Name, "v"))
		if err != nil {
			continue // not a well-formed version tag; ignore per spec's "tags matching v3.*"
		}
		key := [2]int{version.Major, version.Minor}
		cur, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = candidate{version, c}
			continue
		}
		if betterCandidate(version, cur.version) {
			best[key] = candidate{version, c}
		}
	}
	sort.Slice(order, func(i, j int) bool {
		return best[order[i]].version.Less(best[order[j]].version)
	})
	commits := make([]*scm.Commit, len(order))
	for i, key := range order {
		commits[i] = best[key].commit
	}
	return commits, nil
}

// betterCandidate reports whether a should replace b as a group's pick: a
// final release always beats a pre-release, and within the same kind, the
// higher version wins.
func betterCandidate(a, b abichecker.Version) bool {
	if a.IsPrerelease() != b.IsPrerelease() {
		return !a.IsPrerelease()
	}
	return b.Less(a)
}

func featureVariants() [][]feature.Feature {
	variants := [][]feature.Feature{nil}
	for _, f := range feature.All {
		variants = append(variants, []feature.Feature{f})
	}
	return variants
}

// Builds expands the commit set into the Build set: for each commit at
// least 3.5, for each of (no feature, each feature), attempt to construct
// a Build, silently excluding combinations an incompatible feature skips.
// Builds are deduplicated by tag (spec.md invariant 1). The returned slice
// is sorted by tag for deterministic ordering.
func (r *Report) Builds(ctx context.Context) ([]*interp.Build, error) {
	return r.buildsTask.Get(ctx, func(ctx context.Context) ([]*interp.Build, error) {
		commits, err := r.Commits(ctx)
		if err != nil {
			return nil, err
		}
		eg, egCtx := errgroup.WithContext(ctx)
		for _, commit := range commits {
			commit := commit
			for _, features := range featureVariants() {
				features := features
				eg.Go(func() error {
					return r.tryBuild(egCtx, commit, features)
				})
			}
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}

		r.buildsMu.Lock()
		defer r.buildsMu.Unlock()
		tags := make([]string, 0, len(r.buildsByTag))
		for tag := range r.buildsByTag {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		builds := make([]*interp.Build, len(tags))
		for i, tag := range tags {
			builds[i] = r.buildsByTag[tag]
		}
		return builds, nil
	})
}

func (r *Report) tryBuild(ctx context.Context, commit *scm.Commit, features []feature.Feature) error {
	version, err := commit.Version(ctx)
	if err != nil {
		return err
	}
	if version.Less(minBuildVersion) {
		return nil
	}
	for _, f := range features {
		if err := f.VerifyCompatibility(ctx, version); err != nil {
			if isSkipBuild(err) {
				return nil
			}
			return err
		}
	}
	b := &interp.Build{
		Proc:     r.cfg.Proc,
		CacheDir: r.cfg.CacheDir,
		Commit:   commit,
		Features: features,
	}
	r.buildsMu.Lock()
	r.buildsByTag[b.Tag()] = b
	r.buildsMu.Unlock()
	return nil
}

// Build looks up an already-expanded Build by tag.
func (r *Report) Build(ctx context.Context, tag string) (*interp.Build, error) {
	if _, err := r.Builds(ctx); err != nil {
		return nil, err
	}
	r.buildsMu.Lock()
	defer r.buildsMu.Unlock()
	b, ok := r.buildsByTag[tag]
	if !ok {
		return nil, xerrors.Errorf("no such build %q", tag)
	}
	return b, nil
}

// CompileCapableBuilds is the subset of Builds whose commit version is at
// least 3.9 (spec.md §4.8): the only builds extensions can be compiled
// against. Every Build can still execute.
func (r *Report) CompileCapableBuilds(ctx context.Context) ([]*interp.Build, error) {
	builds, err := r.Builds(ctx)
	if err != nil {
		return nil, err
	}
	var out []*interp.Build
	for _, b := range builds {
		version, err := b.Commit.Version(ctx)
		if err != nil {
			return nil, err
		}
		if !version.Less(minCompileVersion) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *Report) getOrCreateTestModule(c *testcase.Case, cb *interp.Build, opt compileopt.CompileOption) *testmodule.TestModule {
	key := moduleKey{c.Tag, cb.Tag(), opt.Tag()}
	r.modulesMu.Lock()
	defer r.modulesMu.Unlock()
	if m, ok := r.modulesByKey[key]; ok {
		return m
	}
	m := &testmodule.TestModule{
		Proc:          r.cfg.Proc,
		CacheDir:      r.cfg.CacheDir,
		Case:          c,
		CompileBuild:  cb,
		CompileOption: opt,
	}
	r.modulesByKey[key] = m
	return m
}

// Run returns the (interned) CaseRun for the given four-tuple, creating it
// (without starting its computation) if this is the first request for that
// key (spec.md invariant 2).
func (r *Report) Run(c *testcase.Case, cb *interp.Build, opt compileopt.CompileOption, eb *interp.Build) *caserun.CaseRun {
	key := runKey{c.Tag, cb.Tag(), opt.Tag(), eb.Tag()}
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	if run, ok := r.runsByKey[key]; ok {
		return run
	}
	run := &caserun.CaseRun{
		Proc:       r.cfg.Proc,
		CacheDir:   r.cfg.CacheDir,
		TestModule: r.getOrCreateTestModule(c, cb, opt),
		ExecBuild:  eb,
	}
	r.runsByKey[key] = run
	return run
}

// RunByTags looks up an already-expanded CaseRun by its four string tags,
// the shape spec.md §6's HTTP surface addresses one by
// (/runs/<case>/<cb>/<opts>/<eb>/).
func (r *Report) RunByTags(ctx context.Context, caseTag, compileTag, optTag, execTag string) (*caserun.CaseRun, error) {
	if _, err := r.Runs(ctx); err != nil {
		return nil, err
	}
	r.runsMu.Lock()
	defer r.runsMu.Unlock()
	run, ok := r.runsByKey[runKey{caseTag, compileTag, optTag, execTag}]
	if !ok {
		return nil, xerrors.Errorf("no such run %s/%s/%s/%s", caseTag, compileTag, optTag, execTag)
	}
	return run, nil
}

// Runs expands the full Cartesian product -- compile build × compile
// option (for that build) × exec build × case -- interning each run by key
// and starting its result computation eagerly (in the background) so the
// dashboard can subscribe to completion as soon as the run exists (spec.md
// §4.8). The returned slice is stable across calls.
func (r *Report) Runs(ctx context.Context) ([]*caserun.CaseRun, error) {
	return r.runsTask.Get(ctx, func(ctx context.Context) ([]*caserun.CaseRun, error) {
		compileBuilds, err := r.CompileCapableBuilds(ctx)
		if err != nil {
			return nil, err
		}
		execBuilds, err := r.Builds(ctx)
		if err != nil {
			return nil, err
		}
		cases := r.Cases()

		var runs []*caserun.CaseRun
		for _, cb := range compileBuilds {
			opts, err := cb.PossibleCompileOptions(ctx)
			if err != nil {
				return nil, err
			}
			for _, opt := range opts {
				for _, eb := range execBuilds {
					for _, c := range cases {
						runs = append(runs, r.Run(c, cb, opt, eb))
					}
				}
			}
		}

		// Start each run's result in the order schedule gives rather than
		// raw expansion order. Only runs are started here; a build or test
		// module starts working when the first run that needs it asks.
		for _, run := range schedule(runs) {
			go run.Result(ctx)
		}
		return runs, nil
	})
}

func isSkipBuild(err error) bool {
	var skip *abichecker.SkipBuild
	return errors.As(err, &skip)
}
