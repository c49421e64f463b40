// Package testcase implements Case and Cases (spec.md §3 Case, §6 case
// layout): a self-contained directory holding an extension's C source, a
// driver script, and optional compatibility metadata. Grounded in the
// original checker's case.py (Cases, Case, BuildPythonSpec).
package testcase

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	abichecker "github.com/encukou/abi-checker"
	"github.com/encukou/abi-checker/internal/dsl"
)

// Case is a directory on disk containing extension.c, script.py, and
// optionally expected.py and case.toml.
type Case struct {
	// Tag is the case's directory basename, and its identity in the
	// report's run registry.
	Tag string

	Path string

	predicateOnce sync.Once
	predicate     *dsl.Predicate
	predicateErr  error

	specOnce sync.Once
	spec     BuildPythonSpec
	specErr  error
}

// ExtensionSourcePath is the required C source compiled for every build.
func (c *Case) ExtensionSourcePath() string {
	return filepath.Join(c.Path, "extension.c")
}

// ScriptPath is the required driver script executed under every exec
// build.
func (c *Case) ScriptPath() string {
	return filepath.Join(c.Path, "script.py")
}

// Predicate compiles (once) and returns the case's compatibility
// predicate. A missing expected.py compiles to an empty predicate per
// spec.md §6 ("Missing file ≡ empty predicate").
func (c *Case) Predicate() (*dsl.Predicate, error) {
	c.predicateOnce.Do(func() {
		path := filepath.Join(c.Path, "expected.py")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				c.predicate, c.predicateErr = dsl.Compile("")
				return
			}
			c.predicateErr = xerrors.Errorf("reading %s: %w", path, err)
			return
		}
		c.predicate, c.predicateErr = dsl.Compile(string(data))
		if c.predicateErr != nil {
			c.predicateErr = xerrors.Errorf("compiling %s: %w", path, c.predicateErr)
		}
	})
	return c.predicate, c.predicateErr
}

// caseTOML mirrors the [build-python] table of case.toml; spec.md §6
// reserves the filename but specifies nothing of its contents beyond what
// §4.7 says is evaluated from expected.py. This [build-python] table is a
// supplemented feature, grounded in the original checker's
// BuildPythonSpec/case.toml handling.
type caseTOML struct {
	BuildPython struct {
		Version struct {
			Min string `toml:"min"`
		} `toml:"version"`
	} `toml:"build-python"`
}

// BuildPythonSpec is a per-case minimum-interpreter-version gate,
// independent of the expected.py predicate: a case can declare it cannot
// even be attempted (compiled or executed) against a build older than
// Minimum.
type BuildPythonSpec struct {
	Minimum    abichecker.Version
	HasMinimum bool
}

// Spec loads (once) the case's case.toml, if any. A missing file yields
// the zero BuildPythonSpec (no minimum).
func (c *Case) Spec() (BuildPythonSpec, error) {
	c.specOnce.Do(func() {
		path := filepath.Join(c.Path, "case.toml")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return
			}
			c.specErr = xerrors.Errorf("reading %s: %w", path, err)
			return
		}
		var doc caseTOML
		if err := toml.Unmarshal(data, &doc); err != nil {
			c.specErr = xerrors.Errorf("parsing %s: %w", path, err)
			return
		}
		if doc.BuildPython.Version.Min != "" {
			v, err := abichecker.ParseVersion(doc.BuildPython.Version.Min)
			if err != nil {
				c.specErr = xerrors.Errorf("parsing %s build-python.version.min: %w", path, err)
				return
			}
			c.spec = BuildPythonSpec{Minimum: v, HasMinimum: true}
		}
	})
	return c.spec, c.specErr
}

// VerifyCompatibility raises *abichecker.SkipBuild if buildVersion is older
// than the case's declared minimum, matching BuildPythonSpec.verify_compatibility
// in the original checker (invoked before compile and before exec).
func (s BuildPythonSpec) VerifyCompatibility(buildVersion abichecker.Version) error {
	if s.HasMinimum && buildVersion.Less(s.Minimum) {
		return &abichecker.SkipBuild{Reason: "requires " + s.Minimum.String()}
	}
	return nil
}

// Cases is the collection of every case found directly under a directory,
// one subdirectory per case, keyed by directory basename.
type Cases struct {
	mu    sync.Mutex
	byTag map[string]*Case
	tags  []string
}

// Load enumerates the immediate subdirectories of dir, one Case per
// subdirectory, sorted by name for deterministic matrix-row ordering.
func Load(dir string) (*Cases, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("reading case dir %s: %w", dir, err)
	}
	cs := &Cases{byTag: make(map[string]*Case)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cs.byTag[entry.Name()] = &Case{Tag: entry.Name(), Path: filepath.Join(dir, entry.Name())}
		cs.tags = append(cs.tags, entry.Name())
	}
	sort.Strings(cs.tags)
	return cs, nil
}

// Tags returns every case's tag, sorted.
func (cs *Cases) Tags() []string {
	out := make([]string, len(cs.tags))
	copy(out, cs.tags)
	return out
}

// Len reports how many cases were loaded.
func (cs *Cases) Len() int { return len(cs.tags) }

// Get returns the Case for tag, or an error if no such case was loaded.
func (cs *Cases) Get(tag string) (*Case, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.byTag[tag]
	if !ok {
		return nil, xerrors.Errorf("no such case %q", tag)
	}
	return c, nil
}

// All returns every Case, in Tags order.
func (cs *Cases) All() []*Case {
	out := make([]*Case, 0, len(cs.tags))
	for _, tag := range cs.tags {
		out = append(out, cs.byTag[tag])
	}
	return out
}
