package testcase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/encukou/abi-checker/internal/dsl"
)

func writeCase(t *testing.T, dir, tag string, files map[string]string) {
	t.Helper()
	casePath := filepath.Join(dir, tag)
	if err := os.MkdirAll(casePath, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(casePath, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadEnumeratesCasesSorted(t *testing.T) {
	dir := t.TempDir()
	writeCase(t, dir, "zeta", map[string]string{"extension.c": "", "script.py": ""})
	writeCase(t, dir, "alpha", map[string]string{"extension.c": "", "script.py": ""})

	cs, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cs.Tags(), []string{"alpha", "zeta"}; !equalSlices(got, want) {
		t.Errorf("Tags() = %v, want %v", got, want)
	}
}

func TestMissingExpectedPyIsEmptyPredicate(t *testing.T) {
	dir := t.TempDir()
	writeCase(t, dir, "noexp", map[string]string{"extension.c": "", "script.py": ""})
	cs, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	c, err := cs.Get("noexp")
	if err != nil {
		t.Fatal(err)
	}
	pred, err := c.Predicate()
	if err != nil {
		t.Fatalf("Predicate: %v", err)
	}
	if err := pred.Eval(dsl.Env{}); err != nil {
		t.Errorf("empty predicate Eval: expected nil, got %v", err)
	}
}

func TestCaseTOMLMinimumVersionGate(t *testing.T) {
	dir := t.TempDir()
	writeCase(t, dir, "gated", map[string]string{
		"extension.c": "",
		"script.py":   "",
		"case.toml":   "[build-python.version]\nmin = \"3.10.0\"\n",
	})
	cs, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	c, err := cs.Get("gated")
	if err != nil {
		t.Fatal(err)
	}
	spec, err := c.Spec()
	if err != nil {
		t.Fatalf("Spec: %v", err)
	}
	if !spec.HasMinimum {
		t.Fatal("expected HasMinimum to be true")
	}
	if spec.Minimum.String() != "3.10.0" {
		t.Errorf("Minimum = %v, want 3.10.0", spec.Minimum)
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
