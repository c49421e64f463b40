package report

import (
	"context"
	"testing"

	"github.com/encukou/abi-checker/internal/caserun"
)

// TestScheduleOrdersEveryRunExactlyOnce checks schedule is a permutation of
// its input: every run appears exactly once in the scheduled order,
// regardless of how many other runs share its compile build or test
// module.
func TestScheduleOrdersEveryRunExactlyOnce(t *testing.T) {
	repo := newFixtureRepo(t)
	rep, err := New(Config{
		Proc:     repo.Proc,
		Log:      repo.Log,
		Repo:     repo,
		CacheDir: repo.CacheDir,
		CaseDir:  newFixtureCaseDir(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	runs, err := rep.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) == 0 {
		t.Fatal("no runs expanded")
	}

	ordered := schedule(runs)
	if len(ordered) != len(runs) {
		t.Fatalf("schedule returned %d runs, want %d", len(ordered), len(runs))
	}

	count := make(map[*caserun.CaseRun]int, len(runs))
	for _, run := range ordered {
		count[run]++
	}
	for _, run := range runs {
		if count[run] != 1 {
			t.Errorf("run %p appears %d times in scheduled order, want exactly 1", run, count[run])
		}
	}
}

// TestScheduleIsDeterministicAcrossCalls checks that scheduling the same
// runs twice yields the same order, run for run.
func TestScheduleIsDeterministicAcrossCalls(t *testing.T) {
	repo := newFixtureRepo(t)
	rep, err := New(Config{
		Proc:     repo.Proc,
		Log:      repo.Log,
		Repo:     repo,
		CacheDir: repo.CacheDir,
		CaseDir:  newFixtureCaseDir(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	runs, err := rep.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}

	first := schedule(runs)
	second := schedule(runs)
	if len(first) != len(second) {
		t.Fatalf("schedule returned different lengths across calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("schedule is not deterministic: index %d differs between calls", i)
			break
		}
	}
}
