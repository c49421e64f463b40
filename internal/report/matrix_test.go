package report

import (
	"context"
	"strings"
	"testing"
)

func TestMatrixRendersOneRowPerCaseBuildOption(t *testing.T) {
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

	rows, err := rep.Matrix(ctx)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}

	compileBuilds, err := rep.CompileCapableBuilds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantRows := 0
	for _, cb := range compileBuilds {
		opts, err := cb.PossibleCompileOptions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		wantRows += len(opts) * rep.cases.Len()
	}
	if len(rows) != wantRows {
		t.Fatalf("len(Matrix()) = %d, want %d", len(rows), wantRows)
	}

	execBuilds, err := rep.Builds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if len(row.Cells) != len(execBuilds) {
			t.Errorf("row %s/%s/%s has %d cells, want %d", row.Case, row.CompileBuild, row.CompileOption, len(row.Cells), len(execBuilds))
		}
		for _, cell := range row.Cells {
			if cell.Result.Name() == "" {
				t.Errorf("row %s/%s/%s: cell %s has no classified result", row.Case, row.CompileBuild, row.CompileOption, cell.ExecBuild)
			}
		}
	}

	text := RenderText(rows)
	if !strings.Contains(text, "case") || !strings.Contains(text, "simple") {
		t.Errorf("RenderText output missing expected header/row content:\n%s", text)
	}
}
