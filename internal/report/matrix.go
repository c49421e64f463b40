package report

import (
	"context"
	"fmt"
	"strings"

	abichecker "github.com/encukou/abi-checker"
)

// MatrixCell is one entry in a rendered row: the exec build it corresponds
// to and the CaseRun's outcome.
type MatrixCell struct {
	ExecBuild string
	Result    abichecker.RunResult
	Err       error
}

// MatrixRow is one compiled artifact's results across every exec build: a
// case compiled against one compile build with one compile option, executed
// under each exec build in turn. Grounded in report.py's row-per-(case,
// build, compileoption) rendering.
type MatrixRow struct {
	Case          string
	CompileBuild  string
	CompileOption string
	Cells         []MatrixCell
}

// Matrix blocks until every Run's Result is known and returns one row per
// (case, compile build, compile option), columns ordered by exec build
// (spec.md §4.8 "Matrix reporting"). Rows and columns are both in the same
// stable order Runs() expands them in.
func (r *Report) Matrix(ctx context.Context) ([]MatrixRow, error) {
	compileBuilds, err := r.CompileCapableBuilds(ctx)
	if err != nil {
		return nil, err
	}
	execBuilds, err := r.Builds(ctx)
	if err != nil {
		return nil, err
	}
	cases := r.Cases()

	var rows []MatrixRow
	for _, cb := range compileBuilds {
		opts, err := cb.PossibleCompileOptions(ctx)
		if err != nil {
			return nil, err
		}
		for _, opt := range opts {
			for _, c := range cases {
				row := MatrixRow{
					Case:          c.Tag,
					CompileBuild:  cb.Tag(),
					CompileOption: opt.String(),
				}
				for _, eb := range execBuilds {
					run := r.Run(c, cb, opt, eb)
					result, _ := run.Result(ctx)
					row.Cells = append(row.Cells, MatrixCell{
						ExecBuild: eb.Tag(),
						Result:    result,
						Err:       run.Err(),
					})
				}
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

// ColumnWidth returns the width a fixed-width text rendering of the matrix
// should reserve for a column: the longest exec-build tag across rows, or 0
// if rows is empty.
func ColumnWidth(rows []MatrixRow) int {
	width := 0
	for _, row := range rows {
		for _, cell := range row.Cells {
			if len(cell.ExecBuild) > width {
				width = len(cell.ExecBuild)
			}
		}
	}
	return width
}

// RenderText renders rows as a plain-text table: one header line of exec
// build tags, then one line per row with the case/build/option prefix and a
// glyph per cell, padded to ColumnWidth(rows).
func RenderText(rows []MatrixRow) string {
	if len(rows) == 0 {
		return ""
	}
	width := ColumnWidth(rows)
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-12s %-10s", "case", "compile build", "opts")
	for _, cell := range rows[0].Cells {
		fmt.Fprintf(&b, " %-*s", width, cell.ExecBuild)
	}
	b.WriteByte('\n')
	for _, row := range rows {
		fmt.Fprintf(&b, "%-24s %-12s %-10s", row.Case, row.CompileBuild, row.CompileOption)
		for _, cell := range row.Cells {
			fmt.Fprintf(&b, " %-*s", width, cell.Result.Glyph())
		}
		b.WriteByte('\n')
	}
	return b.String()
}
