// Command abi-checker is the CLI entrypoint for the compatibility matrix
// runner (spec.md §6): given a CPython source checkout and a directory of
// cases, it expands the commit x feature x compile-option x exec-build
// matrix, prints one line per run, and optionally serves the live
// dashboard (internal/web) while the matrix keeps computing in the
// background. Grounded on cmd/autobuilder/autobuilder.go's main: plain
// flag.String/flag.Bool flags, abichecker.InterruptibleContext for the
// root context, and a background http.ListenAndServe goroutine fed by the
// same state the CLI path reports on.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	abichecker "github.com/encukou/abi-checker"
	"github.com/encukou/abi-checker/internal/compileopt"
	"github.com/encukou/abi-checker/internal/engine"
	"github.com/encukou/abi-checker/internal/report"
	"github.com/encukou/abi-checker/internal/testcase"
	"github.com/encukou/abi-checker/internal/web"
)

func main() {
	var (
		cacheDir = flag.String("cache_dir", "./.cache", "directory caching bare clone, worktrees, builds, and run artifacts")
		caseDir  = flag.String("case_dir", "cases", "directory of cases (extension.c + script.py + optional expected.py/case.toml), one subdirectory per case")
		jobs     = flag.Int("jobs", 0, "bound on concurrent external processes (<=0 uses the CPU count, floor 2)")
		listen   = flag.String("listen", "", "if non-empty, also serve the live dashboard (internal/web) on this address while the matrix computes")
		quick    = flag.Bool("quick", false, "run the single tutorial-simple-3.13 case against the latest compile-capable builds as a fast smoke check, instead of materializing the whole matrix")
	)
	flag.Parse()

	sourceDir := os.Getenv("CPYTHON_DIR")
	if flag.NArg() > 0 {
		sourceDir = flag.Arg(0)
	}
	if sourceDir == "" {
		fmt.Fprintln(os.Stderr, "usage: abi-checker [flags] <cpython-source-dir>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, canc := abichecker.InterruptibleContext()
	defer canc()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	eng, err := engine.New(engine.Config{
		Log:       logger,
		SourceDir: sourceDir,
		CacheDir:  *cacheDir,
		CaseDir:   *caseDir,
		Jobs:      *jobs,
	})
	if err != nil {
		log.Fatalf("%+v", err)
	}
	if *quick {
		if err := runQuick(ctx, eng.Report); err != nil {
			log.Fatalf("%+v", err)
		}
		if err := abichecker.RunAtExit(); err != nil {
			logger.Printf("at-exit cleanup: %v", err)
		}
		return
	}

	if *listen != "" {
		srv := web.New(eng.Report, logger)
		httpSrv := &http.Server{Addr: *listen, Handler: srv.Handler()}
		abichecker.RegisterAtExit(func() error {
			logger.Printf("dashboard shutting down")
			return httpSrv.Close()
		})
		go func() {
			logger.Printf("dashboard listening on %s", *listen)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("dashboard: %v", err)
			}
		}()
	}

	exitCode := runMatrix(ctx, eng.Report)
	if err := abichecker.RunAtExit(); err != nil {
		logger.Printf("at-exit cleanup: %v", err)
	}
	os.Exit(exitCode)
}

// runMatrix prints one line per run (spec.md §7: "the CLI prints one line
// per run (human label, exception repr)"), then the rendered matrix, and
// returns the process exit code: non-zero iff any run classified as
// abichecker.Error.
func runMatrix(ctx context.Context, rep *report.Report) int {
	runs, err := rep.Runs(ctx)
	if err != nil {
		log.Printf("expanding runs: %+v", err)
		return 1
	}

	exit := 0
	for _, run := range runs {
		result, resultErr := run.Result(ctx)
		if resultErr == nil {
			resultErr = run.Err()
		}
		line := result.String()
		if resultErr != nil {
			line = fmt.Sprintf("%s (%v)", line, resultErr)
		}
		fmt.Println(line)
		if result == abichecker.Error {
			exit = 1
		}
	}

	rows, err := rep.Matrix(ctx)
	if err != nil {
		log.Printf("rendering matrix: %+v", err)
		return 1
	}
	fmt.Print(report.RenderText(rows))

	return exit
}

// runQuick implements the supplemented "-quick" smoke-check mode
// (SPEC_FULL.md, grounded on the original checker's cli.py): run
// tutorial-simple-3.13, compiled and executed against the same build, for
// every compile-capable build the report would otherwise fold into the
// full matrix.
func runQuick(ctx context.Context, rep *report.Report) error {
	const quickCaseTag = "tutorial-simple-3.13"

	var quickCase *testcase.Case
	for _, c := range rep.Cases() {
		if c.Tag == quickCaseTag {
			quickCase = c
			break
		}
	}
	if quickCase == nil {
		return fmt.Errorf("quick mode: case %q not found under case dir", quickCaseTag)
	}

	builds, err := rep.CompileCapableBuilds(ctx)
	if err != nil {
		return err
	}

	var failed bool
	for _, b := range builds {
		run := rep.Run(quickCase, b, compileopt.Unrestricted, b)
		result, resultErr := run.Result(ctx)
		fmt.Printf("%s x %s: %s", quickCaseTag, b.Tag(), result.String())
		if resultErr != nil {
			fmt.Printf(" (%v)", resultErr)
		}
		fmt.Println()
		if result == abichecker.Error {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("quick mode: at least one run errored")
	}
	return nil
}
