// Package proc is the single chokepoint for launching external processes
// (git, configure, make, a C compiler, the built interpreter itself). It
// bounds spawn concurrency with a semaphore sized to the CPU count, and
// gives every caller a uniform way to capture, redirect, or inherit a
// child's stdout/stderr — grounded in distri's own process-invocation idiom
// (cmd/autobuilder/autobuilder.go, internal/batch/batch.go) but collapsed
// into one reusable entry point per spec.
package proc

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"
)

// Stream selects what a child process's stdout/stderr is connected to.
type Stream struct {
	// Inherit connects the stream to the runner's own (e.g. os.Stdout).
	Inherit bool

	// Capture collects the stream into memory; Result.Stdout/Stderr holds
	// the bytes afterwards.
	Capture bool

	// File redirects the stream to a named file, truncating it first. If
	// Stderr.File equals Stdout.File, both streams are redirected to the
	// same underlying file descriptor (matching how distri and the
	// original checker alias combined logs).
	File string
}

// Request describes one external command invocation.
type Request struct {
	Argv   []string
	Dir    string
	Env    []string // nil inherits the runner's own environment
	Stdin  []byte
	Stdout Stream
	Stderr Stream

	// Check, if true, fails with *Error when the exit code is non-zero.
	// The zero value is false: a Request that leaves Check unset does not
	// check the exit code.
	Check bool
}

// Result is returned regardless of Check/exit code, so callers that need
// the raw outcome (e.g. to classify BUILD_FAILURE vs EXEC_FAILURE) can
// inspect it even when Check is false.
type Result struct {
	Argv       []string
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	StdoutPath string
	StderrPath string
}

// Error is returned by Run when Check is true and the command's exit code
// was non-zero. It carries the argv, exit code, and the paths of any
// redirected log files so callers can point the user at them.
type Error struct {
	Argv       []string
	ExitCode   int
	StdoutPath string
	StderrPath string
}

func (e *Error) Error() string {
	msg := xerrors.Errorf("%v: exit status %d", e.Argv, e.ExitCode)
	if e.StdoutPath != "" {
		msg = xerrors.Errorf("%w (stdout: %s)", msg, e.StdoutPath)
	}
	if e.StderrPath != "" {
		msg = xerrors.Errorf("%w (stderr: %s)", msg, e.StderrPath)
	}
	return msg.Error()
}

// Runner bounds the number of external processes that may be spawning
// concurrently. The permit is held only across spawn (acquire, Start, then
// release before Wait/communicate) rather than for the child's whole
// lifetime: the goal is to smooth spawn bursts and bound peak compiler
// parallelism, not to serialize long-running builds. This mirrors the
// scope of the semaphore-guarded block in the original checker's
// Root.run_process, which releases its semaphore (by exiting the
// AsyncExitStack) before awaiting proc.communicate().
type Runner struct {
	sem *semaphore.Weighted
}

// NewRunner returns a Runner whose spawn concurrency is bounded by jobs. If
// jobs <= 0, it defaults to max(2, runtime.NumCPU()).
func NewRunner(jobs int) *Runner {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
		if jobs < 2 {
			jobs = 2
		}
	}
	return &Runner{sem: semaphore.NewWeighted(int64(jobs))}
}

// Run spawns the requested command, waits for it to complete, and returns
// its result. If req.Check is true and the exit code is non-zero, Run
// returns a non-nil *Error in addition to the Result (the Result is never
// nil, so callers that want the raw outcome after a Check failure can type
// the error back to *Error).
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Argv) == 0 {
		return nil, xerrors.New("proc: empty argv")
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, xerrors.Errorf("acquiring process semaphore: %w", err)
	}
	released := false
	release := func() {
		if !released {
			released = true
			r.sem.Release(1)
		}
	}
	defer release()

	cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Dir
	if req.Env != nil {
		cmd.Env = req.Env
	}
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var openFiles []*os.File
	closeFiles := func() {
		for _, f := range openFiles {
			f.Close()
		}
		openFiles = nil
	}

	stdoutPath, err := wireStream(cmd, &req.Stdout, &stdoutBuf, true, &openFiles)
	if err != nil {
		closeFiles()
		return nil, err
	}
	// Stderr aliasing to the same file as stdout: reuse the already-opened
	// handle instead of reopening (which would truncate what stdout just
	// wrote).
	var stderrPath string
	if req.Stderr.File != "" && req.Stderr.File == req.Stdout.File && len(openFiles) > 0 {
		cmd.Stderr = openFiles[len(openFiles)-1]
		stderrPath = stdoutPath
	} else {
		stderrPath, err = wireStream(cmd, &req.Stderr, &stderrBuf, false, &openFiles)
		if err != nil {
			closeFiles()
			return nil, err
		}
	}

	if err := cmd.Start(); err != nil {
		closeFiles()
		return nil, xerrors.Errorf("starting %v: %w", req.Argv, err)
	}
	// The child has its own (dup'd) copies of any file descriptors; it is
	// safe to close our handles and release the spawn permit now.
	closeFiles()
	release()

	waitErr := cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, xerrors.Errorf("running %v: %w", req.Argv, waitErr)
		}
	}

	result := &Result{
		Argv:       req.Argv,
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.Bytes(),
		Stderr:     stderrBuf.Bytes(),
		StdoutPath: stdoutPath,
		StderrPath: stderrPath,
	}

	if req.Check && exitCode != 0 {
		return result, &Error{
			Argv:       req.Argv,
			ExitCode:   exitCode,
			StdoutPath: stdoutPath,
			StderrPath: stderrPath,
		}
	}
	return result, nil
}

func wireStream(cmd *exec.Cmd, s *Stream, buf *bytes.Buffer, isStdout bool, openFiles *[]*os.File) (string, error) {
	var dst io.Writer
	var path string
	switch {
	case s.File != "":
		f, err := os.Create(s.File)
		if err != nil {
			return "", xerrors.Errorf("opening log file %s: %w", s.File, err)
		}
		*openFiles = append(*openFiles, f)
		dst = f
		path = s.File
	case s.Capture:
		dst = buf
	case s.Inherit:
		if isStdout {
			dst = os.Stdout
		} else {
			dst = os.Stderr
		}
	default:
		dst = io.Discard
	}
	if isStdout {
		cmd.Stdout = dst
	} else {
		cmd.Stderr = dst
	}
	return path, nil
}
