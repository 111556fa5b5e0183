// Package simrunner launches the external appliance simulator on a compiled
// profile document.
package simrunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/sweeney/geyser-sim/internal/logger"
)

// Runner starts one simulation run on the profile at path and returns the
// simulator's exit code.
type Runner interface {
	Run(ctx context.Context, path string) (int, error)
}

// ExecRunner runs Executable with Args followed by the profile path.
type ExecRunner struct {
	Executable string
	Args       []string
	// Output receives the simulator's stdout and stderr. When nil each line
	// is logged instead.
	Output io.Writer
}

// Run blocks until the simulator exits or ctx is cancelled. A non-zero exit is
// reported through the code, not the error.
func (r ExecRunner) Run(ctx context.Context, path string) (int, error) {
	if r.Executable == "" {
		return -1, errors.New("simrunner: no executable configured")
	}

	args := append(append([]string(nil), r.Args...), path)
	cmd := exec.CommandContext(ctx, r.Executable, args...)
	cmd.WaitDelay = waitDelay

	out := r.Output
	if out == nil {
		lw := newLineLogger(logger.WithKV(ctx, "simulator", r.Executable))
		defer lw.Close()
		out = lw
	}
	cmd.Stdout = out
	cmd.Stderr = out

	logger.InfoKV(ctx, "starting simulator", "executable", r.Executable, "profile", path)
	err := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case ctx.Err() != nil:
		return -1, fmt.Errorf("simulator %s: %w", r.Executable, ctx.Err())
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("simulator %s: %w", r.Executable, err)
	}
}

const (
	// waitDelay bounds how long Run waits for output after the simulator is
	// killed, in case a grandchild still holds the pipe.
	waitDelay = time.Second

	// maxLineLength is the longest output line logged as a whole.
	maxLineLength = 1 << 20
)

// lineLogger logs each complete line written to it. Lines longer than
// maxLineLength stop the logging; the rest of the output is discarded so the
// simulator never sees a closed pipe.
type lineLogger struct {
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once
}

func newLineLogger(ctx context.Context) *lineLogger {
	pr, pw := io.Pipe()
	l := &lineLogger{pw: pw, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
		for sc.Scan() {
			logger.InfoKV(ctx, sc.Text())
		}
		if err := sc.Err(); err != nil {
			logger.WarnKV(ctx, "simulator output no longer logged", "error", err)
			_, _ = io.Copy(io.Discard, pr)
		}
		_ = pr.Close()
	}()

	return l
}

func (l *lineLogger) Write(p []byte) (int, error) {
	return l.pw.Write(p)
}

func (l *lineLogger) Close() error {
	l.once.Do(func() {
		_ = l.pw.Close()
		<-l.done
	})
	return nil
}
