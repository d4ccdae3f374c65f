package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/watzon/oncue/internal/config"
)

const (
	defaultOutputLimit = 64 * 1024
	defaultPythonBin   = "python3"
	defaultShellBin    = "/bin/sh"
)

// Runner executes a single script invocation as a child process,
// picking an interpreter from the script's extension.
type Runner struct {
	pythonBin   string
	shellBin    string
	outputLimit int
}

// NewRunner creates a runner from executor settings.
func NewRunner(cfg *config.ExecutorConfig) *Runner {
	r := &Runner{
		pythonBin:   cfg.PythonBin,
		shellBin:    cfg.ShellBin,
		outputLimit: cfg.OutputLimit,
	}
	if r.pythonBin == "" {
		r.pythonBin = defaultPythonBin
	}
	if r.shellBin == "" {
		r.shellBin = defaultShellBin
	}
	if r.outputLimit <= 0 {
		r.outputLimit = defaultOutputLimit
	}
	return r
}

// Request describes one script invocation.
type Request struct {
	// Path to the materialized script on disk
	ScriptPath string

	// Kill the process after this long; zero means no limit
	Timeout time.Duration

	// Extra KEY=VALUE pairs appended to the daemon environment
	Env []string
}

// Result is the outcome of one script invocation.
type Result struct {
	// Exit code when the process exited on its own
	ExitCode *int

	// Combined stdout and stderr, tail-bounded
	Output string

	Duration time.Duration
	TimedOut bool
	Canceled bool

	// Start failure or abnormal exit, nil on a clean zero exit
	Err error
}

// Run executes the script and always returns a result, even when the
// process could not be started.
func (r *Runner) Run(ctx context.Context, req *Request) *Result {
	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	name, args := r.command(req.ScriptPath)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = filepath.Dir(req.ScriptPath)
	cmd.Env = append(os.Environ(), req.Env...)

	capture := newTailBuffer(r.outputLimit)
	cmd.Stdout = capture
	cmd.Stderr = capture

	start := time.Now()
	err := cmd.Run()

	res := &Result{
		Output:   capture.String(),
		Duration: time.Since(start),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
	case runCtx.Err() == context.Canceled:
		res.Canceled = true
	case err == nil:
		code := 0
		res.ExitCode = &code
	default:
		res.Err = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			if code := exitErr.ExitCode(); code >= 0 {
				res.ExitCode = &code
			}
		}
	}

	return res
}

// command maps a script to its interpreter invocation. Unknown
// extensions are executed directly and rely on the file's shebang.
func (r *Runner) command(scriptPath string) (string, []string) {
	switch strings.ToLower(filepath.Ext(scriptPath)) {
	case ".py":
		return r.pythonBin, []string{scriptPath}
	case ".sh":
		return r.shellBin, []string{scriptPath}
	default:
		return scriptPath, nil
	}
}
