package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// Invocation describes one external solver run.
type Invocation struct {
	// Name identifies the solver in logs and errors, e.g. "primal".
	Name    string
	Dir     string
	Command string
	Args    []string
	// Env is added on top of the current process environment.
	Env map[string]string
}

// Result describes a finished solver run.
type Result struct {
	ExitCode int
	Duration time.Duration
	LogPath  string
}

// ExitError reports a solver that exited with a non-zero status.
type ExitError struct {
	Name    string
	Code    int
	LogPath string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("solver %s exited with status %d (see %s)", e.Name, e.Code, e.LogPath)
}

// Runner runs external solvers.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, inv Invocation) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (*Result, error) {
	return f(ctx, inv)
}

// ExecRunner runs solvers as child processes.
type ExecRunner struct {
	// Stdout, when set, also receives solver output.
	Stdout io.Writer
}

// NewExecRunner creates a runner that only writes solver logs to disk.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts inv.Command in inv.Dir and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Command == "" {
		return nil, fmt.Errorf("solver %s: command is required", inv.Name)
	}

	logPath := filepath.Join(inv.Dir, inv.Name+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create solver log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), envList(inv.Env)...)

	var out io.Writer = logFile
	if r.Stdout != nil {
		out = io.MultiWriter(logFile, r.Stdout)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err = cmd.Run()
	result := &Result{
		Duration: time.Since(start),
		LogPath:  logPath,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{Name: inv.Name, Code: result.ExitCode, LogPath: logPath}
		}
		return nil, fmt.Errorf("failed to execute solver %s: %w", inv.Name, err)
	}

	return result, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}
