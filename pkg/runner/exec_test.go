package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestExecRunner_Success(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer
	r := &ExecRunner{Stdout: &stdout}

	res, err := r.Run(context.Background(), Invocation{
		Name:    "deform",
		Dir:     dir,
		Command: "sh",
		Args:    []string{"-c", "echo $FSI_TEST_VAR; touch out.su2"},
		Env:     map[string]string{"FSI_TEST_VAR": "hello"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", res.ExitCode)
	}

	if _, err := os.Stat(dir + "/out.su2"); err != nil {
		t.Errorf("Expected solver to run in its stage dir: %v", err)
	}

	logData, err := os.ReadFile(res.LogPath)
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if strings.TrimSpace(string(logData)) != "hello" {
		t.Errorf("Unexpected log content %q", logData)
	}
	if strings.TrimSpace(stdout.String()) != "hello" {
		t.Errorf("Unexpected stdout %q", stdout.String())
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	dir := t.TempDir()

	res, err := NewExecRunner().Run(context.Background(), Invocation{
		Name:    "primal",
		Dir:     dir,
		Command: "sh",
		Args:    []string{"-c", "echo diverged >&2; exit 3"},
	})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected ExitError, got %v", err)
	}
	if exitErr.Code != 3 || exitErr.Name != "primal" {
		t.Errorf("Unexpected exit error %+v", exitErr)
	}
	if res == nil || res.ExitCode != 3 {
		t.Errorf("Expected result with exit code 3, got %+v", res)
	}
}

func TestExecRunner_MissingCommand(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background(), Invocation{Name: "geo", Dir: t.TempDir()})
	if err == nil {
		t.Error("Expected error for empty command")
	}

	_, err = NewExecRunner().Run(context.Background(), Invocation{
		Name:    "geo",
		Dir:     t.TempDir(),
		Command: "definitely-not-a-solver-binary",
	})
	var exitErr *ExitError
	if err == nil || errors.As(err, &exitErr) {
		t.Errorf("Expected start failure, got %v", err)
	}
}

func TestRunnerFunc(t *testing.T) {
	called := false
	var r Runner = RunnerFunc(func(ctx context.Context, inv Invocation) (*Result, error) {
		called = inv.Name == "adjoint"
		return &Result{}, nil
	})
	if _, err := r.Run(context.Background(), Invocation{Name: "adjoint"}); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("Expected function to be called")
	}
}
