package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fsiopt/fsiopt/pkg/design"
)

func TestEngineError_Classes(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		fatal bool
	}{
		{"configuration", NewConfigurationError("missing key", nil), IsConfiguration, true},
		{"staging", NewStagingError("mkdir failed", nil), IsStaging, false},
		{"solver", NewSolverError("exit 1", nil), IsSolver, false},
		{"sequencing", NewSequencingError("adjoint before primal", nil), IsSequencing, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("query: %w", tt.err)
			if !tt.check(wrapped) {
				t.Errorf("Expected class check to match through wrapping")
			}
			if IsFatal(wrapped) != tt.fatal {
				t.Errorf("Expected IsFatal=%v", tt.fatal)
			}
		})
	}

	if IsFatal(errors.New("plain")) {
		t.Error("Plain errors must not be fatal")
	}
}

func TestEngineError_Message(t *testing.T) {
	cause := errors.New("exit status 2")
	err := NewSolverError("primal solver failed", cause).
		WithCode(ErrCodeSolverFailed).
		WithStage(design.StagePrimal).
		WithDesign(4)

	msg := err.Error()
	for _, want := range []string{"[solver]", "primal solver failed", "exit status 2", "design=4", "stage=Primal"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in %q", want, msg)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassSolver, Code: ErrCodeSolverFailed}) {
		t.Error("Expected errors.Is to match class and code")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassSolver, Code: ErrCodeOutputInvalid}) {
		t.Error("Expected a different code not to match")
	}

	plain := NewConfigurationError("bad", nil)
	if plain.Error() != "[configuration] bad" {
		t.Errorf("Unexpected message %q", plain.Error())
	}
}

func TestEngineError_Details(t *testing.T) {
	err := NewSolverError("failed", nil).WithDetail("exit_code", 3)
	if err.Details["exit_code"] != 3 {
		t.Errorf("Expected exit_code detail, got %v", err.Details)
	}
	if ErrorCode(errors.New("x")) != "" {
		t.Error("Expected no code for plain errors")
	}
}
