package engine

import (
	"strings"
	"testing"

	"github.com/fsiopt/fsiopt/pkg/design"
)

func TestBuildStageGraph_Default(t *testing.T) {
	g, err := BuildStageGraph(DefaultStageSpecs())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Expected valid graph, got: %v", err)
	}

	if g.Depth() != 3 {
		t.Errorf("Expected depth 3, got %d", g.Depth())
	}
	if len(g.Roots) != 1 || g.Roots[0] != design.StageDeform {
		t.Errorf("Expected DEFORM as the only root, got %v", g.Roots)
	}

	wantLevels := map[design.Stage]int{
		design.StageDeform:  0,
		design.StagePrimal:  1,
		design.StageGeo:     1,
		design.StageAdjoint: 2,
	}
	for stage, level := range wantLevels {
		if got := g.Nodes[stage].Level; got != level {
			t.Errorf("Expected %s at level %d, got %d", stage, level, got)
		}
	}

	order := g.Order()
	if len(order) != 4 || order[0] != design.StageDeform || order[3] != design.StageAdjoint {
		t.Errorf("Unexpected order %v", order)
	}
}

func TestStageGraph_Requires(t *testing.T) {
	g, err := BuildStageGraph(DefaultStageSpecs())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	tests := []struct {
		stage design.Stage
		want  []design.Stage
	}{
		{design.StageDeform, nil},
		{design.StagePrimal, nil},
		{design.StageAdjoint, []design.Stage{design.StagePrimal}},
		{design.StageGeo, nil},
	}
	for _, tt := range tests {
		got := g.Requires(tt.stage)
		if len(got) != len(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.stage, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: expected %v, got %v", tt.stage, tt.want, got)
			}
		}
	}
}

func TestBuildStageGraph_Cycle(t *testing.T) {
	specs := []StageSpec{
		{Stage: "A", Dependencies: []StageDependency{{Stage: "C", Type: DependencyRequire}}},
		{Stage: "B", Dependencies: []StageDependency{{Stage: "A", Type: DependencyRequire}}},
		{Stage: "C", Dependencies: []StageDependency{{Stage: "B", Type: DependencyOrder}}},
	}

	_, err := BuildStageGraph(specs)
	if err == nil {
		t.Fatal("Expected cycle error")
	}
	if ErrorCode(err) != ErrCodeStageOrder {
		t.Errorf("Expected code %s, got %s", ErrCodeStageOrder, ErrorCode(err))
	}
	if !strings.Contains(err.Error(), "->") {
		t.Errorf("Expected cycle path in error, got %v", err)
	}
}

func TestBuildStageGraph_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		specs []StageSpec
	}{
		{
			name:  "empty name",
			specs: []StageSpec{{Stage: ""}},
		},
		{
			name:  "duplicate",
			specs: []StageSpec{{Stage: "A"}, {Stage: "A"}},
		},
		{
			name: "unknown dependency",
			specs: []StageSpec{
				{Stage: "A", Dependencies: []StageDependency{{Stage: "Z", Type: DependencyRequire}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildStageGraph(tt.specs)
			if !IsConfiguration(err) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}
}

func TestStageGraph_ToDOT(t *testing.T) {
	g, err := BuildStageGraph(DefaultStageSpecs())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := g.ToDOT()
	for _, want := range []string{
		"digraph Stages {",
		`"Primal" -> "Adjoint" [style=solid, color=black];`,
		`"DEFORM" -> "GEO" [style=dashed, color=gray];`,
		"cluster_level_2",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q", want)
		}
	}
}
