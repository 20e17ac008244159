package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fsiopt/fsiopt/pkg/design"
)

// DependencyType says how a stage uses the stage it depends on.
type DependencyType string

const (
	// DependencyRequire means the dependency must already be complete for
	// the same design. Requesting the stage earlier is a sequencing error.
	DependencyRequire DependencyType = "require"

	// DependencyOrder means the stage consumes the dependency's outputs
	// when it has run, e.g. the deformed mesh.
	DependencyOrder DependencyType = "order"
)

// StageDependency is an edge from a stage to one it depends on.
type StageDependency struct {
	Stage design.Stage
	Type  DependencyType
}

// StageSpec declares a stage and its dependencies.
type StageSpec struct {
	Stage        design.Stage
	Dependencies []StageDependency
}

// DefaultStageSpecs is the FSI workflow: Deform feeds every other stage
// its mesh, Adjoint needs the Primal restart files, Geo stands alone.
func DefaultStageSpecs() []StageSpec {
	return []StageSpec{
		{Stage: design.StageDeform},
		{
			Stage:        design.StagePrimal,
			Dependencies: []StageDependency{{Stage: design.StageDeform, Type: DependencyOrder}},
		},
		{
			Stage: design.StageAdjoint,
			Dependencies: []StageDependency{
				{Stage: design.StageDeform, Type: DependencyOrder},
				{Stage: design.StagePrimal, Type: DependencyRequire},
			},
		},
		{
			Stage:        design.StageGeo,
			Dependencies: []StageDependency{{Stage: design.StageDeform, Type: DependencyOrder}},
		},
	}
}

// StageNode is a stage placed in the graph.
type StageNode struct {
	Stage        design.Stage
	Level        int
	Dependencies []design.Stage
	Dependents   []design.Stage
}

// StageEdge connects a dependency to the stage that needs it.
type StageEdge struct {
	From design.Stage
	To   design.Stage
	Type DependencyType
}

// StageGraph is the validated stage dependency graph.
type StageGraph struct {
	Nodes map[design.Stage]*StageNode
	Edges []StageEdge
	Roots []design.Stage

	// Levels groups stages whose dependencies all sit in earlier levels.
	Levels [][]design.Stage

	specs map[design.Stage]StageSpec
}

// graphBuilder builds a StageGraph, detecting cycles and computing
// topological levels.
type graphBuilder struct {
	specs                map[design.Stage]StageSpec
	order                map[design.Stage]int
	adjacencyList        map[design.Stage][]design.Stage
	reverseAdjacencyList map[design.Stage][]design.Stage
	inDegree             map[design.Stage]int
	levels               [][]design.Stage
}

// BuildStageGraph validates specs and builds the stage graph.
func BuildStageGraph(specs []StageSpec) (*StageGraph, error) {
	b := &graphBuilder{
		specs:                make(map[design.Stage]StageSpec),
		order:                make(map[design.Stage]int),
		adjacencyList:        make(map[design.Stage][]design.Stage),
		reverseAdjacencyList: make(map[design.Stage][]design.Stage),
		inDegree:             make(map[design.Stage]int),
	}

	if err := b.initialize(specs); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	return b.build(), nil
}

// initialize indexes stages and builds the adjacency lists.
func (b *graphBuilder) initialize(specs []StageSpec) error {
	for i, spec := range specs {
		if spec.Stage == "" {
			return NewConfigurationError("stage has empty name", nil).
				WithCode(ErrCodeInvalidValue)
		}
		if _, exists := b.specs[spec.Stage]; exists {
			return NewConfigurationError(fmt.Sprintf("duplicate stage: %s", spec.Stage), nil).
				WithCode(ErrCodeInvalidValue)
		}
		b.specs[spec.Stage] = spec
		b.order[spec.Stage] = i
		b.inDegree[spec.Stage] = 0
	}

	for _, spec := range specs {
		for _, dep := range spec.Dependencies {
			if _, exists := b.specs[dep.Stage]; !exists {
				return NewConfigurationError(
					fmt.Sprintf("stage %s depends on unknown stage %s", spec.Stage, dep.Stage),
					nil,
				).WithCode(ErrCodeInvalidValue).WithStage(spec.Stage)
			}
			// dependency runs before the stage
			b.adjacencyList[dep.Stage] = append(b.adjacencyList[dep.Stage], spec.Stage)
			b.reverseAdjacencyList[spec.Stage] = append(b.reverseAdjacencyList[spec.Stage], dep.Stage)
			b.inDegree[spec.Stage]++
		}
	}

	return nil
}

// sorted returns stages in declaration order.
func (b *graphBuilder) sorted(stages []design.Stage) []design.Stage {
	sort.SliceStable(stages, func(i, j int) bool {
		return b.order[stages[i]] < b.order[stages[j]]
	})
	return stages
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *graphBuilder) detectCycles() error {
	visited := make(map[design.Stage]bool)
	recStack := make(map[design.Stage]bool)

	stages := make([]design.Stage, 0, len(b.specs))
	for s := range b.specs {
		stages = append(stages, s)
	}

	for _, s := range b.sorted(stages) {
		if visited[s] {
			continue
		}
		if cycle := b.detectCyclesUtil(s, visited, recStack, nil); cycle != nil {
			return NewConfigurationError(
				fmt.Sprintf("circular stage dependency: %s", formatCycle(cycle)),
				nil,
			).WithCode(ErrCodeStageOrder)
		}
	}

	return nil
}

func (b *graphBuilder) detectCyclesUtil(
	stage design.Stage,
	visited map[design.Stage]bool,
	recStack map[design.Stage]bool,
	path []design.Stage,
) []design.Stage {
	visited[stage] = true
	recStack[stage] = true
	path = append(path, stage)

	for _, dependent := range b.adjacencyList[stage] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, s := range path {
				if s == dependent {
					return append(path[i:], dependent)
				}
			}
		}
	}

	recStack[stage] = false
	return nil
}

// computeLevels assigns levels with Kahn's algorithm.
func (b *graphBuilder) computeLevels() error {
	inDegree := make(map[design.Stage]int, len(b.inDegree))
	current := make([]design.Stage, 0)
	for s, degree := range b.inDegree {
		inDegree[s] = degree
		if degree == 0 {
			current = append(current, s)
		}
	}

	processed := 0
	for len(current) > 0 {
		current = b.sorted(current)
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]design.Stage, 0)
		for _, s := range current {
			for _, dependent := range b.adjacencyList[s] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(b.specs) {
		return NewConfigurationError("failed to order all stages", nil).
			WithCode(ErrCodeInternal)
	}
	return nil
}

func (b *graphBuilder) build() *StageGraph {
	g := &StageGraph{
		Nodes:  make(map[design.Stage]*StageNode, len(b.specs)),
		Edges:  make([]StageEdge, 0),
		Roots:  make([]design.Stage, 0),
		Levels: b.levels,
		specs:  b.specs,
	}

	for level, stages := range b.levels {
		for _, s := range stages {
			g.Nodes[s] = &StageNode{
				Stage:        s,
				Level:        level,
				Dependencies: b.reverseAdjacencyList[s],
				Dependents:   b.sorted(b.adjacencyList[s]),
			}
			if level == 0 {
				g.Roots = append(g.Roots, s)
			}
			for _, dep := range b.specs[s].Dependencies {
				g.Edges = append(g.Edges, StageEdge{From: dep.Stage, To: s, Type: dep.Type})
			}
		}
	}

	return g
}

// Depth returns the number of levels.
func (g *StageGraph) Depth() int {
	return len(g.Levels)
}

// Requires returns the stages that must be complete before stage may run.
func (g *StageGraph) Requires(stage design.Stage) []design.Stage {
	var out []design.Stage
	for _, dep := range g.specs[stage].Dependencies {
		if dep.Type == DependencyRequire {
			out = append(out, dep.Stage)
		}
	}
	return out
}

// Consumes lists the stages whose outputs stage reads when they ran.
func (g *StageGraph) Consumes(stage design.Stage) []design.Stage {
	var out []design.Stage
	for _, dep := range g.specs[stage].Dependencies {
		if dep.Type == DependencyOrder {
			out = append(out, dep.Stage)
		}
	}
	return out
}

// Order lists every stage with dependencies first.
func (g *StageGraph) Order() []design.Stage {
	var out []design.Stage
	for _, level := range g.Levels {
		out = append(out, level...)
	}
	return out
}

// Validate checks the graph's internal consistency.
func (g *StageGraph) Validate() error {
	for _, edge := range g.Edges {
		if _, exists := g.Nodes[edge.From]; !exists {
			return NewConfigurationError(fmt.Sprintf("edge references unknown stage: %s", edge.From), nil).
				WithCode(ErrCodeInternal)
		}
		if _, exists := g.Nodes[edge.To]; !exists {
			return NewConfigurationError(fmt.Sprintf("edge references unknown stage: %s", edge.To), nil).
				WithCode(ErrCodeInternal)
		}
		if g.Nodes[edge.From].Level >= g.Nodes[edge.To].Level {
			return NewConfigurationError(fmt.Sprintf("stage %s is not ordered before %s", edge.From, edge.To), nil).
				WithCode(ErrCodeStageOrder)
		}
	}

	for _, root := range g.Roots {
		if len(g.Nodes[root].Dependencies) > 0 {
			return NewConfigurationError(fmt.Sprintf("root stage %s has dependencies", root), nil).
				WithCode(ErrCodeInternal)
		}
	}

	return nil
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *StageGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Stages {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, stages := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, s := range stages {
			sb.WriteString(fmt.Sprintf("    \"%s\";\n", s))
		}
		sb.WriteString("  }\n\n")
	}

	for _, edge := range g.Edges {
		sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", edge.From, edge.To, dependencyStyle(edge.Type)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func formatCycle(cycle []design.Stage) string {
	parts := make([]string, len(cycle))
	for i, s := range cycle {
		parts[i] = string(s)
	}
	return strings.Join(parts, " -> ")
}

func dependencyStyle(t DependencyType) string {
	switch t {
	case DependencyOrder:
		return "style=dashed, color=gray"
	default:
		return "style=solid, color=black"
	}
}
