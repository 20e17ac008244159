// Package engine is the design-point cache and workflow orchestrator of an
// FSI shape optimization.
//
// # Overview
//
// An external optimizer asks for the objective, its gradient and the
// equality and inequality constraints with their jacobians, each as a
// function of a design-variable vector. Every answer needs expensive
// solvers, so the Workflow keeps one design per distinct vector and runs
// each solver stage at most once per design:
//
//  1. Deform - deform the original mesh with the design variables
//  2. Primal - coupled fluid/structure forward simulation
//  3. Adjoint - coupled sensitivity simulation, from the primal restart
//  4. Geo - geometric constraint values and jacobians
//
// # Designs
//
// A query whose vector lies within DESIGN_TOLERANCE of the current design
// reuses it, including every answer already computed. Any other vector
// starts a new design under DESIGNS/DSN_NNN and deforms the mesh, except
// for the very first design which runs on the original mesh.
//
// # Stage Graph
//
// Stages are ordered by a StageGraph. Order dependencies only say which
// outputs a stage consumes when they exist (the deformed mesh). Require
// dependencies must already be complete: asking for the objective gradient
// before the objective of the same design is a sequencing error and never
// starts the primal implicitly.
//
// # Error Classification
//
// Errors are classified, and none is retried:
//
//   - Configuration: missing or malformed keys, inconsistent vectors (fatal)
//   - Staging: directory, copy or link failures
//   - Solver: non-zero exit or unreadable outputs
//   - Sequencing: a stage requested before what it requires (fatal)
//
// Failed stage directories are left on disk for inspection.
//
// # Concurrency
//
// A Workflow serves one query at a time. Solvers run to completion even if
// the query context is cancelled.
package engine
