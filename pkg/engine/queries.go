package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsiopt/fsiopt/pkg/config"
	"github.com/fsiopt/fsiopt/pkg/design"
	"github.com/fsiopt/fsiopt/pkg/results"
	"github.com/fsiopt/fsiopt/pkg/telemetry"
)

// Query names an optimizer-facing operation.
type Query string

const (
	QueryObjective              Query = "objective"
	QueryObjectiveGradient      Query = "objective_gradient"
	QueryConstraintEq           Query = "constraint_eq"
	QueryConstraintEqGradient   Query = "constraint_eq_gradient"
	QueryConstraintIneq         Query = "constraint_ineq"
	QueryConstraintIneqGradient Query = "constraint_ineq_gradient"
)

// Queries lists every query in a stable order.
var Queries = []Query{
	QueryObjective,
	QueryObjectiveGradient,
	QueryConstraintEq,
	QueryConstraintEqGradient,
	QueryConstraintIneq,
	QueryConstraintIneqGradient,
}

// ParseQuery returns the query called name.
func ParseQuery(name string) (Query, error) {
	q := Query(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Queries {
		if q == known {
			return q, nil
		}
	}
	return "", NewConfigurationError(fmt.Sprintf("unknown query %q", name), nil).WithCode(ErrCodeUnknownQuery)
}

// Scaled is a raw solver output with the scale and global factor applied
// to it. The engine owns the combination rule.
type Scaled struct {
	Raw    float64
	Scale  float64
	Factor float64
}

// Value returns Raw × Scale × Factor.
func (s Scaled) Value() float64 {
	return s.Raw * s.Scale * s.Factor
}

// memo caches the answers of the current design.
type memo struct {
	design int

	objective         *Scaled
	objectiveGradient []float64
	values            map[config.ConstraintKind][]float64
	jacobians         map[config.ConstraintKind][][]float64
}

func (w *Workflow) memoFor(rec *design.Record) *memo {
	if w.memo == nil || w.memo.design != rec.Index {
		w.memo = &memo{
			design:    rec.Index,
			values:    make(map[config.ConstraintKind][]float64),
			jacobians: make(map[config.ConstraintKind][][]float64),
		}
	}
	return w.memo
}

// run wraps a query with instrumentation and design selection. fn reports
// whether it answered from the memo.
func (w *Workflow) run(ctx context.Context, q Query, x []float64, fn func(ctx context.Context, rec *design.Record, m *memo) (bool, error)) error {
	tel := w.tel
	ic := tel.StartQuery(ctx, string(q), len(x))

	rec, err := w.ensureDesign(ic.Ctx, design.Vector(x), q)
	if err == nil {
		var hit bool
		hit, err = fn(ic.Ctx, rec, w.memoFor(rec))
		if hit {
			tel.Metrics.RecordCacheHit(string(q))
		}
	}

	if err != nil {
		index := telemetry.NoDesign
		if cur := w.history.Current(); cur != nil {
			index = cur.Index
		}
		_ = tel.Events.PublishQueryFailed(index, string(q), err.Error())
		ic.Logger.WithError(err).Error("Query failed")
	}
	tel.EndQuery(ic, string(q), err)
	return err
}

// Objective returns the scaled objective of x, running the primal stage
// if this design has not been evaluated yet.
func (w *Workflow) Objective(ctx context.Context, x []float64) (float64, error) {
	var value float64
	err := w.run(ctx, QueryObjective, x, func(ctx context.Context, rec *design.Record, m *memo) (bool, error) {
		if m.objective != nil {
			value = m.objective.Value()
			return true, nil
		}
		if err := w.runStage(ctx, rec, design.StagePrimal); err != nil {
			return false, err
		}
		raw, err := results.Objective(rec.StageDir(design.StagePrimal), w.root.Objective.Name)
		if err != nil {
			return false, outputError(err, rec, design.StagePrimal)
		}
		m.objective = &Scaled{
			Raw:    raw,
			Scale:  w.root.Objective.Scale,
			Factor: w.root.Objective.Sense.Factor(),
		}
		value = m.objective.Value()
		return false, nil
	})
	return value, err
}

// ObjectiveGradient returns the scaled objective gradient of x with
// fixed variables zeroed. The primal must already have run for x.
func (w *Workflow) ObjectiveGradient(ctx context.Context, x []float64) ([]float64, error) {
	var grad []float64
	err := w.run(ctx, QueryObjectiveGradient, x, func(ctx context.Context, rec *design.Record, m *memo) (bool, error) {
		if m.objectiveGradient != nil {
			grad = copyVector(m.objectiveGradient)
			return true, nil
		}
		if err := w.runStage(ctx, rec, design.StageAdjoint); err != nil {
			return false, err
		}
		raw, err := results.Gradient(rec.StageDir(design.StageAdjoint))
		if err != nil {
			return false, outputError(err, rec, design.StageAdjoint)
		}
		if len(raw) != len(rec.X) {
			return false, outputError(
				fmt.Errorf("gradient has %d entries for %d design variables", len(raw), len(rec.X)),
				rec, design.StageAdjoint)
		}

		obj := w.root.Objective
		out := make([]float64, len(raw))
		for i, g := range raw {
			out[i] = Scaled{Raw: g, Scale: obj.Scale, Factor: obj.Sense.Factor()}.Value()
		}
		if err := w.fixed.FixVector(out); err != nil {
			return false, NewConfigurationError("failed to zero fixed variables", err).
				WithCode(ErrCodeDimensionMismatch).WithDesign(rec.Index)
		}

		m.objectiveGradient = out
		grad = copyVector(out)
		return false, nil
	})
	return grad, err
}

// ConstraintEq returns the scaled equality constraint values of x.
func (w *Workflow) ConstraintEq(ctx context.Context, x []float64) ([]float64, error) {
	return w.constraintValues(ctx, QueryConstraintEq, config.ConstraintEquality, x)
}

// ConstraintEqGradient returns the scaled equality constraint jacobian of
// x, one row per constraint.
func (w *Workflow) ConstraintEqGradient(ctx context.Context, x []float64) ([][]float64, error) {
	return w.constraintJacobian(ctx, QueryConstraintEqGradient, config.ConstraintEquality, x)
}

// ConstraintIneq returns the scaled inequality constraint values of x.
func (w *Workflow) ConstraintIneq(ctx context.Context, x []float64) ([]float64, error) {
	return w.constraintValues(ctx, QueryConstraintIneq, config.ConstraintInequality, x)
}

// ConstraintIneqGradient returns the scaled inequality constraint
// jacobian of x, one row per constraint.
func (w *Workflow) ConstraintIneqGradient(ctx context.Context, x []float64) ([][]float64, error) {
	return w.constraintJacobian(ctx, QueryConstraintIneqGradient, config.ConstraintInequality, x)
}

func (w *Workflow) constraintValues(ctx context.Context, q Query, kind config.ConstraintKind, x []float64) ([]float64, error) {
	values := []float64{}
	err := w.run(ctx, q, x, func(ctx context.Context, rec *design.Record, m *memo) (bool, error) {
		if cached, ok := m.values[kind]; ok {
			values = copyVector(cached)
			return true, nil
		}
		constraints := w.root.ConstraintsOf(kind)
		if len(constraints) == 0 {
			m.values[kind] = []float64{}
			return false, nil
		}
		if err := w.runStage(ctx, rec, design.StageGeo); err != nil {
			return false, err
		}
		table, err := results.GeoFunctions(rec.StageDir(design.StageGeo))
		if err != nil {
			return false, outputError(err, rec, design.StageGeo)
		}

		out := make([]float64, len(constraints))
		for i, c := range constraints {
			col, err := table.Values(c.Name)
			if err != nil {
				return false, outputError(err, rec, design.StageGeo)
			}
			out[i] = Scaled{Raw: col[len(col)-1] - c.Bound, Scale: c.Scale, Factor: c.Sign()}.Value()
		}

		m.values[kind] = out
		values = copyVector(out)
		return false, nil
	})
	return values, err
}

func (w *Workflow) constraintJacobian(ctx context.Context, q Query, kind config.ConstraintKind, x []float64) ([][]float64, error) {
	jac := [][]float64{}
	err := w.run(ctx, q, x, func(ctx context.Context, rec *design.Record, m *memo) (bool, error) {
		if cached, ok := m.jacobians[kind]; ok {
			jac = copyMatrix(cached)
			return true, nil
		}
		constraints := w.root.ConstraintsOf(kind)
		if len(constraints) == 0 {
			m.jacobians[kind] = [][]float64{}
			return false, nil
		}
		if err := w.runStage(ctx, rec, design.StageGeo); err != nil {
			return false, err
		}
		table, err := results.GeoGradients(rec.StageDir(design.StageGeo))
		if err != nil {
			return false, outputError(err, rec, design.StageGeo)
		}
		if len(table.Rows) != len(rec.X) {
			return false, outputError(
				fmt.Errorf("jacobian has %d rows for %d design variables", len(table.Rows), len(rec.X)),
				rec, design.StageGeo)
		}

		// the file holds one row per design variable
		out := make([][]float64, len(constraints))
		for i, c := range constraints {
			col, err := table.Column(c.Name)
			if err != nil {
				return false, outputError(err, rec, design.StageGeo)
			}
			row := make([]float64, len(table.Rows))
			for j, dv := range table.Rows {
				if col >= len(dv) {
					return false, outputError(
						fmt.Errorf("row %d has no column %q", j, c.Name), rec, design.StageGeo)
				}
				row[j] = Scaled{Raw: dv[col], Scale: c.Scale, Factor: c.Sign()}.Value()
			}
			out[i] = row
		}
		if err := w.fixed.FixMatrix(out); err != nil {
			return false, NewConfigurationError("failed to zero fixed variables", err).
				WithCode(ErrCodeDimensionMismatch).WithDesign(rec.Index)
		}

		m.jacobians[kind] = out
		jac = copyMatrix(out)
		return false, nil
	})
	return jac, err
}

// Answer is the result of Evaluate. Exactly one of Value, Vector and
// Matrix is set.
type Answer struct {
	Query  Query       `json:"query"`
	Design int         `json:"design"`
	Value  *float64    `json:"value,omitempty"`
	Vector []float64   `json:"vector,omitempty"`
	Matrix [][]float64 `json:"matrix,omitempty"`
}

// Evaluate runs the query q for x.
func (w *Workflow) Evaluate(ctx context.Context, q Query, x []float64) (*Answer, error) {
	ans := &Answer{Query: q}
	var err error
	switch q {
	case QueryObjective:
		var v float64
		if v, err = w.Objective(ctx, x); err == nil {
			ans.Value = &v
		}
	case QueryObjectiveGradient:
		ans.Vector, err = w.ObjectiveGradient(ctx, x)
	case QueryConstraintEq:
		ans.Vector, err = w.ConstraintEq(ctx, x)
	case QueryConstraintEqGradient:
		ans.Matrix, err = w.ConstraintEqGradient(ctx, x)
	case QueryConstraintIneq:
		ans.Vector, err = w.ConstraintIneq(ctx, x)
	case QueryConstraintIneqGradient:
		ans.Matrix, err = w.ConstraintIneqGradient(ctx, x)
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unknown query %q", q), nil).WithCode(ErrCodeUnknownQuery)
	}
	if err != nil {
		return nil, err
	}
	if cur := w.history.Current(); cur != nil {
		ans.Design = cur.Index
	}
	return ans, nil
}

// outputError reports a solver output that is missing or unreadable.
func outputError(err error, rec *design.Record, stage design.Stage) *EngineError {
	return NewSolverError("failed to read solver output", err).
		WithCode(ErrCodeOutputInvalid).WithStage(stage).WithDesign(rec.Index)
}

func copyVector(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = copyVector(row)
	}
	return out
}
