package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Sense is the optimization direction of the objective.
type Sense string

const (
	SenseMinimize Sense = "MINIMIZE"
	SenseMaximize Sense = "MAXIMIZE"
)

// Factor returns the global sign applied to objective values and gradients.
func (s Sense) Factor() float64 {
	if s == SenseMaximize {
		return -1
	}
	return 1
}

// Objective selects and scales the objective read from primal outputs.
type Objective struct {
	// Name is matched against the column headers of the primal objective
	// file, e.g. DRAG matches "DRAG COEFFICIENT".
	Name  string  `validate:"required"`
	Scale float64 `validate:"ne=0"`
	Sense Sense   `validate:"oneof=MINIMIZE MAXIMIZE"`
}

// ConstraintKind distinguishes equality from inequality constraints.
type ConstraintKind string

const (
	ConstraintEquality   ConstraintKind = "eq"
	ConstraintInequality ConstraintKind = "ieq"
)

// Constraint is one geometric constraint from OPT_CONSTRAINT.
//
//	( NAME = 0.12 ) * 1.0    equality,   value = (raw - 0.12) * 1.0
//	( NAME > 0.05 ) * 0.1    inequality, value = (raw - 0.05) * 0.1
//	( NAME < 0.30 )          inequality, value = (0.30 - raw)
//
// Inequalities are normalised so that feasible designs are non-negative.
type Constraint struct {
	Name     string `validate:"required"`
	Operator string
	Bound    float64
	Scale    float64        `validate:"ne=0"`
	Kind     ConstraintKind `validate:"oneof=eq ieq"`
}

// Sign is -1 for upper-bound (<) constraints and 1 otherwise.
func (c Constraint) Sign() float64 {
	if c.Operator == "<" {
		return -1
	}
	return 1
}

// ParseConstraints parses an OPT_CONSTRAINT value. NONE and the empty
// string yield no constraints.
func ParseConstraints(value string) ([]Constraint, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "NONE") {
		return nil, nil
	}

	var out []Constraint
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseConstraint(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseConstraint(expr string) (Constraint, error) {
	open := strings.Index(expr, "(")
	closing := strings.LastIndex(expr, ")")
	if open != 0 || closing < open {
		return Constraint{}, fmt.Errorf("constraint %q: expected ( NAME op value ) [* scale]", expr)
	}

	c := Constraint{Scale: 1}
	inner := expr[open+1 : closing]
	opIdx := strings.IndexAny(inner, "=<>")
	if opIdx < 0 {
		return Constraint{}, fmt.Errorf("constraint %q: missing operator", expr)
	}
	c.Name = strings.TrimSpace(inner[:opIdx])
	c.Operator = inner[opIdx : opIdx+1]
	if c.Name == "" {
		return Constraint{}, fmt.Errorf("constraint %q: missing name", expr)
	}

	bound, err := strconv.ParseFloat(strings.TrimSpace(inner[opIdx+1:]), 64)
	if err != nil {
		return Constraint{}, fmt.Errorf("constraint %q: invalid bound: %w", expr, err)
	}
	c.Bound = bound

	if rest := strings.TrimSpace(expr[closing+1:]); rest != "" {
		scaleStr, ok := strings.CutPrefix(rest, "*")
		if !ok {
			return Constraint{}, fmt.Errorf("constraint %q: unexpected trailing %q", expr, rest)
		}
		scale, err := strconv.ParseFloat(strings.TrimSpace(scaleStr), 64)
		if err != nil {
			return Constraint{}, fmt.Errorf("constraint %q: invalid scale: %w", expr, err)
		}
		c.Scale = scale
	}

	if c.Operator == "=" {
		c.Kind = ConstraintEquality
	} else {
		c.Kind = ConstraintInequality
	}
	return c, nil
}

// Degree is the free-form deformation lattice degree along i, j and k.
type Degree [3]int

// ParseDegree parses an FFD_DEGREE value such as "(3, 1, 1)".
// Components written as floats are truncated.
func ParseDegree(value string) (Degree, error) {
	var d Degree
	trimmed := strings.Trim(strings.TrimSpace(value), "( )")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 3 {
		return d, fmt.Errorf("ffd degree %q: expected three components", value)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return d, fmt.Errorf("ffd degree %q: %w", value, err)
		}
		if f < 0 {
			return d, fmt.Errorf("ffd degree %q: negative component", value)
		}
		d[i] = int(f)
	}
	return d, nil
}

// Points returns the number of control points along each lattice axis.
func (d Degree) Points() [3]int {
	return [3]int{d[0] + 1, d[1] + 1, d[2] + 1}
}
