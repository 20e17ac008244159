// Package gradient post-processes sensitivities returned by the adjoint
// and geometry stages.
package gradient

import (
	"fmt"
	"sort"

	"github.com/fsiopt/fsiopt/pkg/config"
)

// FixedSet is the set of design-variable indices pinned by a root or
// symmetry constraint. It is read-only once built.
type FixedSet struct {
	indices []int
}

// NewFixedSet builds a set from explicit indices.
func NewFixedSet(indices ...int) FixedSet {
	out := make([]int, len(indices))
	copy(out, indices)
	sort.Ints(out)
	return FixedSet{indices: dedupSorted(out)}
}

// RootFixedSet returns the control points of an FFD lattice that sit on
// the root row, i.e. i == 0 and j == 0 for every k. Design variables are
// numbered i + nI*j + nI*nJ*k with nI, nJ, nK points per axis.
func RootFixedSet(degree config.Degree) FixedSet {
	p := degree.Points()
	nI, nJ, nK := p[0], p[1], p[2]
	indices := make([]int, 0, nK)
	for k := 0; k < nK; k++ {
		indices = append(indices, nI*nJ*k)
	}
	return FixedSet{indices: indices}
}

// ForRoot builds the fixed set required by the root config. It is empty
// unless FFD_CONSTRAINT is ROOT.
func ForRoot(r *config.Root) FixedSet {
	if r.FFDConstraint != config.FFDConstraintRoot {
		return FixedSet{}
	}
	return RootFixedSet(r.FFDDegree)
}

// Indices returns the fixed indices in ascending order.
func (s FixedSet) Indices() []int {
	out := make([]int, len(s.indices))
	copy(out, s.indices)
	return out
}

// Len returns the number of fixed indices.
func (s FixedSet) Len() int {
	return len(s.indices)
}

// Empty reports whether no index is fixed.
func (s FixedSet) Empty() bool {
	return len(s.indices) == 0
}

// Contains reports whether i is fixed.
func (s FixedSet) Contains(i int) bool {
	n := sort.SearchInts(s.indices, i)
	return n < len(s.indices) && s.indices[n] == i
}

// Check verifies that every fixed index addresses a design variable of a
// vector of length n.
func (s FixedSet) Check(n int) error {
	if len(s.indices) == 0 {
		return nil
	}
	if last := s.indices[len(s.indices)-1]; last >= n {
		return fmt.Errorf("fixed design variable %d out of range for %d design variables", last, n)
	}
	return nil
}

// FixVector zeroes the fixed entries of an objective gradient in place.
func (s FixedSet) FixVector(grad []float64) error {
	if err := s.Check(len(grad)); err != nil {
		return err
	}
	for _, i := range s.indices {
		grad[i] = 0
	}
	return nil
}

// FixMatrix zeroes the fixed columns of a constraint jacobian in place.
// The jacobian has one row per constraint and one column per design
// variable.
func (s FixedSet) FixMatrix(jac [][]float64) error {
	for r, row := range jac {
		if err := s.Check(len(row)); err != nil {
			return fmt.Errorf("constraint %d: %w", r, err)
		}
		for _, i := range s.indices {
			row[i] = 0
		}
	}
	return nil
}

func dedupSorted(in []int) []int {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
