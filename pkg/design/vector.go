package design

import (
	"math"
	"strconv"
	"strings"
)

// Vector is a design-variable vector.
type Vector []float64

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Distance returns the Euclidean norm of v - o. Vectors of different
// length are infinitely far apart.
func (v Vector) Distance(o Vector) float64 {
	if len(v) != len(o) {
		return math.Inf(1)
	}
	var sum float64
	for i := range v {
		d := v[i] - o[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Format renders v as a comma separated list, the form used by the
// DV_VALUE key of SU2 configs.
func (v Vector) Format() string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', 15, 64)
	}
	return strings.Join(parts, ", ")
}

// ParseVector parses a comma separated list of numbers.
func ParseVector(s string) (Vector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Vector{}, nil
	}
	fields := strings.Split(s, ",")
	out := make(Vector, 0, len(fields))
	for _, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}
