package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSense_Factor(t *testing.T) {
	assert.Equal(t, 1.0, SenseMinimize.Factor())
	assert.Equal(t, -1.0, SenseMaximize.Factor())
}

func TestParseConstraints(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    []Constraint
		wantErr bool
	}{
		{name: "none", value: "NONE"},
		{name: "empty", value: ""},
		{
			name:  "equality with scale",
			value: "( AIRFOIL_THICKNESS = 0.12 ) * 0.001",
			want: []Constraint{
				{Name: "AIRFOIL_THICKNESS", Operator: "=", Bound: 0.12, Scale: 0.001, Kind: ConstraintEquality},
			},
		},
		{
			name:  "mixed list",
			value: "( AIRFOIL_AREA > 0.05 ); (MAX_THICKNESS<0.3)*2",
			want: []Constraint{
				{Name: "AIRFOIL_AREA", Operator: ">", Bound: 0.05, Scale: 1, Kind: ConstraintInequality},
				{Name: "MAX_THICKNESS", Operator: "<", Bound: 0.3, Scale: 2, Kind: ConstraintInequality},
			},
		},
		{name: "missing operator", value: "( AREA 0.1 )", wantErr: true},
		{name: "missing parens", value: "AREA > 0.1", wantErr: true},
		{name: "bad bound", value: "( AREA > x )", wantErr: true},
		{name: "bad trailer", value: "( AREA > 0.1 ) + 2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConstraints(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConstraint_Sign(t *testing.T) {
	assert.Equal(t, -1.0, Constraint{Operator: "<"}.Sign())
	assert.Equal(t, 1.0, Constraint{Operator: ">"}.Sign())
	assert.Equal(t, 1.0, Constraint{Operator: "="}.Sign())
}

func TestParseDegree(t *testing.T) {
	d, err := ParseDegree("(3, 1, 1)")
	require.NoError(t, err)
	assert.Equal(t, Degree{3, 1, 1}, d)
	assert.Equal(t, [3]int{4, 2, 2}, d.Points())

	d, err = ParseDegree("( 2.0, 1.0, 0.0 )")
	require.NoError(t, err)
	assert.Equal(t, Degree{2, 1, 0}, d)

	_, err = ParseDegree("(3, 1)")
	assert.Error(t, err)

	_, err = ParseDegree("(3, -1, 1)")
	assert.Error(t, err)
}
