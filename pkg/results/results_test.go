package results

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestObjective(t *testing.T) {
	dir := t.TempDir()
	content := fmt.Sprintf("%20s \t", "DRAG COEFFICIENT") + fmt.Sprintf("%20s \n", "LIFT COEFFICIENT") +
		fmt.Sprintf("%20s \t", "0.0123") + fmt.Sprintf("%20s \n", "0.456")
	write(t, dir, ObjectivesFile, content)

	tests := []struct {
		name string
		want float64
	}{
		{name: "DRAG", want: 0.0123},
		{name: "lift", want: 0.456},
		{name: "LIFT COEFFICIENT", want: 0.456},
	}
	for _, tt := range tests {
		got, err := Objective(dir, tt.name)
		if err != nil {
			t.Fatalf("Objective(%s) failed: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("Objective(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if _, err := Objective(dir, "MOMENT"); !errors.Is(err, ErrNoColumn) {
		t.Errorf("Expected ErrNoColumn, got %v", err)
	}
}

func TestObjective_Missing(t *testing.T) {
	if _, err := Objective(t.TempDir(), "DRAG"); err == nil {
		t.Error("Expected error for missing file")
	}

	dir := t.TempDir()
	write(t, dir, ObjectivesFile, "DRAG COEFFICIENT\n")
	if _, err := Objective(dir, "DRAG"); err == nil {
		t.Error("Expected error for header-only file")
	}
}

func TestGradient(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, GradientFile, `"VARIABLE"     , "GRADIENT"     , "FINDIFF_STEP"
0, 0.5, 0.001
1, -1.25e-3, 0.001
2, 3, 0.001
`)

	got, err := Gradient(dir)
	if err != nil {
		t.Fatalf("Gradient failed: %v", err)
	}
	want := []float64{0.5, -1.25e-3, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestGradient_SingleColumn(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, GradientFile, "1.5\n-2\n\n")

	got, err := Gradient(dir)
	if err != nil {
		t.Fatalf("Gradient failed: %v", err)
	}
	if !reflect.DeepEqual(got, []float64{1.5, -2}) {
		t.Errorf("Unexpected gradient %v", got)
	}
}

func TestGeoFunctions(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, GeoFunctionsFile, `"AIRFOIL_AREA", "AIRFOIL_THICKNESS", "MAX_THICKNESS"
0.08, 0.12, 0.13
`)

	tbl, err := GeoFunctions(dir)
	if err != nil {
		t.Fatalf("GeoFunctions failed: %v", err)
	}
	vals, err := tbl.Values("AIRFOIL_THICKNESS")
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 1 || vals[0] != 0.12 {
		t.Errorf("Unexpected values %v", vals)
	}
}

func TestGeoGradients(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, GeoGradientsFile, `"DESIGN_VARIABLE", "AIRFOIL_AREA", "AIRFOIL_THICKNESS"
0, 0.1, 1.0
1, 0.2, 2.0
2, 0.3, 3.0
`)

	tbl, err := GeoGradients(dir)
	if err != nil {
		t.Fatalf("GeoGradients failed: %v", err)
	}
	if !reflect.DeepEqual(tbl.Columns, []string{"AIRFOIL_AREA", "AIRFOIL_THICKNESS"}) {
		t.Errorf("Unexpected columns %v", tbl.Columns)
	}
	col, err := tbl.Values("AIRFOIL_THICKNESS")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(col, []float64{1, 2, 3}) {
		t.Errorf("Unexpected column %v", col)
	}
}

func TestReadTable_BadNumber(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "bad.csv", "A,B\n1,x\n")
	if _, err := ReadTable(filepath.Join(dir, "bad.csv"), ','); err == nil {
		t.Error("Expected parse error")
	}
}
