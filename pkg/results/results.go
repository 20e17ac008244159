// Package results reads the output files solvers leave in their stage
// directories.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Output file names.
const (
	ObjectivesFile   = "Objectives.dat"
	GradientFile     = "of_grad.dat"
	GeoFunctionsFile = "of_func.csv"
	GeoGradientsFile = "of_grad.csv"
)

// ErrNoColumn is returned when a requested column is absent.
var ErrNoColumn = errors.New("column not found")

// Table is a header row followed by numeric rows.
type Table struct {
	Path    string
	Columns []string
	Rows    [][]float64
}

// Column returns the index of the column called name. Matching ignores
// case, and a name also matches a header it starts as a word of, so DRAG
// selects "DRAG COEFFICIENT".
func (t *Table) Column(name string) (int, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for i, c := range t.Columns {
		if strings.ToUpper(c) == want {
			return i, nil
		}
	}
	for i, c := range t.Columns {
		upper := strings.ToUpper(c)
		if strings.HasPrefix(upper, want+" ") || strings.HasPrefix(upper, want+"_") {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s: %q: %w", t.Path, name, ErrNoColumn)
}

// Values returns column name of every row.
func (t *Table) Values(name string) ([]float64, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		if col >= len(row) {
			return nil, fmt.Errorf("%s: row %d has no column %q", t.Path, i, name)
		}
		out[i] = row[col]
	}
	return out, nil
}

// ReadTable parses a delimited file whose first record is a header.
// Quotes and surrounding whitespace are stripped from every field.
func ReadTable(path string, sep rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	t := &Table{Path: path}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		fields := cleanFields(rec)
		if len(fields) == 0 {
			continue
		}
		if t.Columns == nil {
			t.Columns = fields
			continue
		}
		row := make([]float64, len(fields))
		for i, field := range fields {
			if row[i], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, fmt.Errorf("failed to parse %s: column %d: %w", path, i, err)
			}
		}
		t.Rows = append(t.Rows, row)
	}

	if t.Columns == nil {
		return nil, fmt.Errorf("%s: empty file", path)
	}
	return t, nil
}

func cleanFields(rec []string) []string {
	out := make([]string, 0, len(rec))
	for _, f := range rec {
		f = strings.Trim(strings.TrimSpace(f), `"`)
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Objective reads the column name from the primal Objectives.dat in dir.
func Objective(dir, name string) (float64, error) {
	t, err := ReadTable(filepath.Join(dir, ObjectivesFile), '\t')
	if err != nil {
		return 0, err
	}
	if len(t.Rows) == 0 {
		return 0, fmt.Errorf("%s: no values", t.Path)
	}
	vals, err := t.Values(name)
	if err != nil {
		return 0, err
	}
	return vals[len(vals)-1], nil
}

// Gradient reads the adjoint objective gradient from of_grad.dat in dir.
// Each data line is "index, gradient[, step]"; a single column is taken
// as the gradient itself. Lines not starting with a number are headers.
func Gradient(dir string) ([]float64, error) {
	path := filepath.Join(dir, GradientFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var grad []float64
	for n, line := range strings.Split(string(data), "\n") {
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) == 0 {
			continue
		}
		if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
			continue
		}
		field := fields[0]
		if len(fields) > 1 {
			field = fields[1]
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s line %d: %w", path, n+1, err)
		}
		grad = append(grad, v)
	}
	return grad, nil
}

// GeoFunctions reads the constraint values written by the geometry tool.
func GeoFunctions(dir string) (*Table, error) {
	t, err := ReadTable(filepath.Join(dir, GeoFunctionsFile), ',')
	if err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("%s: no values", t.Path)
	}
	return t, nil
}

// GeoGradients reads the constraint jacobian written by the geometry
// tool: one row per design variable, one column per function. A leading
// design-variable index column is dropped.
func GeoGradients(dir string) (*Table, error) {
	t, err := ReadTable(filepath.Join(dir, GeoGradientsFile), ',')
	if err != nil {
		return nil, err
	}
	if len(t.Columns) > 0 && strings.HasPrefix(strings.ToUpper(t.Columns[0]), "DESIGN_VARIABLE") {
		t.Columns = t.Columns[1:]
		for i, row := range t.Rows {
			if len(row) > 0 {
				t.Rows[i] = row[1:]
			}
		}
	}
	return t, nil
}
