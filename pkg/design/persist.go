package design

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// VectorFile holds the raw design vector, written once at creation.
	VectorFile = "design.dat"
	// RecordFile holds the record and its completion flags.
	RecordFile = "record.yaml"
)

// ErrVectorExists is returned when design.dat is already present.
var ErrVectorExists = errors.New("design vector file already exists")

// WriteVector writes x to dir/design.dat, one value per line. The file is
// never overwritten.
func WriteVector(dir string, x Vector) error {
	path := filepath.Join(dir, VectorFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrVectorExists)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	for _, v := range x {
		w.WriteString(strconv.FormatFloat(v, 'g', 17, 64))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ReadVector reads dir/design.dat.
func ReadVector(dir string) (Vector, error) {
	path := filepath.Join(dir, VectorFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var x Vector
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		x = append(x, v)
	}
	return x, nil
}

// SaveRecord writes rec to rec.Dir/record.yaml, replacing any previous copy.
func SaveRecord(rec *Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode design %d: %w", rec.Index, err)
	}
	path := filepath.Join(rec.Dir, RecordFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// LoadRecord reads dir/record.yaml.
func LoadRecord(dir string) (*Record, error) {
	path := filepath.Join(dir, RecordFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &rec, nil
}
