package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// CommentPrefix starts a comment line in a key=value config file.
const CommentPrefix = "%"

// MissingKeyError reports a required key absent from a config file.
type MissingKeyError struct {
	File string
	Key  string
}

// Error implements the error interface.
func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("config %s: missing required key %s", e.File, e.Key)
}

// InvalidValueError reports a key whose value cannot be parsed.
type InvalidValueError struct {
	File  string
	Key   string
	Value string
	Err   error
}

// Error implements the error interface.
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("config %s: invalid value %q for key %s: %v", e.File, e.Value, e.Key, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *InvalidValueError) Unwrap() error {
	return e.Err
}

// IsMissingKey reports whether err is (or wraps) a MissingKeyError.
func IsMissingKey(err error) bool {
	var mk *MissingKeyError
	return errors.As(err, &mk)
}

// File is a parsed key=value config file.
type File struct {
	Path   string
	values map[string]string
	keys   []string
}

// LoadFile reads and parses a key=value config file.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	cfg := &File{
		Path:   path,
		values: make(map[string]string),
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if _, seen := cfg.values[key]; !seen {
			cfg.keys = append(cfg.keys, key)
		}
		// later assignments win
		cfg.values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return cfg, nil
}

// NewFile builds an in-memory config.
func NewFile(path string, values map[string]string) *File {
	cfg := &File{
		Path:   path,
		values: make(map[string]string, len(values)),
	}
	for _, k := range sortedKeys(values) {
		cfg.keys = append(cfg.keys, k)
		cfg.values[k] = values[k]
	}
	return cfg
}

// parseLine splits a config line on its first '='.
// Comment lines and lines without '=' are skipped.
func parseLine(line string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, CommentPrefix) {
		return "", "", false
	}
	key, value, found := strings.Cut(trimmed, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// Keys returns the keys in first-seen order.
func (f *File) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Get returns the value of key and whether it was set.
func (f *File) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// GetDefault returns the value of key, or def when it is unset or empty.
func (f *File) GetDefault(key, def string) string {
	if v, ok := f.values[key]; ok && v != "" {
		return v
	}
	return def
}

// Require returns the value of key or a MissingKeyError.
func (f *File) Require(key string) (string, error) {
	v, ok := f.values[key]
	if !ok || v == "" {
		return "", &MissingKeyError{File: f.Path, Key: key}
	}
	return v, nil
}

// Float parses key as a float64, returning def when the key is unset.
func (f *File) Float(key string, def float64) (float64, error) {
	v, ok := f.values[key]
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &InvalidValueError{File: f.Path, Key: key, Value: v, Err: err}
	}
	return parsed, nil
}

// Rewrite copies the config at src to dst, replacing the value of every
// key in overrides. Keys absent from src are appended in sorted order.
// Comments and line ordering are preserved. dst must not exist.
func Rewrite(src, dst string, overrides map[string]string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open config %s: %w", src, err)
	}
	defer in.Close()

	var b strings.Builder
	applied := make(map[string]bool, len(overrides))

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if key, _, ok := parseLine(line); ok {
			if v, override := overrides[key]; override {
				line = key + "= " + v
				applied[key] = true
			}
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", src, err)
	}

	for _, key := range sortedKeys(overrides) {
		if !applied[key] {
			b.WriteString(key + "= " + overrides[key] + "\n")
		}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config %s: %w", dst, err)
	}
	if _, err := out.WriteString(b.String()); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write config %s: %w", dst, err)
	}
	return out.Close()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
