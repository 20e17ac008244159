package design

import (
	"fmt"
	"path/filepath"
)

// History is the append-only list of designs of one run.
// It is not safe for concurrent use.
type History struct {
	designsDir string
	tolerance  float64
	records    []*Record
}

// NewHistory creates an empty history whose design directories live
// under designsDir.
func NewHistory(designsDir string, tolerance float64) *History {
	return &History{
		designsDir: designsDir,
		tolerance:  tolerance,
	}
}

// Tolerance returns the dedup tolerance.
func (h *History) Tolerance() float64 {
	return h.tolerance
}

// Len returns the number of designs.
func (h *History) Len() int {
	return len(h.records)
}

// Current returns the last appended design, or nil when empty.
func (h *History) Current() *Record {
	if len(h.records) == 0 {
		return nil
	}
	return h.records[len(h.records)-1]
}

// Get returns the design with the given index.
func (h *History) Get(index int) (*Record, bool) {
	if index < 0 || index >= len(h.records) {
		return nil, false
	}
	return h.records[index], true
}

// Records returns the designs in index order.
func (h *History) Records() []*Record {
	out := make([]*Record, len(h.records))
	copy(out, h.records)
	return out
}

// ShouldStartNew reports whether x is a new design: always true on an
// empty history, otherwise true iff x is farther than the tolerance from
// the current design.
func (h *History) ShouldStartNew(x Vector) bool {
	cur := h.Current()
	if cur == nil {
		return true
	}
	return x.Distance(cur.X) > h.tolerance
}

// Append records x as the new current design.
func (h *History) Append(x Vector) *Record {
	index := len(h.records)
	prev := x.Clone()
	if cur := h.Current(); cur != nil {
		prev = cur.X.Clone()
	}
	rec := &Record{
		Index:    index,
		X:        x.Clone(),
		Previous: prev,
		Dir:      filepath.Join(h.designsDir, DirName(index)),
	}
	h.records = append(h.records, rec)
	return rec
}

// Discard drops rec when it is the current design. It undoes an Append
// whose design directory could not be created.
func (h *History) Discard(rec *Record) error {
	cur := h.Current()
	if cur == nil || cur != rec {
		return fmt.Errorf("design %d is not the current design", rec.Index)
	}
	h.records = h.records[:len(h.records)-1]
	return nil
}

// Restore appends a previously persisted record. Indices must continue
// the sequence without gaps.
func (h *History) Restore(rec *Record) error {
	if rec.Index != len(h.records) {
		return fmt.Errorf("design index %d out of sequence, expected %d", rec.Index, len(h.records))
	}
	restored := *rec
	restored.X = rec.X.Clone()
	restored.Previous = rec.Previous.Clone()
	if restored.Dir == "" {
		restored.Dir = filepath.Join(h.designsDir, DirName(rec.Index))
	}
	h.records = append(h.records, &restored)
	return nil
}
