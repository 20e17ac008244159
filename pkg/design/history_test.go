package design

import (
	"math"
	"path/filepath"
	"testing"
)

func TestHistory_Bootstrap(t *testing.T) {
	h := NewHistory("/case/DESIGNS", 1e-20)

	x := Vector{0, 0, 0}
	if !h.ShouldStartNew(x) {
		t.Fatal("Expected empty history to start a new design")
	}

	rec := h.Append(x)
	if rec.Index != 0 {
		t.Errorf("Expected index 0, got %d", rec.Index)
	}
	if rec.Dir != filepath.Join("/case/DESIGNS", "DSN_000") {
		t.Errorf("Unexpected dir %s", rec.Dir)
	}
	if rec.Previous.Distance(x) != 0 {
		t.Errorf("Expected record 0 to be its own previous design, got %v", rec.Previous)
	}

	if h.ShouldStartNew(Vector{0, 0, 0}) {
		t.Error("Expected identical vector to reuse the current design")
	}
}

func TestHistory_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		tolerance float64
		next      Vector
		want      bool
	}{
		{name: "identical", tolerance: 1e-20, next: Vector{1, 0, 0}, want: false},
		{name: "below tolerance", tolerance: 1e-20, next: Vector{1, 0, 1e-25}, want: false},
		{name: "above tolerance", tolerance: 1e-20, next: Vector{1, 0, 1e-10}, want: true},
		{name: "loose tolerance", tolerance: 1e-3, next: Vector{1, 0, 1e-4}, want: false},
		{name: "length mismatch", tolerance: 1e-20, next: Vector{1, 0}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory("D", tt.tolerance)
			h.Append(Vector{1, 0, 0})
			if got := h.ShouldStartNew(tt.next); got != tt.want {
				t.Errorf("ShouldStartNew(%v) = %v, want %v", tt.next, got, tt.want)
			}
		})
	}
}

func TestHistory_AppendSequence(t *testing.T) {
	h := NewHistory("D", 1e-20)
	a := Vector{0, 0}
	b := Vector{1, 0}
	h.Append(a)
	rec := h.Append(b)

	if rec.Index != 1 {
		t.Fatalf("Expected index 1, got %d", rec.Index)
	}
	if h.Current() != rec {
		t.Error("Expected last appended record to be current")
	}
	if rec.Previous.Distance(a) != 0 {
		t.Errorf("Expected previous %v, got %v", a, rec.Previous)
	}

	// mutating the caller's slice must not affect the history
	b[0] = 42
	if rec.X[0] != 1 {
		t.Errorf("Expected recorded vector to be immutable, got %v", rec.X)
	}
	if len(h.Records()) != 2 {
		t.Errorf("Expected 2 records, got %d", len(h.Records()))
	}
}

func TestHistory_Discard(t *testing.T) {
	h := NewHistory("/case/DESIGNS", 1e-20)
	first := h.Append(Vector{0, 0})
	second := h.Append(Vector{1, 0})

	if err := h.Discard(first); err == nil {
		t.Error("Expected an error discarding a design that is not current")
	}
	if err := h.Discard(second); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if h.Len() != 1 || h.Current() != first {
		t.Fatalf("Expected design 0 to be current again, got %d designs", h.Len())
	}
	if !h.ShouldStartNew(Vector{1, 0}) {
		t.Error("Expected the discarded vector to start a new design")
	}
	if again := h.Append(Vector{1, 0}); again.Index != 1 {
		t.Errorf("Expected the index to be reused, got %d", again.Index)
	}
}

func TestHistory_Restore(t *testing.T) {
	h := NewHistory("D", 1e-20)
	if err := h.Restore(&Record{Index: 0, X: Vector{1}, Deformed: true}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if err := h.Restore(&Record{Index: 2, X: Vector{2}}); err == nil {
		t.Error("Expected gap in indices to fail")
	}
	rec, ok := h.Get(0)
	if !ok || !rec.Deformed || rec.Dir != filepath.Join("D", "DSN_000") {
		t.Errorf("Unexpected restored record %+v", rec)
	}
}

func TestVector(t *testing.T) {
	v := Vector{3, 4}
	if d := v.Distance(Vector{0, 0}); d != 5 {
		t.Errorf("Expected distance 5, got %v", d)
	}
	if d := v.Distance(Vector{0}); !math.IsInf(d, 1) {
		t.Errorf("Expected infinite distance, got %v", d)
	}
	if s := (Vector{0.1, -2, 1e-7}).Format(); s != "0.1, -2, 1e-07" {
		t.Errorf("Unexpected format %q", s)
	}

	parsed, err := ParseVector(" 0.1, -2 ,1e-7")
	if err != nil {
		t.Fatalf("ParseVector failed: %v", err)
	}
	if parsed.Distance(Vector{0.1, -2, 1e-7}) != 0 {
		t.Errorf("Unexpected parsed vector %v", parsed)
	}
	if _, err := ParseVector("1,x"); err == nil {
		t.Error("Expected parse error")
	}
}

func TestRecord_Flags(t *testing.T) {
	rec := &Record{}
	for _, stage := range Stages {
		if rec.Complete(stage) {
			t.Errorf("Expected %s incomplete", stage)
		}
		rec.Mark(stage)
		if !rec.Complete(stage) {
			t.Errorf("Expected %s complete", stage)
		}
	}

	other := &Record{}
	other.Merge(rec)
	if !other.Deformed || !other.PrimalComplete || !other.AdjointComplete || !other.GeoComplete {
		t.Errorf("Expected merge to set all flags, got %+v", other)
	}
	other.Merge(&Record{})
	if !other.GeoComplete {
		t.Error("Expected merge never to clear flags")
	}
}

func TestParseDirName(t *testing.T) {
	tests := []struct {
		name  string
		index int
		ok    bool
	}{
		{"DSN_000", 0, true},
		{"DSN_042", 42, true},
		{"DSN_1234", 1234, true},
		{"DSN_01", 0, false},
		{"DSN_0a1", 0, false},
		{"DESIGNS", 0, false},
		{"dsn_001", 0, false},
	}
	for _, tt := range tests {
		index, ok := ParseDirName(tt.name)
		if ok != tt.ok || index != tt.index {
			t.Errorf("ParseDirName(%q) = %d, %v; want %d, %v", tt.name, index, ok, tt.index, tt.ok)
		}
	}
	for i := 0; i < 3; i++ {
		if got, ok := ParseDirName(DirName(i)); !ok || got != i {
			t.Errorf("ParseDirName(DirName(%d)) = %d, %v", i, got, ok)
		}
	}
}

func TestParseStage(t *testing.T) {
	for _, s := range Stages {
		got, ok := ParseStage(string(s))
		if !ok || got != s {
			t.Errorf("ParseStage(%q) = %q, %v", s, got, ok)
		}
	}
	if _, ok := ParseStage("primal"); ok {
		t.Error("stage names are case sensitive")
	}
}
