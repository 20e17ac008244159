package design

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Stage names a solver stage and its subdirectory inside a design.
type Stage string

const (
	StageDeform  Stage = "DEFORM"
	StagePrimal  Stage = "Primal"
	StageAdjoint Stage = "Adjoint"
	StageGeo     Stage = "GEO"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageDeform, StagePrimal, StageAdjoint, StageGeo}

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}

// DirName returns the directory name of the design with the given index.
func DirName(index int) string {
	return fmt.Sprintf("DSN_%03d", index)
}

// ParseDirName returns the index of a design directory name, and false if
// name is not one.
func ParseDirName(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, "DSN_")
	if !ok || len(digits) < 3 {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return index, true
}

// ParseStage returns the stage whose directory is called name.
func ParseStage(name string) (Stage, bool) {
	for _, s := range Stages {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// Record is one design of the run. Completion flags only ever flip from
// false to true.
type Record struct {
	Index    int    `yaml:"index" json:"index"`
	X        Vector `yaml:"x" json:"x"`
	Previous Vector `yaml:"previous" json:"previous"`
	Dir      string `yaml:"dir" json:"dir"`

	Deformed        bool `yaml:"deformed" json:"deformed"`
	PrimalComplete  bool `yaml:"primal_complete" json:"primal_complete"`
	AdjointComplete bool `yaml:"adjoint_complete" json:"adjoint_complete"`
	GeoComplete     bool `yaml:"geo_complete" json:"geo_complete"`
}

// StageDir returns the staging directory of stage within this design.
func (r *Record) StageDir(stage Stage) string {
	return filepath.Join(r.Dir, string(stage))
}

// MarkDeformed records a successful mesh deformation.
func (r *Record) MarkDeformed() { r.Deformed = true }

// MarkPrimalComplete records a successful primal run.
func (r *Record) MarkPrimalComplete() { r.PrimalComplete = true }

// MarkAdjointComplete records a successful adjoint run.
func (r *Record) MarkAdjointComplete() { r.AdjointComplete = true }

// MarkGeoComplete records a successful geometry run.
func (r *Record) MarkGeoComplete() { r.GeoComplete = true }

// Mark sets the completion flag of stage.
func (r *Record) Mark(stage Stage) {
	switch stage {
	case StageDeform:
		r.MarkDeformed()
	case StagePrimal:
		r.MarkPrimalComplete()
	case StageAdjoint:
		r.MarkAdjointComplete()
	case StageGeo:
		r.MarkGeoComplete()
	}
}

// Complete reports whether stage has run for this design.
func (r *Record) Complete(stage Stage) bool {
	switch stage {
	case StageDeform:
		return r.Deformed
	case StagePrimal:
		return r.PrimalComplete
	case StageAdjoint:
		return r.AdjointComplete
	case StageGeo:
		return r.GeoComplete
	}
	return false
}

// Merge folds the flags of o into r without clearing any.
func (r *Record) Merge(o *Record) {
	r.Deformed = r.Deformed || o.Deformed
	r.PrimalComplete = r.PrimalComplete || o.PrimalComplete
	r.AdjointComplete = r.AdjointComplete || o.AdjointComplete
	r.GeoComplete = r.GeoComplete || o.GeoComplete
}
