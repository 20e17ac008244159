package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Root config keys.
const (
	KeyFolder          = "FOLDER"
	KeyConfigPrimal    = "CONFIG_PRIMAL"
	KeyConfigAdjoint   = "CONFIG_ADJOINT"
	KeyConfigDeform    = "CONFIG_DEF"
	KeyConfigGeo       = "CONFIG_GEO"
	KeyFFDDegree       = "FFD_DEGREE"
	KeyFFDConstraint   = "FFD_CONSTRAINT"
	KeyObjective       = "OBJECTIVE_FUNCTION"
	KeyObjectiveScale  = "OBJECTIVE_SCALE"
	KeySense           = "OPT_SENSE"
	KeyConstraints     = "OPT_CONSTRAINT"
	KeyDesignTolerance = "DESIGN_TOLERANCE"
	KeySplineMatrix    = "SPLINE_MATRIX"
)

// Solver config keys read by the orchestrator.
const (
	KeyMeshFilename    = "MESH_FILENAME"
	KeyMeshOutFilename = "MESH_OUT_FILENAME"
	KeyDVValue         = "DV_VALUE"
)

// DefaultDesignTolerance is the distance below which two design vectors
// are the same design. It sits at machine-precision scale so that only a
// re-submission of the same vector is deduplicated.
const DefaultDesignTolerance = 1e-20

// FFDConstraint selects which control points are pinned.
type FFDConstraint string

const (
	FFDConstraintNone FFDConstraint = "NONE"
	FFDConstraintRoot FFDConstraint = "ROOT"
)

// Root is the validated root optimization config together with the four
// solver configs it references.
type Root struct {
	// Path is the root config file.
	Path string

	// Folder is the optimization root. Solver configs, meshes and the
	// DESIGNS tree live under it.
	Folder string `validate:"required"`

	ConfigPrimal  string `validate:"required"`
	ConfigAdjoint string `validate:"required"`
	ConfigDeform  string `validate:"required"`
	ConfigGeo     string `validate:"required"`

	FFDDegree     Degree
	FFDConstraint FFDConstraint `validate:"oneof=NONE ROOT"`

	Objective   Objective
	Constraints []Constraint `validate:"dive"`

	DesignTolerance float64 `validate:"gte=0"`

	// SplineMatrix is the optional interpolation matrix linked into the
	// primal and adjoint stages.
	SplineMatrix string

	// Mesh names declared by the deformation config.
	MeshFilename    string `validate:"required"`
	MeshOutFilename string `validate:"required"`

	Primal  *File `validate:"required"`
	Adjoint *File `validate:"required"`
	Deform  *File `validate:"required"`
	Geo     *File `validate:"required"`
}

var validate = validator.New()

// LoadRoot reads the root config at path and every solver config it names.
// A relative FOLDER is resolved against the directory of the root config.
func LoadRoot(path string) (*Root, error) {
	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRoot(file)
}

// NewRoot builds a Root from an already parsed root config file.
func NewRoot(file *File) (*Root, error) {
	r := &Root{Path: file.Path}
	var err error

	required := []struct {
		key string
		dst *string
	}{
		{KeyFolder, &r.Folder},
		{KeyConfigPrimal, &r.ConfigPrimal},
		{KeyConfigAdjoint, &r.ConfigAdjoint},
		{KeyConfigDeform, &r.ConfigDeform},
		{KeyConfigGeo, &r.ConfigGeo},
	}
	for _, req := range required {
		if *req.dst, err = file.Require(req.key); err != nil {
			return nil, err
		}
	}
	if !filepath.IsAbs(r.Folder) {
		r.Folder = filepath.Join(filepath.Dir(file.Path), r.Folder)
	}

	r.FFDConstraint = FFDConstraint(strings.ToUpper(file.GetDefault(KeyFFDConstraint, string(FFDConstraintNone))))
	r.SplineMatrix = file.GetDefault(KeySplineMatrix, "")

	if r.DesignTolerance, err = file.Float(KeyDesignTolerance, DefaultDesignTolerance); err != nil {
		return nil, err
	}

	r.Objective.Name = file.GetDefault(KeyObjective, "DRAG")
	r.Objective.Sense = Sense(strings.ToUpper(file.GetDefault(KeySense, string(SenseMinimize))))
	if r.Objective.Scale, err = file.Float(KeyObjectiveScale, 1); err != nil {
		return nil, err
	}

	if r.Constraints, err = ParseConstraints(file.GetDefault(KeyConstraints, "NONE")); err != nil {
		return nil, &InvalidValueError{File: file.Path, Key: KeyConstraints, Value: file.GetDefault(KeyConstraints, ""), Err: err}
	}

	if err := r.loadSolverConfigs(); err != nil {
		return nil, err
	}

	degree, ok := file.Get(KeyFFDDegree)
	if !ok {
		degree, ok = r.Deform.Get(KeyFFDDegree)
	}
	if ok {
		if r.FFDDegree, err = ParseDegree(degree); err != nil {
			return nil, &InvalidValueError{File: file.Path, Key: KeyFFDDegree, Value: degree, Err: err}
		}
	} else if r.FFDConstraint == FFDConstraintRoot {
		return nil, &MissingKeyError{File: file.Path, Key: KeyFFDDegree}
	}

	if err := validate.Struct(r); err != nil {
		return nil, fmt.Errorf("root config %s validation failed: %w", file.Path, err)
	}

	return r, nil
}

func (r *Root) loadSolverConfigs() error {
	var err error
	if r.Primal, err = LoadFile(r.Resolve(r.ConfigPrimal)); err != nil {
		return err
	}
	if r.Adjoint, err = LoadFile(r.Resolve(r.ConfigAdjoint)); err != nil {
		return err
	}
	if r.Deform, err = LoadFile(r.Resolve(r.ConfigDeform)); err != nil {
		return err
	}
	if r.Geo, err = LoadFile(r.Resolve(r.ConfigGeo)); err != nil {
		return err
	}

	if r.MeshFilename, err = r.Deform.Require(KeyMeshFilename); err != nil {
		return err
	}
	if r.MeshOutFilename, err = r.Deform.Require(KeyMeshOutFilename); err != nil {
		return err
	}
	return nil
}

// Resolve returns name relative to the optimization folder unless it is
// already absolute.
func (r *Root) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(r.Folder, name)
}

// DesignsDir is the directory holding one subdirectory per design.
func (r *Root) DesignsDir() string {
	return filepath.Join(r.Folder, "DESIGNS")
}

// ConstraintsOf returns the constraints of the given kind in config order.
func (r *Root) ConstraintsOf(kind ConstraintKind) []Constraint {
	var out []Constraint
	for _, c := range r.Constraints {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}
