package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fsiopt/fsiopt/pkg/config"
	"github.com/fsiopt/fsiopt/pkg/design"
	"github.com/fsiopt/fsiopt/pkg/gradient"
	"github.com/fsiopt/fsiopt/pkg/runner"
	"github.com/fsiopt/fsiopt/pkg/telemetry"
)

// Keys of the primal and adjoint FSI configs naming auxiliary inputs.
const (
	KeySU2Config     = "SU2_CONFIG"
	KeyPyBeamConfig  = "PYBEAM_CONFIG"
	KeyAugustoConfig = "AUGUSTO_CONFIG"
	KeyMLSConfig     = "MLS_CONFIG_FILE_NAME"

	KeyPyBeamMesh       = "MESH_FILE"
	KeyPyBeamProperties = "PROPERTY_FILE"
	KeyAugustoInput     = "INPUT_FILENAME"
	KeyAugustoSMDAO     = "SMDAO_FILENAME"
)

// primalHandoff maps primal outputs to the adjoint inputs they become.
var primalHandoff = []struct {
	from string
	to   string
}{
	{"restart.pyBeam", "solution.pyBeam"},
	{"restart_flow.dat", "solution_flow.dat"},
	{"flow.meta", "flow.meta"},
}

// StateManager persists design records and stage runs.
type StateManager interface {
	SaveDesign(ctx context.Context, rec *design.Record) error
	ListDesigns(ctx context.Context) ([]*design.Record, error)
	RecordStageRun(ctx context.Context, run *design.StageRun) error
}

// Options configures a Workflow. Zero values select defaults.
type Options struct {
	// Runner starts solvers. Defaults to runner.NewExecRunner().
	Runner runner.Runner

	// Solvers maps stages to commands. Defaults to config.DefaultSettings().Solvers.
	Solvers *config.SolverSettings

	// Store, when set, receives every design and stage run.
	Store StateManager

	// Telemetry defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry

	// Resume reloads designs from the store, or from record.yaml files
	// when there is no store, instead of requiring an empty DESIGNS tree.
	Resume bool
}

// Workflow is the design-point cache and stage orchestrator of one
// optimization run. It is not safe for concurrent use: queries must be
// issued one at a time.
type Workflow struct {
	root    *config.Root
	runner  runner.Runner
	solvers *config.SolverSettings
	store   StateManager
	tel     *telemetry.Telemetry
	log     *telemetry.Logger

	graph   *StageGraph
	history *design.History
	fixed   gradient.FixedSet

	memo *memo
}

// New builds the workflow for root. The fixed-variable set and the
// design history are computed here and only read or appended later.
func New(ctx context.Context, root *config.Root, opts Options) (*Workflow, error) {
	if opts.Runner == nil {
		opts.Runner = runner.NewExecRunner()
	}
	if opts.Solvers == nil {
		opts.Solvers = &config.DefaultSettings().Solvers
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}

	graph, err := BuildStageGraph(DefaultStageSpecs())
	if err != nil {
		return nil, err
	}

	w := &Workflow{
		root:    root,
		runner:  opts.Runner,
		solvers: opts.Solvers,
		store:   opts.Store,
		tel:     opts.Telemetry,
		log:     opts.Telemetry.Logger.NewComponentLogger("engine"),
		graph:   graph,
		history: design.NewHistory(root.DesignsDir(), root.DesignTolerance),
		fixed:   gradient.ForRoot(root),
	}

	for _, stage := range design.Stages {
		if _, err := w.solvers.Command(string(stage)); err != nil {
			return nil, NewConfigurationError("no solver configured", err).
				WithCode(ErrCodeMissingKey).WithStage(stage)
		}
	}

	if opts.Resume {
		if err := w.restore(ctx); err != nil {
			return nil, err
		}
	} else if err := w.checkFresh(ctx); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root.DesignsDir(), 0755); err != nil {
		return nil, NewStagingError("failed to create designs directory", err).
			WithCode(ErrCodeStagingFailed)
	}

	w.log.WithFields(map[string]interface{}{
		"folder":    root.Folder,
		"tolerance": root.DesignTolerance,
		"fixed":     w.fixed.Indices(),
		"designs":   w.history.Len(),
	}).Info("Workflow initialized")

	return w, nil
}

// checkFresh refuses to start over designs left by an earlier run.
func (w *Workflow) checkFresh(ctx context.Context) error {
	first := filepath.Join(w.root.DesignsDir(), design.DirName(0))
	if _, err := os.Stat(first); err == nil {
		return NewConfigurationError(
			fmt.Sprintf("%s already exists, clean the designs or resume", first), nil,
		).WithCode(ErrCodeDirExists)
	}

	if w.store == nil {
		return nil
	}
	records, err := w.store.ListDesigns(ctx)
	if err != nil {
		return NewConfigurationError("failed to read state store", err).WithCode(ErrCodeInternal)
	}
	if len(records) > 0 {
		return NewConfigurationError(
			fmt.Sprintf("state store already holds %d designs, clean it or resume", len(records)), nil,
		).WithCode(ErrCodeStoreNotEmpty)
	}
	return nil
}

// restore rebuilds the history from the store or the DESIGNS tree.
// Flags recorded in either place are kept.
func (w *Workflow) restore(ctx context.Context) error {
	var records []*design.Record
	if w.store != nil {
		var err error
		if records, err = w.store.ListDesigns(ctx); err != nil {
			return NewConfigurationError("failed to read state store", err).WithCode(ErrCodeInternal)
		}
	} else {
		for i := 0; ; i++ {
			rec, err := design.LoadRecord(filepath.Join(w.root.DesignsDir(), design.DirName(i)))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				return NewConfigurationError("failed to load design record", err).
					WithCode(ErrCodeInvalidValue).WithDesign(i)
			}
			records = append(records, rec)
		}
	}

	for _, rec := range records {
		if onDisk, err := design.LoadRecord(rec.Dir); err == nil {
			rec.Merge(onDisk)
		}
		if err := w.history.Restore(rec); err != nil {
			return NewConfigurationError("failed to restore design history", err).
				WithCode(ErrCodeInvalidValue).WithDesign(rec.Index)
		}
	}
	return nil
}

// Root returns the root config.
func (w *Workflow) Root() *config.Root {
	return w.root
}

// Graph returns the stage dependency graph.
func (w *Workflow) Graph() *StageGraph {
	return w.graph
}

// FixedSet returns the design variables whose sensitivities are zeroed.
func (w *Workflow) FixedSet() gradient.FixedSet {
	return w.fixed
}

// Designs returns every design of the run in index order.
func (w *Workflow) Designs() []*design.Record {
	return w.history.Records()
}

// Current returns the current design, or nil before the first query.
func (w *Workflow) Current() *design.Record {
	return w.history.Current()
}

// ensureDesign returns the record for x, starting a new design when x is
// farther than the tolerance from the current one.
func (w *Workflow) ensureDesign(ctx context.Context, x design.Vector, query Query) (*design.Record, error) {
	cur := w.history.Current()
	if cur != nil && len(x) != len(cur.X) {
		return nil, NewConfigurationError(
			fmt.Sprintf("design vector has %d variables, expected %d", len(x), len(cur.X)), nil,
		).WithCode(ErrCodeDimensionMismatch).WithDesign(cur.Index)
	}

	if !w.history.ShouldStartNew(x) {
		_ = w.tel.Events.PublishDesignReused(cur.Index, string(query))
		// A design whose deformation failed is retried here, so the
		// failure surfaces again instead of the original mesh being used.
		if w.needsDeform(cur) && !cur.Deformed {
			if err := w.runStage(ctx, cur, design.StageDeform); err != nil {
				return nil, err
			}
		}
		return cur, nil
	}

	if err := w.fixed.Check(len(x)); err != nil {
		return nil, NewConfigurationError("fixed variables do not fit the design vector", err).
			WithCode(ErrCodeDimensionMismatch)
	}

	rec := w.history.Append(x)
	w.memo = nil
	logger := w.log.WithDesign(rec.Index)

	if _, err := runner.NewStageDir(rec.Dir); err != nil {
		w.discard(rec)
		return nil, stagingError(err).WithDesign(rec.Index)
	}
	if err := design.WriteVector(rec.Dir, rec.X); err != nil {
		// The directory was created exclusively above and holds nothing else.
		if rmErr := os.RemoveAll(rec.Dir); rmErr != nil {
			logger.WithError(rmErr).Warn("Failed to remove design directory")
		}
		w.discard(rec)
		return nil, stagingError(err).WithDesign(rec.Index)
	}
	if err := w.persist(ctx, rec); err != nil {
		return nil, err
	}

	w.tel.Metrics.RecordDesignCreated(rec.Index)
	_ = w.tel.Events.PublishDesignCreated(rec.Index, rec.Dir)
	logger.WithField("x", rec.X.Format()).Info("Started new design")

	if w.needsDeform(rec) {
		if err := w.runStage(ctx, rec, design.StageDeform); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// discard forgets a design whose directory could not be set up, so the
// same vector starts it again on the next query.
func (w *Workflow) discard(rec *design.Record) {
	if err := w.history.Discard(rec); err != nil {
		w.log.WithDesign(rec.Index).WithError(err).Warn("Failed to discard design")
	}
}

// needsDeform reports whether rec runs on a deformed mesh. The bootstrap
// design uses the original mesh.
func (w *Workflow) needsDeform(rec *design.Record) bool {
	return rec.Index > 0
}

// persist writes rec to record.yaml and the state store.
func (w *Workflow) persist(ctx context.Context, rec *design.Record) error {
	if err := design.SaveRecord(rec); err != nil {
		return stagingError(err).WithDesign(rec.Index)
	}
	if w.store != nil {
		if err := w.store.SaveDesign(ctx, rec); err != nil {
			return NewStagingError("failed to persist design", err).
				WithCode(ErrCodeStagingFailed).WithDesign(rec.Index)
		}
	}
	return nil
}

// runStage runs stage for rec unless it already ran. Stages it requires
// must be complete; they are never started implicitly.
func (w *Workflow) runStage(ctx context.Context, rec *design.Record, stage design.Stage) error {
	if rec.Complete(stage) {
		return nil
	}

	for _, req := range w.graph.Requires(stage) {
		if rec.Complete(req) {
			continue
		}
		code := ErrCodeStageOrder
		if req == design.StagePrimal {
			code = ErrCodePrimalNotAvailable
		}
		return NewSequencingError(fmt.Sprintf("%s requested before %s completed", stage, req), nil).
			WithCode(code).WithStage(stage).WithDesign(rec.Index)
	}

	for _, dep := range w.graph.Consumes(stage) {
		if dep != design.StageDeform || !w.needsDeform(rec) || rec.Deformed {
			continue
		}
		return NewStagingError(fmt.Sprintf("%s needs the deformed mesh of %s", stage, design.DirName(rec.Index)), nil).
			WithCode(ErrCodeDesignIncomplete).WithStage(stage).WithDesign(rec.Index)
	}

	cmd, err := w.solvers.Command(string(stage))
	if err != nil {
		return NewConfigurationError("no solver configured", err).
			WithCode(ErrCodeMissingKey).WithStage(stage).WithDesign(rec.Index)
	}

	ic := w.tel.StartStage(ctx, rec.Index, string(stage))
	run := &design.StageRun{
		ID:        uuid.New().String(),
		Design:    rec.Index,
		Stage:     stage,
		Status:    design.StageRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := w.recordStageRun(ic.Ctx, run); err != nil {
		w.tel.EndStage(ic, rec.Index, string(stage), err)
		return err
	}

	ic.Logger.Info("Running stage")
	err = w.stage(ic.Ctx, rec, stage, cmd)
	if err != nil {
		err = classify(err).WithStage(stage).WithDesign(rec.Index)
		ic.Logger.WithError(err).Error("Stage failed")
	} else {
		rec.Mark(stage)
		err = w.persist(ic.Ctx, rec)
	}

	run.Finish(err)
	if recErr := w.recordStageRun(ic.Ctx, run); recErr != nil && err == nil {
		err = recErr
	}
	w.tel.EndStage(ic, rec.Index, string(stage), err)
	if err != nil {
		var e *EngineError
		if errors.As(err, &e) {
			w.tel.Metrics.RecordError(string(e.Class), e.Code)
		}
		return err
	}

	ic.Logger.Infof("Stage completed in %s", ic.Timer.Duration())
	return nil
}

func (w *Workflow) recordStageRun(ctx context.Context, run *design.StageRun) error {
	if w.store == nil {
		return nil
	}
	if err := w.store.RecordStageRun(ctx, run); err != nil {
		return NewStagingError("failed to persist stage run", err).
			WithCode(ErrCodeStagingFailed).WithStage(run.Stage).WithDesign(run.Design)
	}
	return nil
}

// stage stages the inputs of one stage in a fresh directory and runs its
// solver there.
func (w *Workflow) stage(ctx context.Context, rec *design.Record, stage design.Stage, cmd config.SolverCommand) error {
	sd, err := runner.NewStageDir(rec.StageDir(stage))
	if err != nil {
		return err
	}

	var configName string
	switch stage {
	case design.StageDeform:
		configName, err = w.stageDeform(rec, sd)
	case design.StagePrimal:
		configName, err = w.stagePrimal(rec, sd)
	case design.StageAdjoint:
		configName, err = w.stageAdjoint(rec, sd)
	case design.StageGeo:
		configName, err = w.stageGeo(rec, sd)
	default:
		err = NewConfigurationError(fmt.Sprintf("unknown stage %s", stage), nil).WithCode(ErrCodeInvalidValue)
	}
	if err != nil {
		return err
	}

	return w.invoke(ctx, stage, sd, cmd, configName)
}

// stageDeform stages the deformation config with the design variables
// and the original mesh.
func (w *Workflow) stageDeform(rec *design.Record, sd *runner.StageDir) (string, error) {
	name, err := sd.RewriteConfig(w.root.Resolve(w.root.ConfigDeform), map[string]string{
		config.KeyDVValue: rec.X.Format(),
	})
	if err != nil {
		return "", err
	}
	if err := sd.Link(w.root.Resolve(w.root.MeshFilename), w.root.MeshFilename); err != nil {
		return "", err
	}
	return name, nil
}

func (w *Workflow) stagePrimal(rec *design.Record, sd *runner.StageDir) (string, error) {
	return w.stageFSI(rec, sd, w.root.ConfigPrimal, w.root.Primal)
}

// stageAdjoint stages like the primal and adds the primal restart files
// under the names the adjoint solver reads.
func (w *Workflow) stageAdjoint(rec *design.Record, sd *runner.StageDir) (string, error) {
	name, err := w.stageFSI(rec, sd, w.root.ConfigAdjoint, w.root.Adjoint)
	if err != nil {
		return "", err
	}
	primalDir := rec.StageDir(design.StagePrimal)
	for _, h := range primalHandoff {
		if err := sd.CopyAs(filepath.Join(primalDir, h.from), h.to); err != nil {
			return "", err
		}
	}
	return name, nil
}

// stageGeo stages the geometry config pointed at the current mesh.
func (w *Workflow) stageGeo(rec *design.Record, sd *runner.StageDir) (string, error) {
	mesh, err := w.linkMesh(rec, sd)
	if err != nil {
		return "", err
	}
	return sd.RewriteConfig(w.root.Resolve(w.root.ConfigGeo), map[string]string{
		config.KeyMeshFilename: mesh,
		config.KeyDVValue:      rec.X.Format(),
	})
}

// stageFSI stages a coupled primal or adjoint run: the FSI config, the
// current mesh, the auxiliary solver files and the interpolation matrix.
func (w *Workflow) stageFSI(rec *design.Record, sd *runner.StageDir, configName string, fsi *config.File) (string, error) {
	src := w.root.Resolve(configName)
	if err := sd.Copy(src); err != nil {
		return "", err
	}
	mesh, err := w.linkMesh(rec, sd)
	if err != nil {
		return "", err
	}
	if err := w.pullAuxiliary(sd, fsi, mesh); err != nil {
		return "", err
	}
	if w.root.SplineMatrix != "" {
		if err := sd.Link(w.root.Resolve(w.root.SplineMatrix), filepath.Base(w.root.SplineMatrix)); err != nil {
			return "", err
		}
	}
	return filepath.Base(src), nil
}

// linkMesh links the mesh every stage after deformation must use and
// returns its name: the deformed mesh once the design is deformed, the
// original mesh before.
func (w *Workflow) linkMesh(rec *design.Record, sd *runner.StageDir) (string, error) {
	if !rec.Deformed {
		name := w.root.MeshFilename
		return name, sd.Link(w.root.Resolve(name), name)
	}
	name := w.root.MeshOutFilename
	return name, sd.Link(filepath.Join(rec.StageDir(design.StageDeform), name), name)
}

// pullAuxiliary copies the solver configs an FSI config refers to, and
// the files those configs refer to in turn. The flow config is rewritten
// to read mesh.
func (w *Workflow) pullAuxiliary(sd *runner.StageDir, fsi *config.File, mesh string) error {
	if name, ok := auxValue(fsi, KeySU2Config); ok {
		if _, err := sd.RewriteConfig(w.root.Resolve(name), map[string]string{
			config.KeyMeshFilename: mesh,
		}); err != nil {
			return err
		}
	}
	if name, ok := auxValue(fsi, KeyMLSConfig); ok {
		if err := sd.Copy(w.root.Resolve(name)); err != nil {
			return err
		}
	}

	nested := []struct {
		key   string
		files []string
	}{
		{KeyPyBeamConfig, []string{KeyPyBeamMesh, KeyPyBeamProperties}},
		{KeyAugustoConfig, []string{KeyAugustoInput, KeyAugustoSMDAO}},
	}
	for _, n := range nested {
		name, ok := auxValue(fsi, n.key)
		if !ok {
			continue
		}
		path := w.root.Resolve(name)
		if err := sd.Copy(path); err != nil {
			return err
		}
		sub, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		for _, key := range n.files {
			if file, ok := auxValue(sub, key); ok {
				if err := sd.Copy(w.root.Resolve(file)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func auxValue(f *config.File, key string) (string, bool) {
	v, ok := f.Get(key)
	if !ok || v == "" || strings.EqualFold(v, "NONE") {
		return "", false
	}
	return v, true
}

// invoke runs the stage solver in sd. The solver is never cancelled once
// started.
func (w *Workflow) invoke(ctx context.Context, stage design.Stage, sd *runner.StageDir, cmd config.SolverCommand, configName string) error {
	inv := runner.Invocation{
		Name:    strings.ToLower(string(stage)),
		Dir:     sd.Path(),
		Command: cmd.Command,
		Args:    cmd.ExpandArgs(configName),
		Env:     cmd.Env,
	}

	telemetry.FromContext(ctx).WithFields(map[string]interface{}{
		"command": inv.Command,
		"args":    inv.Args,
		"dir":     inv.Dir,
	}).Debug("Invoking solver")

	res, err := w.runner.Run(context.WithoutCancel(ctx), inv)
	if err != nil {
		e := NewSolverError(fmt.Sprintf("%s solver failed", stage), err).WithCode(ErrCodeSolverFailed)
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			e.WithDetail("exit_code", exitErr.Code).WithDetail("log", exitErr.LogPath)
		}
		return e
	}
	if res != nil {
		telemetry.FromContext(ctx).Debugf("Solver exited after %s", res.Duration)
	}
	return nil
}

// stagingError classifies a filesystem failure.
func stagingError(err error) *EngineError {
	code := ErrCodeStagingFailed
	if errors.Is(err, fs.ErrExist) {
		code = ErrCodeDirExists
	}
	return NewStagingError("staging failed", err).WithCode(code)
}

// classify turns errors from staging helpers into EngineErrors.
func classify(err error) *EngineError {
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	if config.IsMissingKey(err) {
		return NewConfigurationError("missing config key", err).WithCode(ErrCodeMissingKey)
	}
	var invalid *config.InvalidValueError
	if errors.As(err, &invalid) {
		return NewConfigurationError("invalid config value", err).WithCode(ErrCodeInvalidValue)
	}
	return stagingError(err)
}
