package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fsiopt/fsiopt/pkg/config"
	"github.com/fsiopt/fsiopt/pkg/engine"
	"github.com/fsiopt/fsiopt/pkg/stores"
	"github.com/fsiopt/fsiopt/pkg/telemetry"
	"github.com/fsiopt/fsiopt/pkg/transports/ssh"
)

// session holds what every command that touches a run needs.
type session struct {
	settings *config.Settings
	root     *config.Root
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	remote   *ssh.Runner
	runID    string
}

// openSession loads the settings and the root config, and opens the
// design store when one is configured. Overrides apply to the loaded
// settings before telemetry is built.
func openSession(ctx context.Context, overrides ...func(*config.Settings)) (*session, error) {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Logging.Level = "debug"
	}
	for _, o := range overrides {
		o(settings)
	}

	root, err := config.LoadRoot(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(telemetry.ConfigFromSettings(settings, appVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s := &session{settings: settings, root: root, tel: tel}

	if path := storePath(settings, root); path != "" {
		store, err := stores.NewSQLiteStore(stores.Config{Path: path})
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("failed to open store %s: %w", path, err)
		}
		s.store = store
		log.Debug().Str("path", path).Msg("Design store opened")
	}

	return s, nil
}

// storePath resolves the configured store path against the optimization
// folder.
func storePath(settings *config.Settings, root *config.Root) string {
	path := settings.Store.Path
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root.Folder, path)
}

// startRun records a new run and stamps every event with its ID. Events
// are persisted when a store is open.
func (s *session) startRun(ctx context.Context, resumed bool) error {
	s.runID = uuid.New().String()

	if s.store != nil {
		if err := s.store.CreateRun(ctx, &stores.Run{
			ID:         s.runID,
			RootConfig: s.root.Path,
			Folder:     s.root.Folder,
			StartedAt:  time.Now().UTC(),
			Resumed:    resumed,
		}); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}

		store := s.store
		s.tel.Events.Subscribe(func(e telemetry.Event) {
			if err := store.RecordEvent(context.WithoutCancel(ctx), e); err != nil {
				log.Warn().Err(err).Str("type", e.Type).Msg("Failed to persist event")
			}
		}, nil)
	}

	s.tel.Events.SetRunID(s.runID)
	return s.tel.Events.PublishRunStarted(s.root.Path)
}

// workflow builds the engine for this session. Solvers run on the
// configured remote host, if any.
func (s *session) workflow(ctx context.Context, resume bool) (*engine.Workflow, error) {
	opts := engine.Options{
		Solvers:   &s.settings.Solvers,
		Telemetry: s.tel,
		Resume:    resume,
	}
	if s.store != nil {
		opts.Store = s.store
	}
	if s.settings.Remote.Host != "" {
		remote, err := ssh.NewRunner(ssh.ConfigFromSettings(s.settings.Remote))
		if err != nil {
			return nil, fmt.Errorf("invalid remote settings: %w", err)
		}
		s.remote = remote
		opts.Runner = remote
		log.Info().
			Str("host", s.settings.Remote.Host).
			Str("work_dir", s.settings.Remote.WorkDir).
			Msg("Solvers will run remotely")
	}
	return engine.New(ctx, s.root, opts)
}

// Close flushes telemetry, drops the remote connection and closes the store.
func (s *session) Close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close remote connection")
		}
	}

	if err := s.tel.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
