package commands

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fsiopt/fsiopt/pkg/bridge"
	"github.com/fsiopt/fsiopt/pkg/config"
)

func newServeCommand() *cobra.Command {
	var (
		metricsAddr string
		resume      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer optimizer queries over stdio",
		Long: `Serve optimizer queries on stdin/stdout using the newline-delimited JSON
bridge protocol.

The server sends READY, then answers each QUERY with a RESULT or an ERROR.
Configuration and sequencing errors are fatal: the server sends EXIT and
terminates with status 1. Logs are written to stderr.`,
		Example: `  # Start a fresh run
  fsiopt serve -c root.cfg

  # Continue a run after a crash, exposing metrics
  fsiopt serve -c root.cfg --resume --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx, func(settings *config.Settings) {
				if metricsAddr != "" {
					settings.Metrics.Address = metricsAddr
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(ctx) }()

			if srv := s.tel.Metrics.StartMetricsServer(func(err error) {
				log.Error().Err(err).Msg("Metrics server failed")
			}); srv != nil {
				log.Info().Str("address", srv.Addr).Msg("Serving metrics")
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if err := s.startRun(ctx, resume); err != nil {
				return err
			}

			wf, err := s.workflow(ctx, resume)
			if err != nil {
				return err
			}

			server, err := bridge.NewServer(bridge.ServerConfig{
				Evaluator: wf,
				Version:   appVersion,
				Designs:   len(wf.Designs()),
				Logger:    s.tel.Logger,
			}, os.Stdin, os.Stdout)
			if err != nil {
				return err
			}

			log.Info().
				Str("run_id", s.runID).
				Str("folder", s.root.Folder).
				Bool("resume", resume).
				Msg("Serving queries")

			code, err := server.Serve(ctx)
			if err != nil {
				return err
			}
			if code != bridge.ExitOK {
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus endpoint (e.g. :9090)")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from designs left by an earlier run")

	return cmd
}
