package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	settingsPath string
	verbose      bool
	jsonOutput   bool

	// appVersion is reported by telemetry and the bridge.
	appVersion = "dev"
)

// ExitCodeError carries a process exit code out of a command.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	appVersion = version

	rootCmd := &cobra.Command{
		Use:   "fsiopt",
		Short: "fsiopt - FSI shape optimization driver",
		Long: `fsiopt drives gradient-based shape optimization of fluid-structure
interaction problems.

An external optimizer asks for objective and constraint values and their
gradients at design vectors. fsiopt keeps one design directory per distinct
vector, runs the mesh deformation, primal, adjoint and geometry solvers in
it when needed, and reads back scaled results.

Features:
  - Design-point cache with tolerance-based deduplication
  - Stage sequencing with completion flags per design
  - Stdio JSON bridge for optimizers in any language
  - SQLite design history with crash recovery
  - Prometheus metrics and OpenTelemetry traces`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "root.cfg", "root optimization config")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "tool settings file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newEvaluateCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newCleanCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
