package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fsiopt/fsiopt/pkg/config"
	"github.com/fsiopt/fsiopt/pkg/engine"
	"github.com/fsiopt/fsiopt/pkg/gradient"
)

func newValidateCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the root config and every solver config",
		Long: `Load and validate the root optimization config, the four solver configs
it names and the tool settings.

This command checks:
  - Required keys and their values
  - Objective and constraint expressions
  - FFD degree and fixed control points
  - A solver command for every stage`,
		Example: `  # Validate the configs of the current folder
  fsiopt validate -c root.cfg

  # Print the stage graph in Graphviz format
  fsiopt validate -c root.cfg --dot | dot -Tpng > stages.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(settingsPath)
			if err != nil {
				return err
			}
			root, err := config.LoadRoot(configPath)
			if err != nil {
				return err
			}

			graph, err := engine.BuildStageGraph(engine.DefaultStageSpecs())
			if err != nil {
				return err
			}
			if err := graph.Validate(); err != nil {
				return err
			}
			for _, stage := range graph.Order() {
				cmdCfg, err := settings.Solvers.Command(string(stage))
				if err != nil || cmdCfg.Command == "" {
					return engine.NewConfigurationError("no solver configured", err).
						WithCode(engine.ErrCodeMissingKey).WithStage(stage)
				}
			}

			out := cmd.OutOrStdout()
			if dot {
				fmt.Fprint(out, graph.ToDOT())
				return nil
			}

			points := root.FFDDegree.Points()
			fixed := gradient.ForRoot(root)
			fmt.Fprintf(out, "Folder:       %s\n", root.Folder)
			fmt.Fprintf(out, "Objective:    %s (%s, scale %g)\n", root.Objective.Name, root.Objective.Sense, root.Objective.Scale)
			fmt.Fprintf(out, "Constraints:  %d equality, %d inequality\n",
				len(root.ConstraintsOf(config.ConstraintEquality)), len(root.ConstraintsOf(config.ConstraintInequality)))
			fmt.Fprintf(out, "FFD points:   %dx%dx%d (%s)\n", points[0], points[1], points[2], root.FFDConstraint)
			fmt.Fprintf(out, "Fixed:        %v\n", fixed.Indices())
			fmt.Fprintf(out, "Tolerance:    %g\n", root.DesignTolerance)

			log.Info().Str("config", root.Path).Msg("Configuration is valid")
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the stage graph in DOT format")

	return cmd
}
