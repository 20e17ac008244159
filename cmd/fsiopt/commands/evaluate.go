package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fsiopt/fsiopt/pkg/design"
	"github.com/fsiopt/fsiopt/pkg/engine"
)

func newEvaluateCommand() *cobra.Command {
	var (
		vector  string
		queries []string
		fresh   bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate queries at one design vector",
		Long: `Evaluate one or more queries at a design vector and print the answers
as JSON.

Designs left by earlier runs are reused unless --fresh is given, so
repeated calls with the same vector do not rerun any solver.`,
		Example: `  # Objective at the baseline of a 12-variable FFD box
  fsiopt evaluate -c root.cfg --x 0,0,0,0,0,0,0,0,0,0,0,0

  # Objective and its gradient
  fsiopt evaluate -c root.cfg --x 0.01,0,0 --query objective,objective_gradient`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			x, err := design.ParseVector(vector)
			if err != nil {
				return fmt.Errorf("invalid --x: %w", err)
			}
			if len(x) == 0 {
				return fmt.Errorf("--x is required")
			}

			parsed := make([]engine.Query, 0, len(queries))
			for _, name := range queries {
				q, err := engine.ParseQuery(name)
				if err != nil {
					return err
				}
				parsed = append(parsed, q)
			}

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(ctx) }()

			if err := s.startRun(ctx, !fresh); err != nil {
				return err
			}
			wf, err := s.workflow(ctx, !fresh)
			if err != nil {
				return err
			}

			answers := make([]*engine.Answer, 0, len(parsed))
			for _, q := range parsed {
				log.Debug().Str("query", string(q)).Msg("Evaluating")
				ans, err := wf.Evaluate(ctx, q, x)
				if err != nil {
					return err
				}
				answers = append(answers, ans)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(answers)
		},
	}

	cmd.Flags().StringVar(&vector, "x", "", "design vector, comma separated")
	cmd.Flags().StringSliceVarP(&queries, "query", "q", []string{string(engine.QueryObjective)}, "queries to evaluate")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "refuse to reuse designs from earlier runs")

	return cmd
}
