package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fsiopt/fsiopt/pkg/config"
	"github.com/fsiopt/fsiopt/pkg/monitor"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the progress of a running optimization",
		Long: `Print designs and stage directories as the optimizer creates them.

Existing designs are listed first. The command runs until interrupted.`,
		Example: `  # Follow a run in another terminal
  fsiopt watch -c root.cfg

  # One JSON object per line
  fsiopt watch -c root.cfg --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			root, err := config.LoadRoot(configPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(root.DesignsDir(), 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", root.DesignsDir(), err)
			}

			w, err := monitor.NewWatcher(root.DesignsDir(), log.Logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			return w.Watch(ctx, func(ev monitor.Event) {
				if jsonOutput {
					_ = enc.Encode(ev)
					return
				}
				fmt.Fprintf(out, "%s  %s\n", ev.Time.Format("15:04:05"), ev)
			})
		},
	}

	return cmd
}
