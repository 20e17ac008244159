package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCleanCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove all designs of the current folder",
		Long: `Remove the DESIGNS directory and empty the design store, so that the
next serve starts a fresh run.

Every solver result is deleted. The command asks for confirmation unless
--yes is given.`,
		Example: `  # Ask before deleting
  fsiopt clean -c root.cfg

  # Non-interactive
  fsiopt clean -c root.cfg --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(ctx) }()

			dir := s.root.DesignsDir()
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Remove %s and all recorded designs? [y/N] ", dir)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				switch strings.ToLower(strings.TrimSpace(answer)) {
				case "y", "yes":
				default:
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}

			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("failed to remove %s: %w", dir, err)
			}
			if s.store != nil {
				if err := s.store.Reset(ctx); err != nil {
					return err
				}
			}

			log.Info().Str("path", dir).Msg("Designs removed")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}
