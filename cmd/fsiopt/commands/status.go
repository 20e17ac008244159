package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fsiopt/fsiopt/pkg/config"
	"github.com/fsiopt/fsiopt/pkg/design"
)

type statusReport struct {
	Folder    string             `json:"folder"`
	Source    string             `json:"source"`
	Designs   []*design.Record   `json:"designs"`
	StageRuns []*design.StageRun `json:"stage_runs,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var showRuns bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show designs and stage runs of the current folder",
		Long: `List the designs of the optimization folder with their completion flags.

Designs come from the design store when one is configured, otherwise from
the record.yaml file of every DSN_* directory.`,
		Example: `  # Table of designs
  fsiopt status -c root.cfg

  # Everything, including stage runs, as JSON
  fsiopt status -c root.cfg --runs --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(ctx) }()

			report := &statusReport{Folder: s.root.Folder}
			if s.store != nil {
				report.Source = "store"
				if report.Designs, err = s.store.ListDesigns(ctx); err != nil {
					return err
				}
				if showRuns {
					if report.StageRuns, err = s.store.ListStageRuns(ctx, nil); err != nil {
						return err
					}
				}
			} else {
				report.Source = "records"
				if report.Designs, err = readRecords(s.root); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printStatus(out, report)
		},
	}

	cmd.Flags().BoolVar(&showRuns, "runs", false, "include stage runs (store only)")

	return cmd
}

// readRecords loads record.yaml from every design directory.
func readRecords(root *config.Root) ([]*design.Record, error) {
	entries, err := os.ReadDir(root.DesignsDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []*design.Record
	for _, e := range entries {
		if _, ok := design.ParseDirName(e.Name()); !ok || !e.IsDir() {
			continue
		}
		rec, err := design.LoadRecord(filepath.Join(root.DesignsDir(), e.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
	return records, nil
}

func printStatus(out io.Writer, report *statusReport) error {
	fmt.Fprintf(out, "Folder: %s (%d designs, from %s)\n\n", report.Folder, len(report.Designs), report.Source)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DESIGN\tDEFORMED\tPRIMAL\tADJOINT\tGEO\tX")
	for _, rec := range report.Designs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			design.DirName(rec.Index),
			mark(rec.Deformed), mark(rec.PrimalComplete),
			mark(rec.AdjointComplete), mark(rec.GeoComplete),
			rec.X.Format())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(report.StageRuns) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DESIGN\tSTAGE\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, run := range report.StageRuns {
		duration, errMsg := "-", ""
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		if run.Error != nil {
			errMsg = *run.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			design.DirName(run.Design), run.Stage, run.Status,
			run.StartedAt.Format("2006-01-02 15:04:05"), duration, errMsg)
	}
	return tw.Flush()
}

func mark(done bool) string {
	if done {
		return "yes"
	}
	return "-"
}
