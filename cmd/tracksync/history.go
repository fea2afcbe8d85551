package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tracksync/tracksync-go/internal/monitoring"
	"github.com/tracksync/tracksync-go/internal/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit     int
		pruneDays int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hs, closeDB, err := a.openHistory()
			if err != nil {
				return err
			}
			if hs == nil {
				return fmt.Errorf("history is disabled in settings")
			}
			defer closeDB()

			if pruneDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -pruneDays)
				n, err := hs.Prune(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				a.printf("Removed %d runs started before %s\n", n, cutoff.Format("2006-01-02"))
			}

			runs, err := hs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				a.printf("No batches recorded yet\n")
				return nil
			}
			renderRuns(a.stdout, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "First delete runs older than this many days")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show every request of one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hs, closeDB, err := a.openHistory()
			if err != nil {
				return err
			}
			if hs == nil {
				return fmt.Errorf("history is disabled in settings")
			}
			defer closeDB()

			run, err := hs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			dups, err := findDuplicates(cmd.Context(), hs, run)
			if err != nil {
				return err
			}
			renderRun(a.stdout, run, dups)
			return nil
		},
	})
	return cmd
}

func renderRuns(w io.Writer, runs []*store.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run", "Playlist", "Started", "Status", "Downloaded", "Failed", "Took"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Playlist,
			humanize.Time(r.StartedAt),
			statusText(r.Status),
			fmt.Sprintf("%d/%d", r.Downloaded, r.Total),
			strconv.Itoa(r.Failed),
			monitoring.FormatDuration(r.Duration()),
		})
	}
	table.Render()
}

// findDuplicates maps each file of run to identical files kept by earlier runs
func findDuplicates(ctx context.Context, hs *store.HistoryStore, run *store.Run) (map[string][]store.FileRecord, error) {
	dups := make(map[string][]store.FileRecord)
	for _, f := range run.Files {
		if f.Fingerprint == "" {
			continue
		}
		matches, err := hs.FindByFingerprint(ctx, f.Fingerprint, run.ID)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			dups[f.Path] = matches
		}
	}
	return dups, nil
}

func renderRun(w io.Writer, run *store.Run, dups map[string][]store.FileRecord) {
	color.New(color.Bold).Fprintf(w, "%s  %s\n", run.Playlist, statusText(run.Status))
	fmt.Fprintf(w, "run %s, started %s, source %s\n", run.ID, run.StartedAt.Local().Format(time.DateTime), run.SourcePath)
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "error: %s\n", run.ErrorMessage)
	}

	var size int64
	for _, f := range run.Files {
		size += f.SizeBytes
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Title", "Artist", "Status", "Query", "Tries"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, r := range run.Results {
		detail := r.Query
		if r.Reason != "" {
			detail = r.Reason
		}
		table.Append([]string{
			strconv.Itoa(r.Position), r.Title, r.Artist, statusText(r.Status), detail, strconv.Itoa(r.Attempts),
		})
	}
	table.Render()
	fmt.Fprintf(w, "%d files, %s\n", len(run.Files), humanize.Bytes(uint64(size)))

	for _, f := range run.Files {
		for _, d := range dups[f.Path] {
			fmt.Fprintf(w, "%s %s is identical to %s from run %s\n",
				color.YellowString("!"), filepath.Base(f.Path), d.Path, d.RunID)
		}
	}
}

func statusText(status string) string {
	switch status {
	case store.RunCompleted, "downloaded":
		return color.GreenString(status)
	case store.RunCancelled:
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}
