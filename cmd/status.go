package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftplan/internal/db"
	"github.com/chriserin/ftplan/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status [<pickle-id> <status>]",
	Short: "Show project status or record a pickle's status by hand",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return RunStatusReport(cmd.OutOrStdout())
		}
		if len(args) != 2 {
			return fmt.Errorf("usage: ftplan status <pickle-id> <status>")
		}
		return RunStatusUpdate(cmd.OutOrStdout(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

var validStatuses = map[string]bool{"passed": true, "failed": true, "skipped": true, "pending": true}

func RunStatusUpdate(w io.Writer, id, status string) error {
	if !validStatuses[status] {
		return fmt.Errorf("invalid status %q: want passed, failed, skipped or pending", status)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	row, err := store.Pickle(ctx, id)
	if err != nil {
		return err
	}
	err = store.RecordResult(ctx, db.Result{
		RunID:    db.ManualRun,
		PickleID: row.ID,
		URI:      row.URI,
		Name:     row.Name,
		Status:   status,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  %s -> %s\n", ui.ShortID(row.ID), ui.Status(row.Status), ui.Status(status))
	return nil
}

func RunStatusReport(w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	rows, err := store.StatusCounts(ctx)
	if err != nil {
		return err
	}
	counts := make(map[string]int, len(rows))
	total := 0
	for _, r := range rows {
		counts[r.Status] = r.Count
		total += r.Count
	}
	ui.StatusSummary(w, counts, total)

	run, err := store.LatestRun(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Last run: %s started %s", ui.ShortID(run.ID), run.StartedAt)
	if run.FinishedAt != "" {
		fmt.Fprintf(w, ", %d passed, %d failed", run.Counts["passed"], run.Counts["failed"])
	}
	fmt.Fprintln(w)
	return nil
}
