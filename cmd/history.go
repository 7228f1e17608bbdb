package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftplan/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history <pickle-id>",
	Short: "Show every recorded result of a pickle, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunHistory(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func RunHistory(w io.Writer, id string) error {
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
	results, err := store.History(ctx, row.ID)
	if err != nil {
		return err
	}

	ui.ShowHeader(w, row.ID, row.URI+"  "+row.Name)
	if len(results) == 0 {
		fmt.Fprintln(w, "no results")
		return nil
	}
	for _, r := range results {
		ui.HistoryRow(w, r.RunID, r.Status, r.Attempt, r.Duration.Milliseconds(), r.Error)
	}
	return nil
}
