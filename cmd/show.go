package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftplan/internal/parser"
	"github.com/chriserin/ftplan/internal/ui"
)

var showCmd = &cobra.Command{
	Use:   "show <pickle-id>",
	Short: "Show a pickle's steps and latest status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunShow(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

// RunShow accepts a full pickle id or a unique prefix of one.
func RunShow(w io.Writer, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	row, err := store.Pickle(context.Background(), id)
	if err != nil {
		return err
	}

	ui.ShowHeader(w, row.ID, row.URI)
	ui.ShowStatus(w, row.Status)
	ui.ShowTags(w, row.Tags)

	content, err := os.ReadFile(row.URI)
	if err != nil {
		return fmt.Errorf("reading %s: %w", row.URI, err)
	}
	feature, err := parser.Parse(row.URI, content)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", row.URI, err)
	}
	pickle := parser.GeneratePickleByID(feature, row.ID)
	if pickle == nil {
		return fmt.Errorf("pickle %s no longer in %s; run `ftplan sync`", row.ID, row.URI)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, pickle.Name)
	for _, s := range pickle.Steps {
		var table [][]string
		if s.DataTable != nil {
			table = s.DataTable.Rows
		}
		var doc string
		if s.DocString != nil {
			doc = s.DocString.Content
		}
		ui.ShowStep(w, s.Keyword, s.Text, table, doc)
	}
	return nil
}
