package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftplan/internal/db"
	"github.com/chriserin/ftplan/internal/parser"
	"github.com/chriserin/ftplan/internal/scanner"
	"github.com/chriserin/ftplan/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Compile feature files and register their pickles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSync(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func RunSync(w io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	files, err := scanner.NewScanner().Scan(".", cfg.Features, cfg.Exclude)
	if err != nil {
		return fmt.Errorf("discovering features: %w", err)
	}

	ctx := context.Background()
	var uris []string
	var failed, pickles int
	for _, path := range files {
		uri := filepath.ToSlash(path)
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		feature, err := parser.Parse(uri, content)
		if err != nil {
			ui.ErrLine(w, uri, err)
			failed++
			continue
		}
		uris = append(uris, uri)

		records := pickleRecords(feature)
		res, err := store.SyncFeature(ctx, uri, feature.Name, records)
		if err != nil {
			return err
		}
		pickles += len(records)
		if res.NewFeature {
			ui.NewLine(w, uri, len(records))
		} else {
			ui.TrkLine(w, uri, len(records))
		}
	}

	if failed == 0 {
		removed, err := store.RemoveMissingFeatures(ctx, uris)
		if err != nil {
			return err
		}
		if removed > 0 {
			ui.GoneLine(w, removed)
		}
	}

	ui.SummaryLine(w, len(uris), pickles)
	if failed > 0 {
		return fmt.Errorf("%d feature files failed to compile", failed)
	}
	return nil
}

func pickleRecords(feature *parser.SimpleFeature) []db.PickleRecord {
	pickles := parser.GeneratePickles(feature)
	records := make([]db.PickleRecord, 0, len(pickles))
	for _, p := range pickles {
		records = append(records, db.PickleRecord{
			ID:   p.ID,
			Name: p.Name,
			Tags: p.Tags,
			Line: pickleLine(p),
		})
	}
	return records
}

// pickleLine is the scenario line, or the example row line for an outline.
func pickleLine(p parser.SimplePickle) int {
	switch {
	case p.Examples != nil && p.Path.Row >= 0 && p.Path.Row < len(p.Examples.Rows):
		return p.Examples.Rows[p.Path.Row].Location.Line
	case p.Scenario != nil:
		return p.Scenario.Location.Line
	case p.Outline != nil:
		return p.Outline.Location.Line
	}
	return 0
}
