package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftplan/internal/db"
	"github.com/chriserin/ftplan/internal/tagexpr"
	"github.com/chriserin/ftplan/internal/ui"
)

var (
	listStatus     string
	listNoActivity bool
	listTags       string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pickles with their tag disposition and latest status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunList(cmd.OutOrStdout(), ListOptions{
			Status:     listStatus,
			NoActivity: listNoActivity,
			Tags:       listTags,
			TagsSet:    cmd.Flags().Changed("tags"),
		})
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "only pickles whose latest status matches")
	listCmd.Flags().BoolVar(&listNoActivity, "no-activity", false, "only pickles without results")
	listCmd.Flags().StringVar(&listTags, "tags", "", "tag expression deciding the run/skip column (defaults to config)")
	rootCmd.AddCommand(listCmd)
}

type ListOptions struct {
	Status     string
	NoActivity bool
	Tags       string
	// TagsSet means Tags overrides the configured filter, even when empty.
	TagsSet bool
}

func RunList(w io.Writer, opts ListOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter := cfg.Filter()
	if opts.TagsSet {
		if filter, err = tagexpr.Parse(opts.Tags); err != nil {
			return err
		}
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	f := db.ListFilter{Status: opts.Status}
	if opts.NoActivity {
		f.Status = db.NoActivity
	}
	rows, err := store.List(context.Background(), f)
	if err != nil {
		return fmt.Errorf("listing pickles: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	// Compute column widths
	uriWidth, nameWidth := 0, 0
	for _, r := range rows {
		if len(r.URI) > uriWidth {
			uriWidth = len(r.URI)
		}
		if len(r.Name) > nameWidth {
			nameWidth = len(r.Name)
		}
	}

	for _, r := range rows {
		disposition := "run"
		if !filter.Match(r.Tags) {
			disposition = "skip"
		}
		ui.ListRow(w, r.ID, r.URI, r.Name, disposition, r.Status, uriWidth, nameWidth)
	}
	return nil
}
