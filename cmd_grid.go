package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"backoffice/internal/app"
	"backoffice/internal/grid"
	"backoffice/internal/service"
)

var (
	gridFilters []string
	gridSearch  string
	gridSort    string
	gridDesc    bool
	gridPage    int
	gridHide    []string
	gridReset   bool
	gridLimit   int
)

// gridCmd renders datasets and query results as paginated grids
var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Browse datasets and query results as grids",
}

var gridShowCmd = &cobra.Command{
	Use:   "show [dataset]",
	Short: "Render one page of a dataset grid",
	Long: `Render one page of a dataset grid. The view (filters, search, sort,
hidden columns, page) is saved per dataset, so flags build on the last
view unless --reset is given.

Filters take key=value for a substring match and key=min..max for a
numeric range; either bound may be left out. An empty value clears the
column's filter.

Example:
  backoffice grid show Clients --filter address.city=lis --sort balance --desc
  backoffice grid show Invoices --filter total=100..500 --page 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			info, err := a.Grids.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer a.Grids.Close(info.ID)
			return showGrid(cmd, a.Grids, info.ID)
		})
	},
}

var gridQueryCmd = &cobra.Command{
	Use:   "query [connection] [query]",
	Short: "Run a read query and render its result as a grid",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			info, err := a.Grids.OpenQuery(ctx, args[0], args[1], gridLimit)
			if err != nil {
				return err
			}
			defer a.Grids.Close(info.ID)
			return showGrid(cmd, a.Grids, info.ID)
		})
	},
}

var gridExportCmd = &cobra.Command{
	Use:   "export [dataset]",
	Short: "Download the filtered, sorted rows of a dataset as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			info, err := a.Grids.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer a.Grids.Close(info.ID)
			if err := applyGridFlags(cmd, a.Grids, info.ID); err != nil {
				return err
			}
			rec, err := a.Grids.Export(ctx, info.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s rows to %s (%s)\n",
				humanize.Comma(int64(rec.RowCount)), rec.Path, humanize.Bytes(uint64(rec.Bytes)))
			return nil
		})
	},
}

func showGrid(cmd *cobra.Command, grids *service.GridService, sessionID string) error {
	if err := applyGridFlags(cmd, grids, sessionID); err != nil {
		return err
	}
	view, err := grids.View(sessionID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), view)
	}
	renderView(cmd.OutOrStdout(), view)
	return nil
}

// applyGridFlags replays the command line as grid transitions, in the order
// a user would click them: reset, columns, filters, search, sort, page.
func applyGridFlags(cmd *cobra.Command, grids *service.GridService, sid string) error {
	flags := cmd.Flags()
	if gridReset {
		if err := grids.ClearFilters(sid); err != nil {
			return err
		}
		if err := grids.ClearSort(sid); err != nil {
			return err
		}
		if err := grids.SetSearch(sid, ""); err != nil {
			return err
		}
	}

	if len(gridHide) > 0 {
		view, err := grids.View(sid)
		if err != nil {
			return err
		}
		visible := make(map[string]bool, len(view.Columns))
		for _, c := range view.Columns {
			visible[c.Key] = true
		}
		for _, key := range gridHide {
			if !visible[key] {
				continue
			}
			if err := grids.ToggleColumn(sid, key); err != nil {
				return err
			}
		}
	}

	for _, f := range gridFilters {
		key, value, err := parseFilterFlag(f)
		if err != nil {
			return err
		}
		if err := grids.SetFilter(sid, key, value); err != nil {
			return err
		}
	}

	if flags.Changed("search") {
		if err := grids.SetSearch(sid, gridSearch); err != nil {
			return err
		}
	}

	if gridSort != "" {
		want := grid.Asc
		if gridDesc {
			want = grid.Desc
		}
		// SetSort flips the direction on repeated keys, so it takes at most
		// two calls to land on the wanted one.
		for i := 0; i < 2; i++ {
			sd, err := grids.SetSort(sid, gridSort)
			if err != nil {
				return err
			}
			if sd.Direction == want {
				break
			}
		}
	}

	// A saved view carries its own page size; an explicit --page-size
	// replaces it.
	if pageSize > 0 {
		if err := grids.SetPageSize(sid, pageSize); err != nil {
			return err
		}
	}

	if gridPage > 0 {
		if _, err := grids.GotoPage(sid, gridPage); err != nil {
			return err
		}
	}
	return nil
}

// parseFilterFlag reads key=text or key=min..max.
func parseFilterFlag(s string) (string, grid.FilterValue, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", grid.FilterValue{}, fmt.Errorf("invalid filter %q: want key=value or key=min..max", s)
	}
	lo, hi, isRange := strings.Cut(value, "..")
	if !isRange {
		return key, grid.Text(value), nil
	}

	var r grid.Range
	if lo != "" {
		min, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return "", grid.FilterValue{}, fmt.Errorf("invalid filter %q: minimum: %w", s, err)
		}
		r.Min = &min
	}
	if hi != "" {
		max, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return "", grid.FilterValue{}, fmt.Errorf("invalid filter %q: maximum: %w", s, err)
		}
		r.Max = &max
	}
	return key, grid.FilterValue{Range: &r}, nil
}

func init() {
	for _, c := range []*cobra.Command{gridShowCmd, gridQueryCmd, gridExportCmd} {
		c.Flags().StringArrayVar(&gridFilters, "filter", nil, "column filter key=value or key=min..max (repeatable)")
		c.Flags().StringVar(&gridSearch, "search", "", "global search term")
		c.Flags().StringVar(&gridSort, "sort", "", "sort column key")
		c.Flags().BoolVar(&gridDesc, "desc", false, "sort descending")
		c.Flags().StringSliceVar(&gridHide, "hide", nil, "columns to hide")
		c.Flags().BoolVar(&gridReset, "reset", false, "clear saved filters, search and sort first")
	}
	gridShowCmd.Flags().IntVar(&gridPage, "page", 0, "page to show")
	gridQueryCmd.Flags().IntVar(&gridPage, "page", 0, "page to show")
	gridQueryCmd.Flags().IntVar(&gridLimit, "limit", 1000, "maximum rows fetched")

	gridCmd.AddCommand(gridShowCmd, gridQueryCmd, gridExportCmd)
}
