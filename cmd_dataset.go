package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"backoffice/internal/app"
	"backoffice/internal/domain"
	"backoffice/internal/grid"
	"backoffice/internal/service"
)

var (
	datasetKind    string
	datasetColumns string
)

// datasetCmd manages datasets and their rows
var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage datasets and their rows",
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets with row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			datasets, err := a.Datasets.ListDatasets()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), datasets)
			}
			rows := make([][]string, 0, len(datasets))
			for _, d := range datasets {
				count, updated := "0", "never"
				if stats, err := a.Datasets.GetDatasetStats(d.ID); err == nil {
					count = humanize.Comma(int64(stats.RowCount))
					if !stats.LastUpdated.IsZero() {
						updated = humanize.Time(stats.LastUpdated)
					}
				}
				rows = append(rows, []string{d.ID, d.Name, string(d.Kind), count, updated})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "Kind", "Rows", "Updated"}, rows))
			return nil
		})
	},
}

var datasetCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a dataset",
	Long: `Create a dataset. Without --columns it starts with the built-in columns
of its kind (company, client, supplier, transport, sales_order,
purchase_order, invoice, custom).

Example:
  backoffice dataset create Clients --kind client
  backoffice dataset create Carriers --columns '[{"key":"carrier","type":"string","sortable":true,"filterable":true}]'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := service.CreateDatasetInput{Name: args[0], Kind: domain.DatasetKind(datasetKind)}
		if datasetColumns != "" {
			var cols []grid.Column
			if err := json.Unmarshal([]byte(datasetColumns), &cols); err != nil {
				return fmt.Errorf("parse --columns: %w", err)
			}
			input.Columns = cols
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			d, err := a.Datasets.CreateDataset(input)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), d)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s dataset %q (%s) with %d columns\n", d.Kind, d.Name, d.ID, len(d.Columns))
			return nil
		})
	},
}

var datasetRowsCmd = &cobra.Command{
	Use:   "rows [dataset]",
	Short: "Print the raw rows of a dataset as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			d, err := a.Datasets.FindDataset(args[0])
			if err != nil {
				return err
			}
			rows, err := a.Datasets.ListRows(d.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		})
	},
}

var datasetAddRowCmd = &cobra.Command{
	Use:   "add-row [dataset] [json|-]",
	Short: "Append a row given as a JSON object (- reads stdin)",
	Example: `  backoffice dataset add-row Clients '{"name":"Acme","address":{"city":"Lisbon"},"balance":1200.5}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := []byte(args[1])
		if args[1] == "-" {
			var err error
			if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse row: %w", err)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			d, err := a.Datasets.FindDataset(args[0])
			if err != nil {
				return err
			}
			row, err := a.Datasets.CreateRow(ctx, d.ID, data)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), row)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added row %s to %s\n", row.ID, d.Name)
			return nil
		})
	},
}

var datasetDeleteCmd = &cobra.Command{
	Use:   "delete [dataset]",
	Short: "Delete a dataset, its rows and its saved view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			d, err := a.Datasets.FindDataset(args[0])
			if err != nil {
				return err
			}
			if err := a.Datasets.DeleteDataset(d.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", d.Name)
			return nil
		})
	},
}

func init() {
	datasetCreateCmd.Flags().StringVar(&datasetKind, "kind", string(domain.KindCustom), "dataset kind")
	datasetCreateCmd.Flags().StringVar(&datasetColumns, "columns", "", "columns as a JSON array")
	datasetCmd.AddCommand(datasetListCmd, datasetCreateCmd, datasetRowsCmd, datasetAddRowCmd, datasetDeleteCmd)
}
