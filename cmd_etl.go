package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backoffice/internal/app"
	"backoffice/internal/etl"
	"backoffice/internal/grid"
	"backoffice/internal/service"
)

var (
	etlName       string
	etlSource     string
	etlConfig     string
	etlDataset    string
	etlMode       string
	etlDedupe     string
	etlSchedule   string
	etlWatch      string
	etlTransforms string
	etlDisabled   bool
)

// etlCmd manages import jobs that feed datasets
var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Import rows into datasets from files, databases and other datasets",
}

var etlSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List source types and their settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			specs := a.ETL.ListSources()
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), specs)
			}
			var rows [][]string
			for _, s := range specs {
				for _, f := range s.ConfigFields {
					req := ""
					if f.Required {
						req = "yes"
					}
					rows = append(rows, []string{s.Type, f.Key, f.Type, req, f.Help})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Source", "Setting", "Type", "Required", "Help"}, rows))
			return nil
		})
	},
}

var etlCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an import job",
	Example: `  backoffice etl create --name clients-csv --source csv_file --config '{"filePath":"clients.csv"}' --dataset Clients --mode replace --watch clients.csv
  backoffice etl create --name erp-suppliers --source database --config '{"connectionId":"…","query":"SELECT * FROM suppliers"}' \
      --dataset Suppliers --mode append --dedupe taxId --schedule '0 * * * *' \
      --transforms '[{"type":"filter","config":{"field":"active","op":"eq","value":true}}]'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input := service.CreateETLJobInput{
			Name:       etlName,
			SourceType: etlSource,
			SyncMode:   etlMode,
			DedupeKey:  etlDedupe,
			Enabled:    !etlDisabled,
		}
		if etlConfig != "" {
			if err := json.Unmarshal([]byte(etlConfig), &input.SourceConfig); err != nil {
				return fmt.Errorf("parse --config: %w", err)
			}
		}
		if etlTransforms != "" {
			if err := json.Unmarshal([]byte(etlTransforms), &input.Transforms); err != nil {
				return fmt.Errorf("parse --transforms: %w", err)
			}
		}
		switch {
		case etlSchedule != "" && etlWatch != "":
			return fmt.Errorf("--schedule and --watch are mutually exclusive")
		case etlSchedule != "":
			input.TriggerType, input.TriggerConfig = "schedule", etlSchedule
		case etlWatch != "":
			input.TriggerType, input.TriggerConfig = "file_watch", etlWatch
		default:
			input.TriggerType = "manual"
		}

		return withApp(func(ctx context.Context, a *app.App) error {
			ds, err := a.Datasets.FindDataset(etlDataset)
			if err != nil {
				return err
			}
			input.TargetDatasetID = ds.ID
			job, err := a.ETL.CreateJob(ctx, input)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created job %q (%s) feeding %s\n", job.Name, job.ID, ds.Name)
			return nil
		})
	},
}

var etlJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List import jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			jobs, err := a.ETL.ListJobs()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), jobs)
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				trigger := j.TriggerType
				if j.TriggerConfig != "" {
					trigger += " " + j.TriggerConfig
				}
				last := "never"
				if !j.LastRunAt.IsZero() {
					last = humanize.Time(j.LastRunAt)
				}
				rows = append(rows, []string{j.ID, j.Name, j.SourceType, string(j.SyncMode), trigger, fmt.Sprint(j.Enabled), last})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "Source", "Mode", "Trigger", "Enabled", "Last run"}, rows))
			return nil
		})
	},
}

var etlRunCmd = &cobra.Command{
	Use:   "run [jobId]",
	Short: "Run a job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			res, err := a.ETL.RunJob(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: read %s rows, wrote %s in %s\n", res.Status,
				humanize.Comma(int64(res.RowsRead)), humanize.Comma(int64(res.RowsWritten)), res.Duration.Round(1e6))
			return nil
		})
	},
}

var etlDeleteCmd = &cobra.Command{
	Use:   "delete [jobId]",
	Short: "Delete a job and its run history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.ETL.DeleteJob(ctx, args[0])
		})
	},
}

var etlLogsCmd = &cobra.Command{
	Use:   "logs [jobId]",
	Short: "Show the run history of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			logs, err := a.ETL.ListRunLogs(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), logs)
			}
			rows := make([][]string, 0, len(logs))
			for _, l := range logs {
				rows = append(rows, []string{
					l.StartedAt.Local().Format("2006-01-02 15:04:05"),
					l.Status,
					humanize.Comma(int64(l.RowsRead)),
					humanize.Comma(int64(l.RowsWritten)),
					l.FinishedAt.Sub(l.StartedAt).Round(1e6).String(),
					l.Error,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Started", "Status", "Read", "Written", "Took", "Error"}, rows))
			return nil
		})
	},
}

var etlPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the schema and first records of a source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			res, err := a.ETL.PreviewSource(ctx, etlSource, etlConfig)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printPreview(cmd, res)
			return nil
		})
	},
}

var etlWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run scheduled and file-watch jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			a.ETL.RestartWatchers(ctx)
			defer a.ETL.Stop()
			a.Logger.Info("watching import jobs", zap.String("database", a.Config.ResolvedDatabasePath()))
			<-ctx.Done()
			a.ETL.WaitRunning(context.Background())
			return nil
		})
	},
}

func printPreview(cmd *cobra.Command, res *service.PreviewResult) {
	if res.Schema == nil {
		res.Schema = &etl.Schema{}
	}
	names := res.Schema.FieldNames()
	headers := make([]string, len(names))
	for i, f := range res.Schema.Fields {
		headers[i] = f.Name + " (" + f.Type + ")"
	}
	rows := make([][]string, len(res.Records))
	for i, r := range res.Records {
		cells := make([]string, len(names))
		for j, n := range names {
			cells[j] = grid.Stringify(r.Data[n])
		}
		rows[i] = cells
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows))
	fmt.Fprintln(cmd.OutOrStdout(), footerStyle.Render(fmt.Sprintf("%d fields · first %d records", len(names), len(rows))))
}

func init() {
	f := etlCreateCmd.Flags()
	f.StringVar(&etlName, "name", "", "job name")
	f.StringVar(&etlDataset, "dataset", "", "target dataset id or name")
	f.StringVar(&etlMode, "mode", string(etl.SyncReplace), "replace or append")
	f.StringVar(&etlDedupe, "dedupe", "", "field that identifies a record in append mode")
	f.StringVar(&etlSchedule, "schedule", "", "cron expression")
	f.StringVar(&etlWatch, "watch", "", "file to watch")
	f.StringVar(&etlTransforms, "transforms", "", "transform pipeline as a JSON array")
	f.BoolVar(&etlDisabled, "disabled", false, "create the job disabled")
	_ = etlCreateCmd.MarkFlagRequired("name")
	_ = etlCreateCmd.MarkFlagRequired("dataset")

	for _, c := range []*cobra.Command{etlCreateCmd, etlPreviewCmd} {
		c.Flags().StringVar(&etlSource, "source", "", "source type (see `backoffice etl sources`)")
		c.Flags().StringVar(&etlConfig, "config", "", "source settings as a JSON object")
		_ = c.MarkFlagRequired("source")
	}

	etlCmd.AddCommand(etlSourcesCmd, etlCreateCmd, etlJobsCmd, etlRunCmd, etlDeleteCmd, etlLogsCmd, etlPreviewCmd, etlWatchCmd)
}
