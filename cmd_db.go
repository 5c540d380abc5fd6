package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"backoffice/internal/app"
	"backoffice/internal/dbclient"
	"backoffice/internal/grid"
	"backoffice/internal/service"
)

var (
	dbInput       service.CreateDBConnInput
	dbAskPassword bool
	dbFetchSize   int
)

// dbCmd manages external database connections
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage external database connections and run queries",
}

var dbAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Save a database connection (password goes to the secret store)",
	Example: `  backoffice db add --name erp --driver postgres --host db.local --port 5432 --database erp --user ops --ask-password
  backoffice db add --name legacy --driver sqlite --host ./legacy.db
  backoffice db add --name events --driver mongodb --host mongodb://localhost:27017 --database events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input := dbInput
		if dbAskPassword {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			input.Password = string(pw)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			conn, err := a.Database.CreateConnection(input)
			if err != nil {
				return err
			}
			if err := a.Database.TestConnection(ctx, conn.ID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: saved but could not connect: %v\n", err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), conn)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s connection %q (%s)\n", conn.Driver, conn.Name, conn.ID)
			return nil
		})
	},
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			conns, err := a.Database.ListConnections()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), conns)
			}
			rows := make([][]string, 0, len(conns))
			for _, c := range conns {
				rows = append(rows, []string{c.ID, c.Name, string(c.Driver), c.Target()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "Driver", "Target"}, rows))
			return nil
		})
	},
}

var dbRemoveCmd = &cobra.Command{
	Use:   "remove [connection]",
	Short: "Delete a saved connection and its password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			conn, err := a.Database.FindConnection(args[0])
			if err != nil {
				return err
			}
			if err := a.Database.DeleteConnection(conn.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed connection %q\n", conn.Name)
			return nil
		})
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema [connection]",
	Short: "List tables and columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			conn, err := a.Database.FindConnection(args[0])
			if err != nil {
				return err
			}
			schema, err := a.Database.Introspect(ctx, conn.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), schema)
			}
			var rows [][]string
			for _, t := range schema.Tables {
				for _, c := range t.Columns {
					rows = append(rows, []string{t.Name, c.Name, c.Type})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Table", "Column", "Type"}, rows))
			return nil
		})
	},
}

var dbQueryCmd = &cobra.Command{
	Use:   "query [connection] [query]",
	Short: "Run a query and print the first batch of rows",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			conn, err := a.Database.FindConnection(args[0])
			if err != nil {
				return err
			}
			page, err := a.Database.ExecuteQuery(ctx, conn.ID, args[1], dbFetchSize)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), page)
			}
			printQueryPage(cmd, page)
			return nil
		})
	},
}

func printQueryPage(cmd *cobra.Command, page *dbclient.QueryPage) {
	out := cmd.OutOrStdout()
	if page.IsWrite {
		fmt.Fprintf(out, "%s rows affected\n", humanize.Comma(int64(page.AffectedRows)))
		return
	}
	rows := make([][]string, len(page.Rows))
	for i, r := range page.Rows {
		cells := make([]string, len(r))
		for j, v := range r {
			cells[j] = grid.Stringify(v)
		}
		rows[i] = cells
	}
	fmt.Fprintln(out, renderTable(page.Columns, rows))
	footer := fmt.Sprintf("%s rows", humanize.Comma(int64(page.TotalFetched)))
	if page.HasMore {
		footer += " (more available; use `backoffice grid query` to page through all of them)"
	}
	fmt.Fprintln(out, footerStyle.Render(footer))
}

func init() {
	f := dbAddCmd.Flags()
	f.StringVar(&dbInput.Name, "name", "", "connection name")
	f.StringVar(&dbInput.Driver, "driver", "", "sqlite, mysql, postgres or mongodb")
	f.StringVar(&dbInput.Host, "host", "", "host, file path (sqlite) or URI (mongodb)")
	f.IntVar(&dbInput.Port, "port", 0, "port")
	f.StringVar(&dbInput.Database, "database", "", "database name")
	f.StringVar(&dbInput.Username, "user", "", "user name")
	f.StringVar(&dbInput.Password, "password", "", "password (prefer --ask-password)")
	f.StringVar(&dbInput.SSLMode, "ssl-mode", "", "postgres sslmode")
	f.StringVar(&dbInput.ExtraJSON, "extra", "", "driver options as a JSON object")
	f.BoolVar(&dbAskPassword, "ask-password", false, "prompt for the password")
	_ = dbAddCmd.MarkFlagRequired("name")
	_ = dbAddCmd.MarkFlagRequired("driver")

	dbQueryCmd.Flags().IntVar(&dbFetchSize, "fetch", dbclient.DefaultFetchSize, "rows fetched")

	dbCmd.AddCommand(dbAddCmd, dbListCmd, dbRemoveCmd, dbSchemaCmd, dbQueryCmd)
}
