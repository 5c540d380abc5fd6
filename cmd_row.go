package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"backoffice/internal/app"
	"backoffice/internal/service"
)

// rowCmd edits single dataset rows
var rowCmd = &cobra.Command{
	Use:   "row",
	Short: "Edit, patch, duplicate and delete dataset rows",
}

var rowEditCmd = &cobra.Command{
	Use:   "edit [rowId]",
	Short: "Open a row as JSON in $EDITOR",
	Long: `Open a row as JSON in $EDITOR. Every save is reported as it happens;
the row is stored when the editor exits, and only if the file still holds
a JSON object that differs from the original.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := &service.RowEditOptions{
			Command: cfg.Editor.Command,
			Args:    cfg.Editor.Args,
			Output:  os.Stdout,
			TempDir: filepath.Join(cfg.DataDir, "edit"),
		}

		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			if cols, rows, err := term.GetSize(fd); err == nil {
				opts.Cols, opts.Rows = uint16(cols), uint16(rows)
			}
			state, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("raw terminal: %w", err)
			}
			defer term.Restore(fd, state)
			opts.Input = os.Stdin
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(app.Options{RowEdit: opts})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.RowEdit.EditRow(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.Changed {
			fmt.Fprintf(cmd.OutOrStdout(), "\r\nSaved row %s\r\n", res.Row.ID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "\r\nRow %s unchanged\r\n", res.Row.ID)
		}
		return nil
	},
}

var rowPatchCmd = &cobra.Command{
	Use:     "patch [rowId] [json]",
	Short:   "Merge a JSON object into a row",
	Example: `  backoffice row patch 6f1c… '{"balance": 0, "active": false}'`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch map[string]any
		if err := json.Unmarshal([]byte(args[1]), &patch); err != nil {
			return fmt.Errorf("parse patch: %w", err)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			row, err := a.Datasets.PatchRow(ctx, args[0], patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		})
	},
}

var rowDuplicateCmd = &cobra.Command{
	Use:   "duplicate [rowId]",
	Short: "Copy a row to the end of its dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			row, err := a.Datasets.DuplicateRow(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), row)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Duplicated as %s\n", row.ID)
			return nil
		})
	},
}

var rowDeleteCmd = &cobra.Command{
	Use:   "delete [rowId]",
	Short: "Delete a row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Datasets.DeleteRow(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted row %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rowCmd.AddCommand(rowEditCmd, rowPatchCmd, rowDuplicateCmd, rowDeleteCmd)
}
