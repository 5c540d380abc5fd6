package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"backoffice/internal/app"
	"backoffice/internal/config"
	"backoffice/internal/storage"
)

var (
	approvalsWatch bool
	configForce    bool
)

var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Run the MCP server on stdin/stdout",
	Long: `Run the MCP server on stdin/stdout so AI agents can browse datasets,
drive grids and run imports. Destructive tools (deleting rows, write
queries, replacing imports) wait until a human runs
'backoffice approve <id>' or 'backoffice reject <id>'.

Logs go to stderr; stdout carries the protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.ServeMCP(ctx)
		})
	},
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List agent actions waiting for approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if approvalsWatch {
				return watchApprovals(ctx, cmd, a)
			}
			pending, err := a.Approvals.ListPending()
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), pending)
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending approvals")
				return nil
			}
			rows := make([][]string, 0, len(pending))
			for _, p := range pending {
				rows = append(rows, []string{p.ID, p.Tool, p.Description, humanize.Time(p.CreatedAt)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Tool", "Action", "Requested"}, rows))
			return nil
		})
	},
}

func watchApprovals(ctx context.Context, cmd *cobra.Command, a *app.App) error {
	out := cmd.OutOrStdout()
	w := app.NewApprovalWatcher(a.Approvals, 0, func(p storage.Approval) {
		if jsonOut {
			_ = printJSON(out, p)
			return
		}
		fmt.Fprintf(out, "%s  %s: %s\n", p.ID, p.Tool, p.Description)
	}, a.Logger)
	w.Start(ctx)
	defer w.Stop()
	fmt.Fprintln(cmd.ErrOrStderr(), "Watching for approvals (Ctrl-C to stop)")
	<-ctx.Done()
	return nil
}

var approveCmd = &cobra.Command{
	Use:   "approve [id]",
	Short: "Approve a pending agent action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject [id]",
	Short: "Reject a pending agent action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], false)
	},
}

func resolveApproval(cmd *cobra.Command, id string, approved bool) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Approvals.Resolve(id, approved); err != nil {
			return err
		}
		verb := "Rejected"
		if approved {
			verb = "Approved"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, id)
		return nil
	})
}

// configCmd shows and initializes the config file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), cfg)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", cfgPath, data)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
		}
		if err := config.DefaultConfig().Save(cfgPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgPath)
		return nil
	},
}

func init() {
	approvalsCmd.Flags().BoolVar(&approvalsWatch, "watch", false, "keep printing new approvals")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
}
