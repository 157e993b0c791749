package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conductor/internal/ipc"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	itemsCmd := &cobra.Command{
		Use:   "items",
		Short: "Inspect and manage workflow work items",
	}

	itemsCmd.AddCommand(newItemsListCommand(ctx))
	itemsCmd.AddCommand(newItemsAddCommand(ctx))
	itemsCmd.AddCommand(newItemsRetryCommand(ctx))
	itemsCmd.AddCommand(newItemsWaiveCommand(ctx))

	return itemsCmd
}

func newItemsListCommand(ctx *commandContext) *cobra.Command {
	var stages []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items for the active workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ItemList(ipc.ItemListRequest{Stages: stages})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Items)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No work items")
					return nil
				}
				rows := make([][]string, 0, len(resp.Items))
				for _, item := range resp.Items {
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						item.Path,
						humanize(item.OwningPhase),
						humanize(item.Stage),
						fmt.Sprintf("%.0f%%", item.ProgressPercent),
						strconv.Itoa(item.RetryCount),
						yesNo(item.Waived),
					})
				}
				table := renderTable(
					[]string{"ID", "Path", "Phase", "Stage", "Progress", "Retries", "Waived"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Filter by stage (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newItemsAddCommand(ctx *commandContext) *cobra.Command {
	var phase string
	var dependsOn []int64
	var memoryUnits int64

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Queue a work item for the active workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ItemAdd(ipc.ItemAddRequest{
					Path:        args[0],
					Phase:       phase,
					DependsOn:   dependsOn,
					MemoryUnits: memoryUnits,
				})
				if err != nil {
					return err
				}
				if !resp.Added {
					return fmt.Errorf("add item: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&phase, "phase", "", "Owning phase (defaults to the current phase)")
	cmd.Flags().Int64SliceVar(&dependsOn, "depends-on", nil, "Item IDs this item depends on (repeatable)")
	cmd.Flags().Int64Var(&memoryUnits, "memory-units", 1, "Memory units the item consumes while executing")
	return cmd
}

func newItemsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Requeue failed or manual-review items",
		Long: strings.TrimSpace(`
Requeue failed or manual-review items for another attempt. With no arguments
every failed and manual-review item in the active workflow is requeued. A
checkpoint is written before anything changes.
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid item id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ItemRetry(ipc.ItemRetryRequest{IDs: ids})
				if err != nil {
					return err
				}
				if resp.Message != "" && resp.Updated == 0 {
					return fmt.Errorf("retry items: %s", resp.Message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d item(s)\n", resp.Updated)
				return nil
			})
		},
	}
}

func newItemsWaiveCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "waive <id>",
		Short: "Mark an item as intentionally skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ItemWaive(ipc.ItemWaiveRequest{ID: id, Reason: reason})
				if err != nil {
					return err
				}
				if !resp.Waived {
					return fmt.Errorf("waive item: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the item is being skipped")
	return cmd
}
