package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"conductor/internal/ipc"
)

func newCheckpointsCommand(ctx *commandContext) *cobra.Command {
	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect and restore workflow checkpoints",
	}

	checkpointsCmd.AddCommand(newCheckpointsListCommand(ctx))
	checkpointsCmd.AddCommand(newCheckpointsRestoreCommand(ctx))

	return checkpointsCmd
}

func newCheckpointsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored checkpoints, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CheckpointList()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Checkpoints) == 0 {
					fmt.Fprintln(out, "No checkpoints")
					return nil
				}
				rows := make([][]string, 0, len(resp.Checkpoints))
				for _, cp := range resp.Checkpoints {
					rows = append(rows, []string{
						strconv.FormatInt(cp.Sequence, 10),
						humanize(cp.Reason),
						cp.CreatedAt.Local().Format(time.RFC3339),
					})
				}
				table := renderTable(
					[]string{"Sequence", "Reason", "Created"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}
}

func newCheckpointsRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <sequence>",
		Short: "Roll workflow state back to a stored checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sequence, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid checkpoint sequence %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CheckpointRestore(ipc.CheckpointRestoreRequest{Sequence: sequence})
				if err != nil {
					return err
				}
				if !resp.Restored {
					return fmt.Errorf("restore checkpoint: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}
}
