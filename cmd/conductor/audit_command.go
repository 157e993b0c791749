package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"conductor/internal/ipc"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var itemID int64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the recovery audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AuditTrail(ipc.AuditTrailRequest{ItemID: itemID})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Entries)
				}
				out := cmd.OutOrStdout()
				if len(resp.Entries) == 0 {
					fmt.Fprintln(out, "No audit entries")
					return nil
				}
				rows := make([][]string, 0, len(resp.Entries))
				for _, entry := range resp.Entries {
					rows = append(rows, []string{
						strconv.FormatInt(entry.ItemID, 10),
						humanize(entry.Decision),
						entry.ErrorClass,
						transitionLabel(entry.FromStage, entry.ToStage),
						entry.Detail,
						entry.CreatedAt.Local().Format(time.RFC3339),
					})
				}
				table := renderTable(
					[]string{"Item", "Decision", "Class", "Transition", "Detail", "Recorded"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&itemID, "item", 0, "Limit the trail to one item ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func transitionLabel(from, to string) string {
	if from == "" && to == "" {
		return "-"
	}
	return fmt.Sprintf("%s > %s", from, to)
}
