package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"conductor/internal/ipc"
	"conductor/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and workflow status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderStatus(resp, colorize) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderStatus(resp *ipc.StatusResponse, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	daemonKind := statusWarn
	daemonMsg := "idle"
	if resp.Running {
		daemonKind = statusOK
		daemonMsg = fmt.Sprintf("processing (pid %d)", resp.PID)
	}
	lines = append(lines,
		renderStatusLine("Daemon", daemonKind, daemonMsg, colorize),
		renderStatusLine("Store", statusInfo, resp.StorePath, colorize),
		renderStatusLine("Pool", statusInfo,
			fmt.Sprintf("%d slot(s), %d memory unit(s) in use", resp.PoolSlots, resp.PoolMemory), colorize),
	)

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Workflow", colorize)...)
	report := resp.Report
	if report == nil || report.State == nil {
		lines = append(lines, renderStatusLine("Workflow", statusInfo, "no workflow", colorize))
		return lines
	}

	state := report.State
	lines = append(lines,
		renderStatusLine("ID", statusInfo, state.WorkflowID, colorize),
		renderStatusLine("Type", statusInfo, humanize(state.WorkflowType), colorize),
		renderStatusLine("Status", workflowStatusKind(state.Status), string(state.Status), colorize),
		renderStatusLine("Phase", statusInfo, phaseLabel(state), colorize),
		renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.1f%%", report.Progress), colorize),
	)
	if state.AwaitingApproval != "" {
		lines = append(lines, renderStatusLine("Gate", statusWarn,
			fmt.Sprintf("%s awaiting approval since %s", state.AwaitingApproval,
				state.GateOpenedAt.Local().Format(time.RFC3339)), colorize))
	}

	healthKind := statusOK
	healthMsg := "active"
	if report.Health.Stalled {
		healthKind = statusError
		healthMsg = fmt.Sprintf("stalled for %s", report.Health.StalledFor)
	}
	lines = append(lines, renderStatusLine("Health", healthKind, healthMsg, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Items", colorize)...)
	lines = append(lines, renderItemStats(report, colorize)...)
	return lines
}

func renderItemStats(report *workflow.Report, colorize bool) []string {
	stats := report.Stats
	entries := []struct {
		label string
		kind  statusKind
		count int
	}{
		{"Queued", statusInfo, stats.Queued},
		{"In flight", statusInfo, stats.InFlight},
		{"Completed", statusOK, stats.Completed},
		{"Failed", statusError, stats.Failed},
		{"Manual review", statusWarn, stats.ManualReview},
	}
	lines := make([]string, 0, len(entries)+1)
	for _, entry := range entries {
		kind := entry.kind
		if entry.count == 0 {
			kind = statusInfo
		}
		lines = append(lines, renderStatusLine(entry.label, kind, strconv.Itoa(entry.count), colorize))
	}
	lines = append(lines, renderStatusLine("Total", statusInfo, strconv.Itoa(stats.Total), colorize))
	return lines
}

func workflowStatusKind(status workflow.Status) statusKind {
	switch status {
	case workflow.StatusActive:
		return statusOK
	case workflow.StatusCompleted:
		return statusOK
	case workflow.StatusAborted:
		return statusWarn
	default:
		return statusInfo
	}
}

func phaseLabel(state *workflow.State) string {
	if state.Status == workflow.StatusCompleted {
		return fmt.Sprintf("all %d phases completed", len(state.PhasesCompleted))
	}
	if len(state.PhasesCompleted) == 0 {
		return humanize(state.CurrentPhase)
	}
	return fmt.Sprintf("%s (%d completed: %s)",
		humanize(state.CurrentPhase), len(state.PhasesCompleted),
		strings.Join(state.PhasesCompleted, ", "))
}
