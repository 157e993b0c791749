package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conductor/internal/ipc"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var settings []string
	var gates []string

	cmd := &cobra.Command{
		Use:   "start <workflow-type>",
		Short: "Start a new workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := parseSettings(settings)
			if err != nil {
				return err
			}
			if len(gates) > 0 {
				configuration["gates"] = strings.Join(gates, ",")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowStart(ipc.WorkflowStartRequest{
					Type:          args[0],
					Configuration: configuration,
				})
				if err != nil {
					return err
				}
				if !resp.Started {
					return fmt.Errorf("start workflow: %s", resp.Message)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Started %s workflow %s\n", resp.State.WorkflowType, resp.State.WorkflowID)
				fmt.Fprintf(out, "Current phase: %s\n", humanize(resp.State.CurrentPhase))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&settings, "set", nil, "Workflow configuration as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&gates, "gate", nil, "Phase that requires approval before advancing (repeatable)")
	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <workflow-id>",
		Short: "Resume a persisted workflow from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowResume(ipc.WorkflowResumeRequest{WorkflowID: args[0]})
				if err != nil {
					return err
				}
				if !resp.Resumed {
					return fmt.Errorf("resume workflow: %s", resp.Message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed workflow %s in phase %s\n",
					resp.State.WorkflowID, humanize(resp.State.CurrentPhase))
				return nil
			})
		},
	}
}

func newAdvanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Advance the active workflow to its next phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Advance()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Advanced {
					fmt.Fprintln(out, resp.Message)
					return nil
				}
				if resp.Gate != "" {
					fmt.Fprintf(out, "Phase blocked by approval gate %q\n", resp.Gate)
					fmt.Fprintf(out, "Approve it with `conductor approve %s`\n", resp.Gate)
					return nil
				}
				if len(resp.Outstanding) > 0 {
					fmt.Fprintln(out, "Phase has outstanding work items:")
					for _, path := range resp.Outstanding {
						fmt.Fprintf(out, "  %s\n", path)
					}
					return nil
				}
				return fmt.Errorf("advance workflow: %s", resp.Message)
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel()
				if err != nil {
					return err
				}
				if !resp.Cancelled {
					return fmt.Errorf("cancel workflow: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}
}

func newApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <gate>",
		Short: "Approve an open gate so the workflow can advance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveGate(ctx, cmd, args[0], true)
		},
	}
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <gate>",
		Short: "Reject an open gate and keep the workflow in its current phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveGate(ctx, cmd, args[0], false)
		},
	}
}

func resolveGate(ctx *commandContext, cmd *cobra.Command, gate string, approved bool) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.GateResolve(ipc.GateResolveRequest{Gate: gate, Approved: approved})
		if err != nil {
			return err
		}
		if !resp.Resolved {
			return fmt.Errorf("resolve gate: %s", resp.Message)
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
		return nil
	})
}

func parseSettings(settings []string) (map[string]string, error) {
	configuration := make(map[string]string, len(settings))
	for _, setting := range settings {
		key, value, found := strings.Cut(setting, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --set value %q, expected key=value", setting)
		}
		configuration[key] = strings.TrimSpace(value)
	}
	return configuration, nil
}
