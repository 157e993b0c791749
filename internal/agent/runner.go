package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"conductor/internal/config"
	"conductor/internal/coordinator"
	"conductor/internal/logging"
	"conductor/internal/queue"
	"conductor/internal/services"
)

var commandContext = exec.CommandContext

// Exit codes the agent command uses to classify its own failures, following
// sysexits conventions. Anything else is treated as transient.
const (
	exitUsage  = 64
	exitNoPerm = 77
)

// Runner executes the configured external agent command once per work item.
// Item metadata travels in the environment; the agent streams JSON progress
// lines on stdout:
//
//	{"stage":"writing","percent":60,"message":"Drafting sections"}
//
// Non-JSON output is passed through to the debug log.
type Runner struct {
	cfg       config.Agent
	workspace string
	logger    *slog.Logger
}

// NewRunner builds a runner from the agent configuration.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		cfg:       cfg.Agent,
		workspace: cfg.Paths.WorkspaceDir,
		logger:    logging.NewComponentLogger(logger, "agent"),
	}
}

// Execute implements coordinator.Worker.
func (r *Runner) Execute(ctx context.Context, item *queue.Item, report coordinator.ProgressFunc) error {
	if r.cfg.Command == "" {
		return services.Wrap(services.ErrValidation, item.OwningPhase, "agent", "no agent command configured", nil)
	}
	runCtx := ctx
	if r.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := commandContext(runCtx, r.cfg.Command, r.cfg.Args...) //nolint:gosec
	cmd.Dir = r.workspace
	cmd.Env = append(os.Environ(),
		"CONDUCTOR_WORKFLOW_ID="+item.WorkflowID,
		"CONDUCTOR_ITEM_ID="+strconv.FormatInt(item.ID, 10),
		"CONDUCTOR_ITEM_PATH="+item.Path,
		"CONDUCTOR_PHASE="+item.OwningPhase,
		"CONDUCTOR_RETRY_COUNT="+strconv.Itoa(item.RetryCount),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrTransient, item.OwningPhase, "agent", "start agent command", err)
	}

	logger := logging.WithContext(ctx, r.logger)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		var payload struct {
			Stage   string  `json:"stage"`
			Percent float64 `json:"percent"`
			Message string  `json:"message"`
		}
		if err := json.Unmarshal(line, &payload); err != nil || payload.Stage == "" {
			logger.Debug("agent output", logging.String("line", string(line)))
			continue
		}
		stage, ok := queue.ParseStage(payload.Stage)
		if !ok {
			logger.Debug("agent reported unknown stage", logging.String("stage", payload.Stage))
			continue
		}
		if report != nil {
			report(stage, payload.Percent, payload.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("agent output truncated", logging.Error(err))
	}

	waitErr := cmd.Wait()
	if waitErr == nil {
		return nil
	}
	if runCtx.Err() != nil && ctx.Err() == nil {
		return services.Wrap(services.ErrTimeout, item.OwningPhase, "agent",
			fmt.Sprintf("agent exceeded %ds timeout", r.cfg.TimeoutSeconds), waitErr)
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		switch exitErr.ExitCode() {
		case exitUsage:
			return services.Wrap(services.ErrValidation, item.OwningPhase, "agent", "agent rejected the item", waitErr)
		case exitNoPerm:
			return services.Wrap(services.ErrPermission, item.OwningPhase, "agent", "agent lacks access to the target", waitErr)
		}
	}
	return services.Wrap(services.ErrTransient, item.OwningPhase, "agent", "agent command failed", waitErr)
}

var _ coordinator.Worker = (*Runner)(nil)
