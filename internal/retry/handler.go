package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conductor/internal/config"
	"conductor/internal/events"
	"conductor/internal/logging"
	"conductor/internal/queue"
	"conductor/internal/services"
)

// Action describes what the coordinator should do with a failed item.
type Action string

const (
	// ActionRetry requeues the item after the decision's delay.
	ActionRetry Action = "retry"
	// ActionManualReview routes the item to manual review; the workflow
	// continues with its remaining items.
	ActionManualReview Action = "manual-review"
)

// Decision is the recovery handler's verdict on a single failure.
type Decision struct {
	Action  Action
	Class   services.Class
	Delay   time.Duration
	Attempt int
	Reason  string
}

// Handler classifies work item failures and applies the per-class retry
// policy. Every decision and resulting stage transition is recorded in the
// append-only audit trail.
type Handler struct {
	cfg      config.Retry
	store    *queue.Store
	logger   *slog.Logger
	notifier events.Service

	transient  Strategy
	permission Strategy
}

// NewHandler constructs a recovery handler from configuration.
func NewHandler(cfg config.Retry, store *queue.Store, logger *slog.Logger, notifier events.Service) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	base := time.Duration(cfg.TransientBackoffBaseMS) * time.Millisecond
	return &Handler{
		cfg:        cfg,
		store:      store,
		logger:     logging.NewComponentLogger(logger, "retry-handler"),
		notifier:   notifier,
		transient:  NewExponential(base, 4, time.Minute),
		permission: NewConstant(time.Duration(cfg.PermissionDelaySeconds) * time.Second),
	}
}

// HandleFailure classifies the worker error, persists the item's failure or
// manual-review transition, records the decision in the audit trail, and
// returns what the coordinator should do next.
func (h *Handler) HandleFailure(ctx context.Context, item *queue.Item, workerErr error) (Decision, error) {
	if item == nil {
		return Decision{}, errors.New("item is nil")
	}

	class := services.Classify(workerErr)
	fromStage := item.Stage
	message := ""
	if workerErr != nil {
		message = workerErr.Error()
	}

	decision := h.decide(class, item.RetryCount)
	logger := logging.WithContext(ctx, h.logger)

	switch decision.Action {
	case ActionManualReview:
		item.SetFailed(string(class), message)
		item.SetManualReview(decision.Reason)
		if err := h.store.Update(ctx, item); err != nil {
			return Decision{}, fmt.Errorf("persist manual review: %w", err)
		}
		h.audit(ctx, item, decision, fromStage, queue.StageManualReview, message)
		h.notifyManualReview(ctx, item, decision.Reason)
		logger.Warn("item routed to manual review",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String("error_class", string(class)),
			logging.String("reason", decision.Reason),
			logging.String(logging.FieldEventType, "item_manual_review"),
		)
	case ActionRetry:
		item.SetFailed(string(class), message)
		if err := h.store.Update(ctx, item); err != nil {
			return Decision{}, fmt.Errorf("persist failure: %w", err)
		}
		h.audit(ctx, item, decision, fromStage, queue.StageFailed, message)
		logger.Info("item scheduled for retry",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String("error_class", string(class)),
			logging.Int("attempt", decision.Attempt),
			logging.Duration("delay", decision.Delay),
			logging.String(logging.FieldEventType, "item_retry"),
		)
	}

	return decision, nil
}

// Requeue returns a failed item to the queued stage after its retry delay has
// elapsed, bumping the retry count.
func (h *Handler) Requeue(ctx context.Context, item *queue.Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	fromStage := item.Stage
	item.Stage = queue.StageQueued
	item.RetryCount++
	item.SetProgress("Requeued for retry", 0)
	if err := h.store.Update(ctx, item); err != nil {
		return fmt.Errorf("persist requeue: %w", err)
	}
	h.audit(ctx, item, Decision{Action: ActionRetry, Class: services.Class(item.LastErrorClass), Attempt: item.RetryCount}, fromStage, queue.StageQueued, "requeued")
	return nil
}

// decide applies the per-class policy given how many retries already ran.
func (h *Handler) decide(class services.Class, retryCount int) Decision {
	attempt := retryCount + 1
	switch class {
	case services.ClassPermanent:
		return Decision{
			Action: ActionManualReview,
			Class:  class,
			Reason: "permanent failure: not retryable",
		}
	case services.ClassPermission:
		if attempt > h.cfg.PermissionMaxAttempts {
			return Decision{
				Action: ActionManualReview,
				Class:  class,
				Reason: fmt.Sprintf("permission failure persisted after %d attempts", h.cfg.PermissionMaxAttempts),
			}
		}
		return Decision{
			Action:  ActionRetry,
			Class:   class,
			Delay:   h.permission.Delay(attempt),
			Attempt: attempt,
		}
	default:
		if attempt > h.cfg.TransientMaxAttempts {
			return Decision{
				Action: ActionManualReview,
				Class:  class,
				Reason: fmt.Sprintf("transient failure persisted after %d attempts", h.cfg.TransientMaxAttempts),
			}
		}
		return Decision{
			Action:  ActionRetry,
			Class:   class,
			Delay:   h.transient.Delay(attempt),
			Attempt: attempt,
		}
	}
}

func (h *Handler) audit(ctx context.Context, item *queue.Item, decision Decision, from, to queue.Stage, detail string) {
	entry := queue.AuditEntry{
		WorkflowID: item.WorkflowID,
		ItemID:     item.ID,
		Decision:   string(decision.Action),
		ErrorClass: string(decision.Class),
		FromStage:  from,
		ToStage:    to,
		Detail:     detail,
	}
	if err := h.store.AppendAudit(ctx, entry); err != nil {
		h.logger.Error("failed to append audit entry",
			logging.Error(err),
			logging.Int64(logging.FieldItemID, item.ID),
		)
	}
}

func (h *Handler) notifyManualReview(ctx context.Context, item *queue.Item, reason string) {
	if h.notifier == nil {
		return
	}
	err := h.notifier.Publish(ctx, events.EventItemManualReview, events.Payload{
		"workflowID": item.WorkflowID,
		"path":       item.Path,
		"reason":     reason,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("manual review notification failed", logging.Error(err))
	}
}
