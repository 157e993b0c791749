package events

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conductor/internal/config"
)

const userAgent = "Conductor/0.1.0"

// Service defines the notification surface exposed to workflow components.
// Delivery is best-effort: callers log publish failures and move on, they
// never propagate them as workflow errors.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by a webhook when
// configured. When no webhook URL is configured, a noop implementation is
// returned.
func NewService(cfg *config.Config) Service {
	url := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if url == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		endpoint: url,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type webhookService struct {
	endpoint string
	client   *http.Client
}

func (w *webhookService) Publish(ctx context.Context, event Event, payload Payload) error {
	return w.send(ctx, renderMessage(event, payload))
}

func renderMessage(event Event, payload Payload) message {
	workflowID := payload.stringValue("workflowID")
	phase := payload.stringValue("phase")
	switch event {
	case EventWorkflowStarted:
		return message{
			title: "Conductor - Workflow Started",
			body:  fmt.Sprintf("Workflow %s started (%s)", workflowID, payload.stringValue("type")),
			tags:  []string{"conductor", "workflow", "started"},
		}
	case EventWorkflowCompleted:
		return message{
			title:    "Conductor - Workflow Complete",
			body:     fmt.Sprintf("Workflow %s completed all phases", workflowID),
			tags:     []string{"conductor", "workflow", "completed"},
			priority: "high",
		}
	case EventWorkflowCancelled:
		return message{
			title: "Conductor - Workflow Cancelled",
			body:  fmt.Sprintf("Workflow %s cancelled in phase %s", workflowID, phase),
			tags:  []string{"conductor", "workflow", "cancelled"},
		}
	case EventPhaseStarted:
		return message{
			title: "Conductor - Phase Started",
			body:  fmt.Sprintf("Phase %s started", phase),
			tags:  []string{"conductor", "phase", "started"},
		}
	case EventPhaseCompleted:
		return message{
			title: "Conductor - Phase Complete",
			body:  fmt.Sprintf("Phase %s completed", phase),
			tags:  []string{"conductor", "phase", "completed"},
		}
	case EventGateOpened:
		return message{
			title: "Conductor - Approval Needed",
			body:  fmt.Sprintf("Gate %s awaits approval before %s can advance", payload.stringValue("gate"), phase),
			tags:  []string{"conductor", "gate", "opened"},
		}
	case EventGateResolved:
		return message{
			title: "Conductor - Gate Resolved",
			body:  fmt.Sprintf("Gate %s resolved: %s", payload.stringValue("gate"), payload.stringValue("outcome")),
			tags:  []string{"conductor", "gate", "resolved"},
		}
	case EventGateTimeout:
		return message{
			title: "Conductor - Gate Timed Out",
			body:  fmt.Sprintf("Gate %s timed out and will re-prompt", payload.stringValue("gate")),
			tags:  []string{"conductor", "gate", "timeout"},
		}
	case EventStuckState:
		return message{
			title:    "Conductor - Stuck Workflow",
			body:     fmt.Sprintf("No progress in phase %s for %s (%s%% done)", phase, payload.stringValue("elapsed"), payload.stringValue("progress")),
			tags:     []string{"conductor", "stuck", "alert"},
			priority: "high",
		}
	case EventNoProgress:
		return message{
			title: "Conductor - No Progress",
			body:  fmt.Sprintf("Phase %s has no completed items after its grace period", phase),
			tags:  []string{"conductor", "stuck", "no-progress"},
		}
	case EventItemFailed:
		return message{
			title:    "Conductor - Item Failed",
			body:     fmt.Sprintf("Item %s failed: %s", payload.stringValue("path"), payload.stringValue("error")),
			tags:     []string{"conductor", "item", "failed"},
			priority: "high",
		}
	case EventItemManualReview:
		return message{
			title:    "Conductor - Manual Review",
			body:     fmt.Sprintf("Item %s needs manual review: %s", payload.stringValue("path"), payload.stringValue("reason")),
			tags:     []string{"conductor", "item", "review"},
			priority: "high",
		}
	case EventCheckpointCreated:
		return message{
			title: "Conductor - Checkpoint",
			body:  fmt.Sprintf("Checkpoint %s created (%s)", payload.stringValue("sequence"), payload.stringValue("reason")),
			tags:  []string{"conductor", "checkpoint"},
		}
	default:
		return message{
			title: "Conductor - Event",
			body:  string(event),
			tags:  []string{"conductor"},
		}
	}
}

func (w *webhookService) send(ctx context.Context, data message) error {
	if w == nil || w.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// NewNoop returns a sink that discards every event. Used when callers need a
// non-nil Service without a configured transport.
func NewNoop() Service {
	return noopService{}
}

type noopService struct{}

// Publish implements Service as a no-op.
func (noopService) Publish(context.Context, Event, Payload) error { return nil }
