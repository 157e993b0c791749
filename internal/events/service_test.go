package events_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"conductor/internal/config"
	"conductor/internal/events"
)

func TestNewServiceReturnsNoopWhenWebhookMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.WebhookURL = ""
	svc := events.NewService(&cfg)
	if err := svc.Publish(context.Background(), events.EventPhaseCompleted, events.Payload{"phase": "discovery"}); err != nil {
		t.Fatalf("expected noop sink to return nil, got %v", err)
	}
}

func TestWebhookServiceFormatsMessages(t *testing.T) {
	tests := []struct {
		name           string
		event          events.Event
		payload        events.Payload
		expectTitle    string
		expectBody     string
		expectTags     string
		expectPriority string
	}{
		{
			name:        "workflow started",
			event:       events.EventWorkflowStarted,
			payload:     events.Payload{"workflowID": "wf-1", "type": "new-project"},
			expectTitle: "Conductor - Workflow Started",
			expectBody:  "Workflow wf-1 started (new-project)",
			expectTags:  "conductor,workflow,started",
		},
		{
			name:        "phase completed",
			event:       events.EventPhaseCompleted,
			payload:     events.Payload{"workflowID": "wf-1", "phase": "discovery"},
			expectTitle: "Conductor - Phase Complete",
			expectBody:  "Phase discovery completed",
			expectTags:  "conductor,phase,completed",
		},
		{
			name:        "gate opened",
			event:       events.EventGateOpened,
			payload:     events.Payload{"gate": "plan-approval", "phase": "planning"},
			expectTitle: "Conductor - Approval Needed",
			expectBody:  "Gate plan-approval awaits approval before planning can advance",
			expectTags:  "conductor,gate,opened",
		},
		{
			name:           "stuck state",
			event:          events.EventStuckState,
			payload:        events.Payload{"phase": "research", "elapsed": "22m0s", "progress": "40.0"},
			expectTitle:    "Conductor - Stuck Workflow",
			expectBody:     "No progress in phase research for 22m0s (40.0% done)",
			expectTags:     "conductor,stuck,alert",
			expectPriority: "high",
		},
		{
			name:        "checkpoint created",
			event:       events.EventCheckpointCreated,
			payload:     events.Payload{"sequence": "7", "reason": "phase-complete"},
			expectTitle: "Conductor - Checkpoint",
			expectBody:  "Checkpoint 7 created (phase-complete)",
			expectTags:  "conductor,checkpoint",
		},
		{
			name:           "item failed",
			event:          events.EventItemFailed,
			payload:        events.Payload{"path": "docs/a.md", "error": "worker exited"},
			expectTitle:    "Conductor - Item Failed",
			expectBody:     "Item docs/a.md failed: worker exited",
			expectTags:     "conductor,item,failed",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
			}))
			t.Cleanup(server.Close)

			cfg := config.Default()
			cfg.Notifications.WebhookURL = server.URL
			svc := events.NewService(&cfg)

			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
			if captured.title != tc.expectTitle {
				t.Fatalf("title = %q, want %q", captured.title, tc.expectTitle)
			}
			if captured.body != tc.expectBody {
				t.Fatalf("body = %q, want %q", captured.body, tc.expectBody)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("tags = %q, want %q", captured.tags, tc.expectTags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("priority = %q, want %q", captured.priority, tc.expectPriority)
			}
		})
	}
}

func TestWebhookServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.WebhookURL = server.URL
	svc := events.NewService(&cfg)

	if err := svc.Publish(context.Background(), events.EventPhaseStarted, events.Payload{"phase": "discovery"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
