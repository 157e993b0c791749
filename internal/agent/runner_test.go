package agent

import (
	"context"
	"errors"
	"testing"

	"conductor/internal/config"
	"conductor/internal/queue"
	"conductor/internal/services"
)

func testRunner(t *testing.T, script string, timeoutSeconds int) *Runner {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.WorkspaceDir = t.TempDir()
	cfg.Agent.Command = "sh"
	cfg.Agent.Args = []string{"-c", script}
	cfg.Agent.TimeoutSeconds = timeoutSeconds
	return NewRunner(&cfg, nil)
}

func testItem() *queue.Item {
	return &queue.Item{
		ID:          7,
		WorkflowID:  "wf-1",
		Path:        "docs/a.md",
		OwningPhase: "discovery",
		Stage:       queue.StageValidating,
	}
}

func TestExecuteStreamsProgress(t *testing.T) {
	script := `
echo '{"stage":"creating","percent":40,"message":"Creating"}'
echo 'plain log line'
echo '{"stage":"writing","percent":60,"message":"Writing"}'
echo '{"stage":"verifying","percent":80,"message":"Verifying"}'
`
	runner := testRunner(t, script, 0)

	var stages []queue.Stage
	err := runner.Execute(context.Background(), testItem(), func(stage queue.Stage, percent float64, message string) {
		stages = append(stages, stage)
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := []queue.Stage{queue.StageCreating, queue.StageWriting, queue.StageVerifying}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i, stage := range want {
		if stages[i] != stage {
			t.Fatalf("stage %d = %s, want %s", i, stages[i], stage)
		}
	}
}

func TestExecuteClassifiesExitCodes(t *testing.T) {
	cases := []struct {
		name   string
		script string
		class  services.Class
	}{
		{"usage exit is permanent", "exit 64", services.ClassPermanent},
		{"noperm exit is permission", "exit 77", services.ClassPermission},
		{"other exits are transient", "exit 1", services.ClassTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := testRunner(t, tc.script, 0)
			err := runner.Execute(context.Background(), testItem(), nil)
			if err == nil {
				t.Fatal("expected failure")
			}
			if got := services.Classify(err); got != tc.class {
				t.Fatalf("class = %s, want %s", got, tc.class)
			}
		})
	}
}

func TestExecuteTimesOut(t *testing.T) {
	runner := testRunner(t, "sleep 5", 1)
	err := runner.Execute(context.Background(), testItem(), nil)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("Execute = %v, want timeout", err)
	}
	if services.Classify(err) != services.ClassTransient {
		t.Fatalf("timeout classified as %s", services.Classify(err))
	}
}

func TestExecuteRequiresConfiguredCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Command = ""
	runner := NewRunner(&cfg, nil)
	err := runner.Execute(context.Background(), testItem(), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("Execute = %v, want validation error", err)
	}
}
