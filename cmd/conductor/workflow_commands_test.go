package main

import (
	"testing"
)

func TestWorkflowLifecycleCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"start", "new-project"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Started new-project workflow")
	requireContains(t, out, "Discovery")

	_, _, err = runCLI(t, []string{"start", "new-project"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected second start to fail while a workflow is active")
	}

	out, _, err = runCLI(t, []string{"items", "add", "docs/scope.md"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("items add: %v", err)
	}
	requireContains(t, out, "queued for phase discovery")

	out, _, err = runCLI(t, []string{"items", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("items list: %v", err)
	}
	requireContains(t, out, "docs/scope.md")

	out, _, err = runCLI(t, []string{"advance"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	requireContains(t, out, "outstanding work items")
	requireContains(t, out, "docs/scope.md")

	out, _, err = runCLI(t, []string{"items", "waive", "1", "--reason", "descoped"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("items waive: %v", err)
	}
	requireContains(t, out, "waived")

	out, _, err = runCLI(t, []string{"advance"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("advance after waive: %v", err)
	}
	requireContains(t, out, "advanced to phase research")

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Research")
	requireContains(t, out, "active")

	out, _, err = runCLI(t, []string{"checkpoints", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("checkpoints list: %v", err)
	}
	requireContains(t, out, "Phase Complete")

	out, _, err = runCLI(t, []string{"cancel"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "cancelled")
}

func TestGateCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"start", "new-project", "--gate", "discovery"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Started new-project workflow")

	out, _, err = runCLI(t, []string{"advance"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	requireContains(t, out, `approval gate "discovery"`)

	out, _, err = runCLI(t, []string{"approve", "discovery"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	requireContains(t, out, "approved")

	out, _, err = runCLI(t, []string{"advance"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("advance after approval: %v", err)
	}
	requireContains(t, out, "advanced to phase research")
}

func TestStatusWithoutWorkflow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "no workflow")
}
