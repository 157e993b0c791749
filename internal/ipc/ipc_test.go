package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conductor/internal/config"
	"conductor/internal/coordinator"
	"conductor/internal/daemon"
	"conductor/internal/ipc"
	"conductor/internal/logging"
	"conductor/internal/queue"
	"conductor/internal/workflow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SocketPath = filepath.Join(base, "conductord.sock")
	cfg.Checkpoints.MinDiskMiB = 0
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	return &cfg
}

func TestIPCServerClient(t *testing.T) {
	cfg := testConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	worker := coordinator.WorkerFunc(func(context.Context, *queue.Item, coordinator.ProgressFunc) error {
		return nil
	})
	d, err := daemon.New(cfg, store, worker, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer failed: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to be idle before Start")
	}
	if status.Report == nil || status.Report.State != nil {
		t.Fatal("expected empty workflow report before start")
	}

	startResp, err := client.WorkflowStart(ipc.WorkflowStartRequest{Type: "new-project"})
	if err != nil {
		t.Fatalf("WorkflowStart RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected workflow to start, message=%s", startResp.Message)
	}
	if startResp.State.CurrentPhase != "discovery" {
		t.Fatalf("expected discovery phase, got %s", startResp.State.CurrentPhase)
	}

	dupResp, err := client.WorkflowStart(ipc.WorkflowStartRequest{Type: "new-project"})
	if err != nil {
		t.Fatalf("duplicate WorkflowStart RPC failed: %v", err)
	}
	if dupResp.Started {
		t.Fatal("expected second start to be rejected while a workflow is active")
	}

	addResp, err := client.ItemAdd(ipc.ItemAddRequest{Path: "docs/scope.md"})
	if err != nil {
		t.Fatalf("ItemAdd RPC failed: %v", err)
	}
	if !addResp.Added || addResp.Item == nil {
		t.Fatalf("expected item to be added, message=%s", addResp.Message)
	}
	if addResp.Item.OwningPhase != "discovery" {
		t.Fatalf("expected item to default to the current phase, got %s", addResp.Item.OwningPhase)
	}

	listResp, err := client.ItemList(ipc.ItemListRequest{})
	if err != nil {
		t.Fatalf("ItemList RPC failed: %v", err)
	}
	if len(listResp.Items) != 1 || listResp.Items[0].Path != "docs/scope.md" {
		t.Fatalf("unexpected item list: %+v", listResp.Items)
	}

	advResp, err := client.Advance()
	if err != nil {
		t.Fatalf("Advance RPC failed: %v", err)
	}
	if advResp.Advanced {
		t.Fatal("expected advance to be blocked by the outstanding item")
	}
	if len(advResp.Outstanding) != 1 || advResp.Outstanding[0] != "docs/scope.md" {
		t.Fatalf("unexpected outstanding paths: %v", advResp.Outstanding)
	}

	waiveResp, err := client.ItemWaive(ipc.ItemWaiveRequest{ID: addResp.Item.ID, Reason: "descoped"})
	if err != nil {
		t.Fatalf("ItemWaive RPC failed: %v", err)
	}
	if !waiveResp.Waived {
		t.Fatalf("expected waive to succeed, message=%s", waiveResp.Message)
	}

	advResp, err = client.Advance()
	if err != nil {
		t.Fatalf("Advance RPC failed: %v", err)
	}
	if !advResp.Advanced {
		t.Fatalf("expected advance after waiving, message=%s", advResp.Message)
	}
	if advResp.State.CurrentPhase != "research" {
		t.Fatalf("expected research phase, got %s", advResp.State.CurrentPhase)
	}

	cpResp, err := client.CheckpointList()
	if err != nil {
		t.Fatalf("CheckpointList RPC failed: %v", err)
	}
	if len(cpResp.Checkpoints) == 0 {
		t.Fatal("expected a checkpoint after the phase transition")
	}

	auditResp, err := client.AuditTrail(ipc.AuditTrailRequest{})
	if err != nil {
		t.Fatalf("AuditTrail RPC failed: %v", err)
	}
	for _, entry := range auditResp.Entries {
		if entry.WorkflowID != startResp.State.WorkflowID {
			t.Fatalf("audit entry for wrong workflow: %+v", entry)
		}
	}

	cancelResp, err := client.Cancel()
	if err != nil {
		t.Fatalf("Cancel RPC failed: %v", err)
	}
	if !cancelResp.Cancelled {
		t.Fatalf("expected cancel to succeed, message=%s", cancelResp.Message)
	}
	if state := d.Controller().Current(); state == nil || state.Status != workflow.StatusAborted {
		t.Fatal("expected workflow to be aborted after cancel")
	}
}

func TestIPCGateReportedOnAdvance(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gates.TimeoutsMinutes = map[string]int{"research": 60}
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	worker := coordinator.WorkerFunc(func(context.Context, *queue.Item, coordinator.ProgressFunc) error {
		return nil
	})
	d, err := daemon.New(cfg, store, worker, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer failed: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if _, err := client.WorkflowStart(ipc.WorkflowStartRequest{Type: "new-project"}); err != nil {
		t.Fatalf("WorkflowStart RPC failed: %v", err)
	}
	if _, err := client.Advance(); err != nil {
		t.Fatalf("Advance RPC failed: %v", err)
	}

	// The research phase is gated, so completing it opens the gate.
	advResp, err := client.Advance()
	if err != nil {
		t.Fatalf("Advance RPC failed: %v", err)
	}
	if advResp.Advanced {
		t.Fatal("expected advance to block on the approval gate")
	}
	if advResp.Gate != "research" {
		t.Fatalf("expected research gate, got %q", advResp.Gate)
	}

	gateResp, err := client.GateResolve(ipc.GateResolveRequest{Gate: "research", Approved: true})
	if err != nil {
		t.Fatalf("GateResolve RPC failed: %v", err)
	}
	if !gateResp.Resolved {
		t.Fatalf("expected gate approval to succeed, message=%s", gateResp.Message)
	}

	advResp, err = client.Advance()
	if err != nil {
		t.Fatalf("Advance RPC failed: %v", err)
	}
	if !advResp.Advanced || advResp.State.CurrentPhase != "planning" {
		t.Fatalf("expected planning phase after approval, got %+v", advResp)
	}
}
