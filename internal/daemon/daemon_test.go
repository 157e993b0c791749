package daemon_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"conductor/internal/config"
	"conductor/internal/coordinator"
	"conductor/internal/daemon"
	"conductor/internal/queue"
	"conductor/internal/services"
	"conductor/internal/workflow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Checkpoints.MinDiskMiB = 0
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	return &cfg
}

func openStore(t *testing.T, cfg *config.Config) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open failed: %v", err)
	}
	return store
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func noopWorker() coordinator.Worker {
	return coordinator.WorkerFunc(func(context.Context, *queue.Item, coordinator.ProgressFunc) error {
		return nil
	})
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	t.Cleanup(func() { store.Close() })

	first, err := daemon.New(cfg, store, noopWorker(), nil, nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	t.Cleanup(first.Stop)
	if !first.Running() {
		t.Fatal("expected first daemon to be running")
	}

	second, err := daemon.New(cfg, store, noopWorker(), nil, nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second daemon to be refused the instance lock")
	}

	first.Stop()
	if first.Running() {
		t.Fatal("expected first daemon to report stopped")
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("expected lock to be free after Stop: %v", err)
	}
	second.Stop()
}

func TestDaemonProcessesQueuedItems(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	t.Cleanup(func() { store.Close() })

	d, err := daemon.New(cfg, store, noopWorker(), nil, nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	state, err := d.Controller().Start(ctx, "new-project", nil)
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}
	item, err := store.Add(ctx, state.WorkflowID, queue.NewItemSpec{Path: "docs/scope.md", OwningPhase: state.CurrentPhase})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start failed: %v", err)
	}
	t.Cleanup(d.Stop)

	waitFor(t, 10*time.Second, func() bool {
		current, err := store.GetByID(ctx, item.ID)
		return err == nil && current != nil && current.Stage == queue.StageCompleted
	})
}

func TestRetryItemsRequiresActiveWorkflow(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	t.Cleanup(func() { store.Close() })

	d, err := daemon.New(cfg, store, noopWorker(), nil, nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	if _, err := d.RetryItems(context.Background(), nil); !errors.Is(err, workflow.ErrNoActiveWorkflow) {
		t.Fatalf("expected ErrNoActiveWorkflow, got %v", err)
	}
}

func TestRetryItemsRequeuesManualReview(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t, cfg)
	t.Cleanup(func() { store.Close() })

	failing := coordinator.WorkerFunc(func(_ context.Context, item *queue.Item, _ coordinator.ProgressFunc) error {
		return services.Wrap(services.ErrValidation, item.OwningPhase, "generate", "bad frontmatter", nil)
	})
	d, err := daemon.New(cfg, store, failing, nil, nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	state, err := d.Controller().Start(ctx, "new-project", nil)
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}
	item, err := store.Add(ctx, state.WorkflowID, queue.NewItemSpec{Path: "docs/scope.md", OwningPhase: state.CurrentPhase})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start failed: %v", err)
	}
	waitFor(t, 10*time.Second, func() bool {
		current, err := store.GetByID(ctx, item.ID)
		return err == nil && current != nil && current.Stage == queue.StageManualReview
	})
	d.Stop()

	updated, err := d.RetryItems(ctx, nil)
	if err != nil {
		t.Fatalf("RetryItems failed: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 requeued item, got %d", updated)
	}
	requeued, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if requeued.Stage != queue.StageQueued || requeued.RetryCount != 0 {
		t.Fatalf("expected clean requeue, got stage=%s retries=%d", requeued.Stage, requeued.RetryCount)
	}
}
