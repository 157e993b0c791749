package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"conductor/internal/checkpoint"
	"conductor/internal/config"
	"conductor/internal/events"
	"conductor/internal/queue"
)

type recorder struct {
	mu     sync.Mutex
	seen   []events.Event
	fields []events.Payload
}

func (r *recorder) Publish(_ context.Context, event events.Event, payload events.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, event)
	r.fields = append(r.fields, payload)
	return nil
}

func (r *recorder) count(event events.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, seen := range r.seen {
		if seen == event {
			total++
		}
	}
	return total
}

func (r *recorder) payloadFor(event events.Event) events.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, seen := range r.seen {
		if seen == event {
			return r.fields[i]
		}
	}
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Checkpoints.MinDiskMiB = 0
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	return &cfg
}

type fixture struct {
	cfg         *config.Config
	store       *queue.Store
	checkpoints *checkpoint.Manager
	controller  *Controller
	notifier    *recorder
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager, err := checkpoint.NewManager(cfg, nil, nil)
	if err != nil {
		t.Fatalf("checkpoint.NewManager failed: %v", err)
	}
	notifier := &recorder{}
	controller, err := NewController(cfg, store, manager, nil, notifier)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return &fixture{cfg: cfg, store: store, checkpoints: manager, controller: controller, notifier: notifier}
}

func completeItem(t *testing.T, store *queue.Store, item *queue.Item) {
	t.Helper()
	ctx := context.Background()
	for _, stage := range []queue.Stage{queue.StageValidating, queue.StageCreating, queue.StageWriting, queue.StageVerifying, queue.StageCompleted} {
		item.Stage = stage
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("Update to %s failed: %v", stage, err)
		}
	}
}

func TestStartInitialisesFirstPhase(t *testing.T) {
	fx := newFixture(t, testConfig(t))
	state, err := fx.controller.Start(context.Background(), "new-project", map[string]string{"project": "demo"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if state.CurrentPhase != "discovery" || state.PhaseIndex != 0 {
		t.Fatalf("unexpected initial phase: %s/%d", state.CurrentPhase, state.PhaseIndex)
	}
	if err := state.Validate(fx.controller.sequences); err != nil {
		t.Fatalf("initial state invalid: %v", err)
	}
	if fx.notifier.count(events.EventWorkflowStarted) != 1 || fx.notifier.count(events.EventPhaseStarted) != 1 {
		t.Fatalf("unexpected events: %v", fx.notifier.seen)
	}
}

func TestStartRejectsSecondWorkflow(t *testing.T) {
	fx := newFixture(t, testConfig(t))
	ctx := context.Background()
	if _, err := fx.controller.Start(ctx, "new-project", nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := fx.controller.Start(ctx, "existing-project", nil); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start = %v, want ErrAlreadyActive", err)
	}
}

func TestStartValidatesConfiguration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.RequiredKeys = []string{"project", "owner"}
	fx := newFixture(t, cfg)
	ctx := context.Background()

	if _, err := fx.controller.Start(ctx, "unknown-type", nil); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("unknown type = %v, want ErrInvalidConfiguration", err)
	}
	_, err := fx.controller.Start(ctx, "new-project", map[string]string{"project": "demo"})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("missing key = %v, want ErrInvalidConfiguration", err)
	}
	if _, err := fx.controller.Start(ctx, "new-project", map[string]string{"project": "demo", "owner": "ops"}); err != nil {
		t.Fatalf("complete configuration rejected: %v", err)
	}
}

func TestAdvancePhaseListsOutstandingItems(t *testing.T) {
	fx := newFixture(t, testConfig(t))
	ctx := context.Background()
	state, err := fx.controller.Start(ctx, "new-project", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first, err := fx.store.Add(ctx, state.WorkflowID, queue.NewItemSpec{Path: "docs/overview.md", OwningPhase: "discovery"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	second, err := fx.store.Add(ctx, state.WorkflowID, queue.NewItemSpec{Path: "docs/scope.md", OwningPhase: "discovery"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	completeItem(t, fx.store, first)

	_, err = fx.controller.AdvancePhase(ctx)
	var incomplete *PhaseIncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("AdvancePhase = %v, want PhaseIncompleteError", err)
	}
	if incomplete.Phase != "discovery" {
		t.Fatalf("phase = %s", incomplete.Phase)
	}
	if len(incomplete.Outstanding) != 1 || incomplete.Outstanding[0] != "docs/scope.md" {
		t.Fatalf("outstanding = %v", incomplete.Outstanding)
	}

	completeItem(t, fx.store, second)
	advanced, err := fx.controller.AdvancePhase(ctx)
	if err != nil {
		t.Fatalf("AdvancePhase failed: %v", err)
	}
	if advanced.CurrentPhase != "research" || advanced.PhaseIndex != 1 {
		t.Fatalf("advanced to %s/%d", advanced.CurrentPhase, advanced.PhaseIndex)
	}
	if len(advanced.PhasesCompleted) != 1 || advanced.PhasesCompleted[0] != "discovery" {
		t.Fatalf("phases completed = %v", advanced.PhasesCompleted)
	}
}

func TestAdvanceThroughAllPhasesCompletesWorkflow(t *testing.T) {
	fx := newFixture(t, testConfig(t))
	ctx := context.Background()
	if _, err := fx.controller.Start(ctx, "new-project", nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var state *State
	var err error
	for i := 0; i < 3; i++ {
		state, err = fx.controller.AdvancePhase(ctx)
		if err != nil {
			t.Fatalf("AdvancePhase %d failed: %v", i, err)
		}
	}
	if state.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", state.Status)
	}
	if fx.notifier.count(events.EventWorkflowCompleted) != 1 {
		t.Fatalf("workflow completed events = %d", fx.notifier.count(events.EventWorkflowCompleted))
	}
	// Each phase completion lands a checkpoint.
	all, err := fx.checkpoints.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("checkpoints = %d, want 3", len(all))
	}

	if _, err := fx.controller.AdvancePhase(ctx); !errors.Is(err, ErrNoActiveWorkflow) {
		t.Fatalf("advance after completion = %v, want ErrNoActiveWorkflow", err)
	}
}

func TestApprovalGateBlocksAdvance(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gates.TimeoutsMinutes = map[string]int{"planning": 30}
	fx := newFixture(t, cfg)
	ctx := context.Background()
	if _, err := fx.controller.Start(ctx, "new-project", nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := fx.controller.AdvancePhase(ctx); err != nil {
			t.Fatalf("AdvancePhase %d failed: %v", i, err)
		}
	}

	// planning is gated: the first advance opens the gate.
	if _, err := fx.controller.AdvancePhase(ctx); !errors.Is(err, ErrGatePending) {
		t.Fatalf("gated advance = %v, want ErrGatePending", err)
	}
	if fx.notifier.count(events.EventGateOpened) != 1 {
		t.Fatalf("gate opened events = %d", fx.notifier.count(events.EventGateOpened))
	}
	current := fx.controller.Current()
	if current.AwaitingApproval != "planning" {
		t.Fatalf("awaiting approval = %q", current.AwaitingApproval)
	}

	if err := fx.controller.ResolveGate(ctx, "planning", GateApproved); err != nil {
		t.Fatalf("ResolveGate failed: %v", err)
	}
	state, err := fx.controller.AdvancePhase(ctx)
	if err != nil {
		t.Fatalf("approved advance failed: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", state.Status)
	}
}

func TestGateTimeoutReopensGate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gates.TimeoutsMinutes = map[string]int{"discovery": 10}
	fx := newFixture(t, cfg)
	ctx := context.Background()
	if _, err := fx.controller.Start(ctx, "new-project", nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := fx.controller.AdvancePhase(ctx); !errors.Is(err, ErrGatePending) {
		t.Fatalf("gated advance = %v, want ErrGatePending", err)
	}

	fx.controller.mu.Lock()
	fx.controller.state.GateOpenedAt = time.Now().Add(-time.Hour)
	fx.controller.mu.Unlock()

	if _, err := fx.controller.AdvancePhase(ctx); !errors.Is(err, ErrGatePending) {
		t.Fatalf("timed-out advance = %v, want ErrGatePending", err)
	}
	if fx.notifier.count(events.EventGateTimeout) != 1 {
		t.Fatalf("gate timeout events = %d", fx.notifier.count(events.EventGateTimeout))
	}
	if payload := fx.notifier.payloadFor(events.EventGateTimeout); payload["outcome"] != string(GateTimedOut) {
		t.Fatalf("gate timeout outcome = %v, want %s", payload["outcome"], GateTimedOut)
	}
	// The gate re-opened rather than aborting.
	current := fx.controller.Current()
	if current.AwaitingApproval != "discovery" || current.Status != StatusActive {
		t.Fatalf("state after timeout: %s awaiting %q", current.Status, current.AwaitingApproval)
	}
	if time.Since(current.GateOpenedAt) > time.Minute {
		t.Fatal("gate deadline was not reset")
	}

	if err := fx.controller.ResolveGate(ctx, "discovery", GateRejected); err != nil {
		t.Fatalf("ResolveGate failed: %v", err)
	}
	// A rejected gate re-arms on the next advance.
	if _, err := fx.controller.AdvancePhase(ctx); !errors.Is(err, ErrGatePending) {
		t.Fatalf("advance after rejection = %v, want ErrGatePending", err)
	}
}

func TestResumeRestoresFromLatestCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	fx := newFixture(t, cfg)
	ctx := context.Background()
	started, err := fx.controller.Start(ctx, "new-project", map[string]string{"project": "demo"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := fx.controller.AdvancePhase(ctx); err != nil {
		t.Fatalf("AdvancePhase failed: %v", err)
	}

	reopened := newFixture(t, cfg)
	resumed, err := reopened.controller.Resume(ctx, started.WorkflowID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.CurrentPhase != "research" || resumed.PhaseIndex != 1 {
		t.Fatalf("resumed to %s/%d", resumed.CurrentPhase, resumed.PhaseIndex)
	}
	if resumed.Configuration["project"] != "demo" {
		t.Fatalf("configuration lost: %v", resumed.Configuration)
	}
	if err := resumed.Validate(reopened.controller.sequences); err != nil {
		t.Fatalf("resumed state invalid: %v", err)
	}
}

func TestResumeRejectsCorruptState(t *testing.T) {
	cfg := testConfig(t)
	fx := newFixture(t, cfg)
	ctx := context.Background()
	if _, err := fx.controller.Start(ctx, "new-project", nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Corrupt the snapshot with a phase outside the sequence.
	fx.controller.mu.Lock()
	broken := fx.controller.state.clone()
	fx.controller.mu.Unlock()
	broken.CurrentPhase = "shipping"
	if _, err := fx.checkpoints.Write(ctx, checkpoint.ReasonTimer, broken); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	reopened := newFixture(t, cfg)
	if _, err := reopened.controller.Resume(ctx, broken.WorkflowID); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("Resume = %v, want ErrCorruptState", err)
	}
}

func TestCancelPreservesResumableCheckpoint(t *testing.T) {
	fx := newFixture(t, testConfig(t))
	ctx := context.Background()
	if _, err := fx.controller.Start(ctx, "new-project", nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := fx.controller.Cancel(ctx); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	current := fx.controller.Current()
	if current.Status != StatusAborted {
		t.Fatalf("status = %s, want aborted", current.Status)
	}
	if fx.notifier.count(events.EventWorkflowCancelled) != 1 {
		t.Fatalf("cancelled events = %d", fx.notifier.count(events.EventWorkflowCancelled))
	}
	latest, err := fx.checkpoints.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Reason != checkpoint.ReasonPreRiskyOp {
		t.Fatalf("checkpoint reason = %s", latest.Reason)
	}
	if err := fx.controller.Cancel(ctx); !errors.Is(err, ErrNoActiveWorkflow) {
		t.Fatalf("second cancel = %v, want ErrNoActiveWorkflow", err)
	}
}

func TestStateValidateCatchesIndexDrift(t *testing.T) {
	sequences := Sequences{"new-project": {"discovery", "research", "planning"}}
	state := &State{
		SchemaVersion:   StateSchemaVersion,
		WorkflowID:      "wf-1",
		WorkflowType:    "new-project",
		Status:          StatusActive,
		CurrentPhase:    "research",
		PhaseIndex:      2,
		PhasesCompleted: []string{"discovery"},
	}
	if err := state.Validate(sequences); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("Validate = %v, want ErrCorruptState", err)
	}
	state.PhaseIndex = 1
	if err := state.Validate(sequences); err != nil {
		t.Fatalf("Validate failed on consistent state: %v", err)
	}
}
