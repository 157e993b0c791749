package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"conductor/internal/daemon"
	"conductor/internal/logging"
	"conductor/internal/queue"
	"conductor/internal/workflow"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds the IPC server to the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	handler := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Conductor", handler); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts RPC connections until the context is cancelled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart conductord if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before the next start"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) WorkflowStart(req WorkflowStartRequest, resp *WorkflowStartResponse) error {
	state, err := s.daemon.Controller().Start(s.ctx, req.Type, req.Configuration)
	if err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = fmt.Sprintf("workflow %s started in phase %s", state.WorkflowID, state.CurrentPhase)
	resp.State = state
	return nil
}

func (s *service) WorkflowResume(req WorkflowResumeRequest, resp *WorkflowResumeResponse) error {
	state, err := s.daemon.Controller().Resume(s.ctx, req.WorkflowID)
	if err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Resumed = true
	resp.Message = fmt.Sprintf("workflow %s resumed in phase %s", state.WorkflowID, state.CurrentPhase)
	resp.State = state
	return nil
}

func (s *service) Advance(_ AdvanceRequest, resp *AdvanceResponse) error {
	state, err := s.daemon.Controller().AdvancePhase(s.ctx)
	if err != nil {
		resp.Message = err.Error()
		var incomplete *workflow.PhaseIncompleteError
		switch {
		case errors.As(err, &incomplete):
			resp.Outstanding = incomplete.Outstanding
		case errors.Is(err, workflow.ErrGatePending):
			if current := s.daemon.Controller().Current(); current != nil {
				resp.Gate = current.AwaitingApproval
			}
		}
		return nil
	}
	resp.Advanced = true
	resp.State = state
	if state.Status == workflow.StatusCompleted {
		resp.Message = "workflow completed"
	} else {
		resp.Message = fmt.Sprintf("advanced to phase %s", state.CurrentPhase)
	}
	return nil
}

func (s *service) Cancel(_ CancelRequest, resp *CancelResponse) error {
	if err := s.daemon.Controller().Cancel(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Cancelled = true
	resp.Message = "workflow cancelled"
	return nil
}

func (s *service) GateResolve(req GateResolveRequest, resp *GateResolveResponse) error {
	outcome := workflow.GateRejected
	if req.Approved {
		outcome = workflow.GateApproved
	}
	if err := s.daemon.Controller().ResolveGate(s.ctx, req.Gate, outcome); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Resolved = true
	resp.Message = fmt.Sprintf("gate %s %s", req.Gate, outcome)
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	report, err := s.daemon.Controller().Status(s.ctx)
	if err != nil {
		return err
	}
	slots, memory := s.daemon.Pool()
	resp.Running = s.daemon.Running()
	resp.PID = os.Getpid()
	resp.LockPath = s.daemon.LockPath()
	resp.StorePath = s.daemon.Store().Path()
	resp.PoolSlots = slots
	resp.PoolMemory = memory
	resp.Report = report
	return nil
}

func (s *service) ItemAdd(req ItemAddRequest, resp *ItemAddResponse) error {
	state := s.daemon.Controller().Current()
	if state == nil || state.Status != workflow.StatusActive {
		resp.Message = workflow.ErrNoActiveWorkflow.Error()
		return nil
	}
	phase := req.Phase
	if phase == "" {
		phase = state.CurrentPhase
	}
	item, err := s.daemon.Store().Add(s.ctx, state.WorkflowID, queue.NewItemSpec{
		Path:        req.Path,
		OwningPhase: phase,
		DependsOn:   req.DependsOn,
		MemoryUnits: req.MemoryUnits,
	})
	if err != nil {
		resp.Message = err.Error()
		return nil
	}
	converted := convertItem(item)
	resp.Added = true
	resp.Message = fmt.Sprintf("item %d queued for phase %s", item.ID, item.OwningPhase)
	resp.Item = &converted
	return nil
}

func (s *service) ItemList(req ItemListRequest, resp *ItemListResponse) error {
	state := s.daemon.Controller().Current()
	if state == nil {
		resp.Items = []Item{}
		return nil
	}
	var stages []queue.Stage
	for _, raw := range req.Stages {
		stage, ok := queue.ParseStage(raw)
		if !ok {
			return fmt.Errorf("unknown stage %q", raw)
		}
		stages = append(stages, stage)
	}
	items, err := s.daemon.Store().List(s.ctx, state.WorkflowID, stages...)
	if err != nil {
		return err
	}
	resp.Items = make([]Item, 0, len(items))
	for _, item := range items {
		resp.Items = append(resp.Items, convertItem(item))
	}
	return nil
}

func (s *service) ItemRetry(req ItemRetryRequest, resp *ItemRetryResponse) error {
	updated, err := s.daemon.RetryItems(s.ctx, req.IDs)
	resp.Updated = updated
	if err != nil {
		resp.Message = err.Error()
		return nil
	}
	return nil
}

func (s *service) ItemWaive(req ItemWaiveRequest, resp *ItemWaiveResponse) error {
	if err := s.daemon.WaiveItem(s.ctx, req.ID, req.Reason); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Waived = true
	resp.Message = fmt.Sprintf("item %d waived", req.ID)
	return nil
}

func (s *service) CheckpointList(_ CheckpointListRequest, resp *CheckpointListResponse) error {
	checkpoints, err := s.daemon.Checkpoints().List()
	if err != nil {
		return err
	}
	resp.Checkpoints = make([]Checkpoint, 0, len(checkpoints))
	for _, cp := range checkpoints {
		resp.Checkpoints = append(resp.Checkpoints, Checkpoint{
			Sequence:  cp.Sequence,
			Reason:    string(cp.Reason),
			CreatedAt: cp.CreatedAt,
		})
	}
	return nil
}

func (s *service) CheckpointRestore(req CheckpointRestoreRequest, resp *CheckpointRestoreResponse) error {
	state, err := s.daemon.Controller().RestoreCheckpoint(s.ctx, req.Sequence)
	if err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Restored = true
	resp.Message = fmt.Sprintf("restored checkpoint %d, phase %s", req.Sequence, state.CurrentPhase)
	resp.State = state
	return nil
}

func (s *service) AuditTrail(req AuditTrailRequest, resp *AuditTrailResponse) error {
	var entries []queue.AuditEntry
	var err error
	if req.ItemID > 0 {
		entries, err = s.daemon.Store().AuditForItem(s.ctx, req.ItemID)
	} else {
		state := s.daemon.Controller().Current()
		if state == nil {
			resp.Entries = []AuditEntry{}
			return nil
		}
		entries, err = s.daemon.Store().AuditForWorkflow(s.ctx, state.WorkflowID)
	}
	if err != nil {
		return err
	}
	resp.Entries = make([]AuditEntry, 0, len(entries))
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, AuditEntry{
			ID:         entry.ID,
			WorkflowID: entry.WorkflowID,
			ItemID:     entry.ItemID,
			Decision:   entry.Decision,
			ErrorClass: entry.ErrorClass,
			FromStage:  string(entry.FromStage),
			ToStage:    string(entry.ToStage),
			Detail:     entry.Detail,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return nil
}
