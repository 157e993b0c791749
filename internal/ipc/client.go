package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// WorkflowStart asks the daemon to start a new workflow.
func (c *Client) WorkflowStart(req WorkflowStartRequest) (*WorkflowStartResponse, error) {
	var resp WorkflowStartResponse
	if err := c.client.Call("Conductor.WorkflowStart", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowResume asks the daemon to resume a persisted workflow.
func (c *Client) WorkflowResume(req WorkflowResumeRequest) (*WorkflowResumeResponse, error) {
	var resp WorkflowResumeResponse
	if err := c.client.Call("Conductor.WorkflowResume", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Advance requests a phase transition on the active workflow.
func (c *Client) Advance() (*AdvanceResponse, error) {
	var resp AdvanceResponse
	if err := c.client.Call("Conductor.Advance", AdvanceRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel aborts the active workflow.
func (c *Client) Cancel() (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.client.Call("Conductor.Cancel", CancelRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GateResolve approves or rejects an open approval gate.
func (c *Client) GateResolve(req GateResolveRequest) (*GateResolveResponse, error) {
	var resp GateResolveResponse
	if err := c.client.Call("Conductor.GateResolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon and workflow status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Conductor.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ItemAdd enqueues a work item for the active workflow.
func (c *Client) ItemAdd(req ItemAddRequest) (*ItemAddResponse, error) {
	var resp ItemAddResponse
	if err := c.client.Call("Conductor.ItemAdd", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ItemList returns work items for the active workflow.
func (c *Client) ItemList(req ItemListRequest) (*ItemListResponse, error) {
	var resp ItemListResponse
	if err := c.client.Call("Conductor.ItemList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ItemRetry requeues failed or manual-review items.
func (c *Client) ItemRetry(req ItemRetryRequest) (*ItemRetryResponse, error) {
	var resp ItemRetryResponse
	if err := c.client.Call("Conductor.ItemRetry", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ItemWaive marks an item as intentionally skipped.
func (c *Client) ItemWaive(req ItemWaiveRequest) (*ItemWaiveResponse, error) {
	var resp ItemWaiveResponse
	if err := c.client.Call("Conductor.ItemWaive", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckpointList returns stored checkpoint summaries.
func (c *Client) CheckpointList() (*CheckpointListResponse, error) {
	var resp CheckpointListResponse
	if err := c.client.Call("Conductor.CheckpointList", CheckpointListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckpointRestore rolls workflow state back to a stored checkpoint.
func (c *Client) CheckpointRestore(req CheckpointRestoreRequest) (*CheckpointRestoreResponse, error) {
	var resp CheckpointRestoreResponse
	if err := c.client.Call("Conductor.CheckpointRestore", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuditTrail fetches audit entries for an item or the whole workflow.
func (c *Client) AuditTrail(req AuditTrailRequest) (*AuditTrailResponse, error) {
	var resp AuditTrailResponse
	if err := c.client.Call("Conductor.AuditTrail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
