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

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status, optionally running preflight checks.
func (c *Client) Status(checks bool) (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{Checks: checks})
}

// PendingList returns queued uploads in drain order.
func (c *Client) PendingList() (*PendingListResponse, error) {
	return call[PendingListResponse](c, "PendingList", PendingListRequest{})
}

// PendingRemove drops a queued upload.
func (c *Client) PendingRemove(segmentID string) (*PendingRemoveResponse, error) {
	return call[PendingRemoveResponse](c, "PendingRemove", PendingRemoveRequest{SegmentID: segmentID})
}

// SegmentAdd stores and queues a segment file.
func (c *Client) SegmentAdd(req SegmentAddRequest) (*SegmentAddResponse, error) {
	return call[SegmentAddResponse](c, "SegmentAdd", req)
}

// SegmentList lists a session's segments, or all sessions when sessionID is empty.
func (c *Client) SegmentList(sessionID string) (*SegmentListResponse, error) {
	return call[SegmentListResponse](c, "SegmentList", SegmentListRequest{SessionID: sessionID})
}

// Drain triggers a coordinator pass.
func (c *Client) Drain() (*DrainResponse, error) {
	return call[DrainResponse](c, "Drain", DrainRequest{})
}

// Replay reconstructs the clips covering a window.
func (c *Client) Replay(req ReplayRequest) (*ReplayResponse, error) {
	return call[ReplayResponse](c, "Replay", req)
}

// GC runs a retention sweep.
func (c *Client) GC() (*GCResponse, error) {
	return call[GCResponse](c, "GC", GCRequest{})
}
