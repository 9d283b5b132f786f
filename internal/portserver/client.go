package portserver

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"relay/internal/coordinator"
)

// Client is a port held by another process.
type Client struct {
	conn *websocket.Conn
}

// Dial opens a port over the daemon's port socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	conn, resp, err := dialer.DialContext(ctx, "ws://relayd/port", nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial port socket %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one message.
func (c *Client) Send(msg coordinator.Message) error {
	return c.conn.WriteJSON(msg)
}

// Receive blocks for the next message.
func (c *Client) Receive() (coordinator.Message, error) {
	var msg coordinator.Message
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// HTTPClient returns an http.Client that talks to the port socket, for the
// health and metrics endpoints.
func HTTPClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}
