package uds

import (
	"fmt"
	"net"
	"time"
)

// Client is the CLI side of the control channel. Each command opens a
// fresh connection; the daemon closes it after one response.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

// SetTimeout bounds the dial plus the full request/response exchange.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand marshals params, performs one round trip, and returns
// the daemon's response. A transport failure returns an error; a
// command failure comes back as Response.Error with Success false.
func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}

func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to connect to daemon at %s: %w\n"+
				"Is the daemon running? Start it with: velora daemon",
			c.socketPath, err,
		)
	}
	defer func() { _ = conn.Close() }()

	// One deadline covers both directions of the exchange.
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &resp, nil
}
