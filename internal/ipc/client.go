package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is the request/response side of the wire contract, used by the CLI.
type Client struct {
	conn     net.Conn
	timeout  time.Duration
	maxFrame int
}

// Dial connects to the daemon's endpoint. The timeout bounds the connection
// attempt and every subsequent request/response exchange.
func Dial(host string, port int, socket string, timeout time.Duration, maxFrame int) (*Client, error) {
	network, addr := Endpoint(host, port, socket)
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s %s: %w", network, addr, err)
	}
	return &Client{conn: conn, timeout: timeout, maxFrame: maxFrame}, nil
}

// Do sends one request and reads its response.
func (c *Client) Do(req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	if err := WriteFrame(c.conn, payload); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	data, err := ReadFrame(c.conn, c.maxFrame)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
