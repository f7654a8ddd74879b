// Package daemon is the RPC client for burrowd. A Client is bound to the
// daemon's unix socket at dial time; callers that hold no Client are in the
// disconnected state, and all four operations are single request/response
// round-trips on the held connection handle.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"burrow/internal/policy"
)

const defaultTimeout = 30 * time.Second

// ClientConfig carries the explicit daemon endpoint; nothing is read from
// ambient process state.
type ClientConfig struct {
	SocketPath string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client is a bound connection handle to burrowd. It is not safe for
// concurrent use by design: ownership passes to whichever caller holds it,
// and the controller keeps at most one call in flight by moving the handle
// out of its state while the call runs.
type Client struct {
	socketPath string
	httpc      *http.Client
	logger     *slog.Logger
}

// Dial resolves the daemon socket and returns a bound client. A missing
// socket file fails fast with ErrConnectionFailed before any transport
// attempt: no socket means burrowd is not running.
func Dial(cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if _, err := os.Stat(cfg.SocketPath); err != nil {
		return nil, opErr("dial", ErrConnectionFailed,
			fmt.Errorf("daemon socket not found at %s (is burrowd running?)", cfg.SocketPath))
	}

	socketPath := cfg.SocketPath
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		socketPath: socketPath,
		httpc:      &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}, nil
}

// SocketPath returns the socket this client is bound to.
func (c *Client) SocketPath() string { return c.socketPath }

// RunSandbox starts argv under the given profile. Only the capability grant
// and the sandbox root travel; the rest of the profile stays local.
func (c *Client) RunSandbox(ctx context.Context, p policy.Policy, argv []string, workdir string) (RunResponse, error) {
	wire := wirePolicy(p)
	req := RunRequest{
		Command:          argv,
		InlinePolicy:     &wire,
		WorkingDirectory: workdir,
	}
	var resp RunResponse
	if err := c.doJSON(ctx, "run_sandbox", http.MethodPost, "/v1/sandboxes", req, &resp); err != nil {
		return RunResponse{}, err
	}
	return resp, nil
}

// StopSandbox stops one sandbox, optionally forcing termination.
func (c *Client) StopSandbox(ctx context.Context, id string, force bool) (StopResponse, error) {
	var resp StopResponse
	path := "/v1/sandboxes/" + url.PathEscape(id) + "/stop"
	if err := c.doJSON(ctx, "stop_sandbox", http.MethodPost, path, StopRequest{Force: force}, &resp); err != nil {
		return StopResponse{}, err
	}
	return resp, nil
}

// ListSandboxes returns the daemon's sandbox records, optionally including
// stopped ones.
func (c *Client) ListSandboxes(ctx context.Context, includeStopped bool) ([]Sandbox, error) {
	path := "/v1/sandboxes"
	if includeStopped {
		path += "?all=true"
	}
	var resp ListResponse
	if err := c.doJSON(ctx, "list_sandboxes", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sandboxes, nil
}

// GetStatus returns the current record for one sandbox.
func (c *Client) GetStatus(ctx context.Context, id string) (Sandbox, error) {
	var resp Sandbox
	path := "/v1/sandboxes/" + url.PathEscape(id)
	if err := c.doJSON(ctx, "get_status", http.MethodGet, path, nil, &resp); err != nil {
		return Sandbox{}, err
	}
	return resp, nil
}

// doJSON performs one request/response round-trip against the socket. The
// daemon is addressed as http://unix; the host is never resolved because
// the transport dials the socket directly.
func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return opErr(op, ErrRequestFailed, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return opErr(op, ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	c.logger.Debug("daemon request", "op", op, "method", method, "path", path, "request_id", reqID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Warn("daemon request failed", "op", op, "request_id", reqID, "err", err)
		return opErr(op, ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("daemon returned error status",
			"op", op, "status", resp.StatusCode, "request_id", reqID)
		return opErr(op, ErrRequestFailed,
			fmt.Errorf("daemon returned %s: %s", resp.Status, bytes.TrimSpace(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return opErr(op, ErrInvalidResponse, err)
		}
	}
	return nil
}
