// File: internal/backend/client.go
// Description: Persistent websocket client for the OS-level execution
// backend. Requests are correlated by ID over a single connection; a
// reader goroutine routes responses back to waiting callers.

package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	msgExecuteAction    = "execute_action"
	msgEnumerateWindows = "enumerate_windows"
	msgCaptureScreen    = "capture_screen"

	writeTimeout   = 10 * time.Second
	defaultTimeout = 30 * time.Second
)

// request is the wire envelope sent to the backend.
type request struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Action  *schemas.ActionRequest `json:"action,omitempty"`
	Timeout float64                `json:"timeout,omitempty"`
}

// response is the wire envelope received from the backend.
type response struct {
	ID      string               `json:"id"`
	Success bool                 `json:"success"`
	Error   string               `json:"error,omitempty"`
	Windows []schemas.WindowInfo `json:"windows,omitempty"`
	Image   string               `json:"image,omitempty"`
}

// Client implements schemas.ExecutionBackend over a persistent websocket.
// Safe for concurrent use; the connection is dialed lazily and re-dialed
// after transport failures.
type Client struct {
	cfg    config.BackendConfig
	logger *zap.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex // guards conn and writes
	conn    *websocket.Conn
	closed  bool
	readErr chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan response
}

// NewClient builds an execution backend client. No connection is made
// until the first call.
func NewClient(cfg config.BackendConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.Named("Backend"),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending: make(map[string]chan response),
	}
}

// Execute forwards a validated action request over the channel.
func (c *Client) Execute(ctx context.Context, req schemas.ActionRequest) (schemas.ActionResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resp, err := c.roundTrip(ctx, request{
		ID:     req.ID,
		Type:   msgExecuteAction,
		Action: &req,
	})
	if err != nil {
		return schemas.ActionResult{RequestID: req.ID}, err
	}
	return schemas.ActionResult{
		RequestID: req.ID,
		Success:   resp.Success,
		Error:     resp.Error,
	}, nil
}

// EnumerateWindows lists the currently visible top-level windows.
func (c *Client) EnumerateWindows(ctx context.Context) ([]schemas.WindowInfo, error) {
	resp, err := c.roundTrip(ctx, request{ID: uuid.NewString(), Type: msgEnumerateWindows})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("window enumeration failed: %s", resp.Error)
	}
	return resp.Windows, nil
}

// CaptureScreen grabs the current screen contents as an image.
func (c *Client) CaptureScreen(ctx context.Context) (image.Image, error) {
	resp, err := c.roundTrip(ctx, request{ID: uuid.NewString(), Type: msgCaptureScreen})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("screen capture failed: %s", resp.Error)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("decoding capture payload: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding capture image: %w", err)
	}
	return img, nil
}

// Close tears down the connection. Pending calls fail with
// ErrExecutionUnreachable.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// roundTrip sends one request and waits for the matching response, the
// request timeout, or context cancellation.
func (c *Client) roundTrip(ctx context.Context, req request) (response, error) {
	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(ctx, req); err != nil {
		return response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.readErrSignal():
		return response{}, fmt.Errorf("%w: connection lost awaiting %s", schemas.ErrExecutionUnreachable, req.ID)
	case <-ctx.Done():
		return response{}, fmt.Errorf("%w: request %s: %v", schemas.ErrExecutionUnreachable, req.ID, ctx.Err())
	}
}

// send marshals and writes the envelope, dialing first if needed. Writes
// are serialized; gorilla connections allow one concurrent writer.
func (c *Client) send(ctx context.Context, req request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding backend request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: client closed", schemas.ErrExecutionUnreachable)
	}
	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return err
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropConnLocked()
		return fmt.Errorf("%w: write: %v", schemas.ErrExecutionUnreachable, err)
	}
	return nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return fmt.Errorf("%w: dialing %s (status %d): %v",
			schemas.ErrExecutionUnreachable, c.cfg.URL, status, err)
	}
	c.conn = conn
	c.readErr = make(chan struct{})
	go c.readLoop(conn, c.readErr)
	c.logger.Info("connected to execution backend", zap.String("url", c.cfg.URL))
	return nil
}

// dropConnLocked discards a broken connection so the next call re-dials.
func (c *Client) dropConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readErrSignal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// readLoop routes responses to their waiting callers until the connection
// breaks. One loop runs per connection.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("backend connection lost", zap.Error(err))
			}
			return
		}
		var resp response
		if err := json.Unmarshal(payload, &resp); err != nil {
			c.logger.Warn("discarding malformed backend message", zap.Error(err))
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown request", zap.String("id", resp.ID))
			continue
		}
		ch <- resp
	}
}
