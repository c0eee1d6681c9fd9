// File: internal/vision/client.go
// Description: Session-scoped client for the remote vision analysis
// endpoint. Sessions are claimed against a client fingerprint, kept alive
// by heartbeats, and transparently re-claimed once when the server reports
// expiry mid-analyze.

package vision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/config"
	"github.com/nakurity/neurodesk/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// session holds the server-granted lease. Zero value means unclaimed.
type session struct {
	key           string
	claimedAt     time.Time
	lastHeartbeat time.Time
	expiresAt     time.Time
}

// Client manages the claim/heartbeat/release lifecycle and issues
// rate-limited analyze calls. Safe for concurrent use.
type Client struct {
	cfg     config.VisionConfig
	http    *network.Client
	logger  *zap.Logger
	limiter *rate.Limiter

	instanceID string

	mu          sync.Mutex
	sess        session
	fingerprint string
}

// NewClient builds a vision client. The rate limiter is sized from
// configuration so at most RateLimitCalls analyze calls fit into any
// RateLimitWindow, independent of server-side enforcement.
func NewClient(cfg config.VisionConfig, httpClient *network.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = network.NewClient(network.NewDefaultClientConfig())
	}
	calls := cfg.RateLimitCalls
	window := cfg.RateLimitWindow
	if calls <= 0 {
		calls = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Client{
		cfg:        cfg,
		http:       httpClient,
		logger:     logger.Named("Vision"),
		limiter:    rate.NewLimiter(rate.Every(window/time.Duration(calls)), calls),
		instanceID: uuid.NewString(),
	}
}

// IsConfigured reports whether the vision feature can be used at all. It
// never touches the network.
func (c *Client) IsConfigured() bool {
	return c.cfg.Enabled && c.cfg.BaseURL != ""
}

// SessionActive reports whether a claimed session is held and not yet past
// its locally tracked expiry.
func (c *Client) SessionActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.key != "" && time.Now().Before(c.sess.expiresAt)
}

// Fingerprint returns the stable client fingerprint, deriving it on first
// use from the local network identity, the configured signature, and a
// per-process instance ID.
func (c *Client) Fingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fingerprintLocked()
}

func (c *Client) fingerprintLocked() string {
	if c.fingerprint != "" {
		return c.fingerprint
	}
	sum := sha256.Sum256([]byte(c.localAddr() + "|" + c.cfg.ClientSignature + "|" + c.instanceID))
	c.fingerprint = hex.EncodeToString(sum[:])
	return c.fingerprint
}

// localAddr resolves the outbound interface address toward the endpoint.
// UDP dial assigns a source address without sending any packet.
func (c *Client) localAddr() string {
	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	host := parsed.Host
	if parsed.Port() == "" {
		host = net.JoinHostPort(parsed.Hostname(), "443")
	}
	conn, err := net.Dial("udp", host)
	if err != nil {
		return "unknown"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return conn.LocalAddr().String()
}

type claimResponse struct {
	Success    bool   `json:"success"`
	SessionKey string `json:"session_key"`
	Error      string `json:"error,omitempty"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type analyzeRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt,omitempty"`
}

type analyzeResponse struct {
	Success  bool   `json:"success"`
	Analysis string `json:"analysis"`
	Error    string `json:"error,omitempty"`
}

// Claim requests a fresh session keyed by the client fingerprint.
func (c *Client) Claim(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimLocked(ctx)
}

func (c *Client) claimLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/session/claim"), nil)
	if err != nil {
		return fmt.Errorf("building claim request: %w", err)
	}
	req.Header.Set("X-Client-Fingerprint", c.fingerprintLocked())
	req.Header.Set("X-Client-Signature", c.cfg.ClientSignature)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: claim: %v", schemas.ErrUnreachable, err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", schemas.ErrClaimRejected, resp.StatusCode)
	}
	var body claimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: decoding claim response: %v", schemas.ErrClaimRejected, err)
	}
	if !body.Success || body.SessionKey == "" {
		return fmt.Errorf("%w: %s", schemas.ErrClaimRejected, body.Error)
	}

	now := time.Now()
	c.sess = session{
		key:           body.SessionKey,
		claimedAt:     now,
		lastHeartbeat: now,
		expiresAt:     now.Add(c.cfg.SessionTTL),
	}
	c.logger.Info("vision session claimed",
		zap.Time("expires_at", c.sess.expiresAt))
	return nil
}

// Heartbeat extends the current session lease. A 401 means the server
// already expired the session; the local state is cleared so the next
// analyze call re-claims, and no error is surfaced.
func (c *Client) Heartbeat(ctx context.Context) error {
	c.mu.Lock()
	key := c.sess.key
	c.mu.Unlock()
	if key == "" {
		return nil
	}

	resp, err := c.post(ctx, "/session/heartbeat", key, nil)
	if err != nil {
		return fmt.Errorf("%w: heartbeat: %v", schemas.ErrUnreachable, err)
	}
	defer drain(resp)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.key != key {
		return nil // session changed underneath us
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Warn("session expired server-side, will re-claim on next analyze")
		c.sess = session{}
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("heartbeat failed with status %d", resp.StatusCode)
	}
	now := time.Now()
	c.sess.lastHeartbeat = now
	c.sess.expiresAt = now.Add(c.cfg.SessionTTL)
	return nil
}

// RunHeartbeats keeps the session alive until ctx is cancelled. It runs on
// its own timer, independent of the perception cadence.
func (c *Client) RunHeartbeats(ctx context.Context) {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				c.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// Analyze encodes the image, attaches the session key, and asks the
// endpoint for a free-text summary. A 401 is retried exactly once after a
// fresh claim; 429 surfaces ErrRateLimited without retrying.
func (c *Client) Analyze(ctx context.Context, img image.Image, prompt string) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("vision analysis is not configured")
	}
	if !c.limiter.Allow() {
		return "", fmt.Errorf("%w: client-side analyze budget exhausted", schemas.ErrRateLimited)
	}
	if prompt == "" {
		prompt = c.cfg.DefaultPrompt
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding image for analysis: %w", err)
	}
	payload, err := json.Marshal(analyzeRequest{
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("encoding analyze request: %w", err)
	}

	key, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}

	analysis, status, err := c.doAnalyze(ctx, key, payload)
	if err == nil {
		return analysis, nil
	}
	if status != http.StatusUnauthorized {
		return "", err
	}

	// The session expired between heartbeats. Re-claim once; a second
	// rejection is surfaced to the caller.
	c.logger.Info("analyze rejected with expired session, re-claiming once")
	c.mu.Lock()
	if c.sess.key == key {
		c.sess = session{}
	}
	c.mu.Unlock()
	key, err = c.ensureSession(ctx)
	if err != nil {
		return "", fmt.Errorf("re-claim after expiry: %w", err)
	}
	analysis, _, err = c.doAnalyze(ctx, key, payload)
	if err != nil {
		return "", fmt.Errorf("analyze retry after re-claim: %w", err)
	}
	return analysis, nil
}

// ensureSession returns the current session key, claiming a new session
// when none is held.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.key != "" && time.Now().Before(c.sess.expiresAt) {
		return c.sess.key, nil
	}
	if err := c.claimLocked(ctx); err != nil {
		return "", err
	}
	return c.sess.key, nil
}

// doAnalyze performs a single analyze round trip. The HTTP status is
// returned alongside the error so the caller can distinguish expiry.
func (c *Client) doAnalyze(ctx context.Context, key string, payload []byte) (string, int, error) {
	resp, err := c.post(ctx, "/vision/analyze", key, payload)
	if err != nil {
		return "", 0, fmt.Errorf("%w: analyze: %v", schemas.ErrUnreachable, err)
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", resp.StatusCode, fmt.Errorf("analyze rejected: session expired")
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", resp.StatusCode, fmt.Errorf("%w: server throttled analyze", schemas.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", resp.StatusCode, fmt.Errorf("analyze failed with status %d", resp.StatusCode)
	}

	var body analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decoding analyze response: %w", err)
	}
	if !body.Success {
		return "", resp.StatusCode, fmt.Errorf("analyze failed: %s", body.Error)
	}
	return body.Analysis, resp.StatusCode, nil
}

// Release gives the session back. Best effort: failures are logged, never
// surfaced, since the lease expires on its own.
func (c *Client) Release(ctx context.Context) {
	c.mu.Lock()
	key := c.sess.key
	c.sess = session{}
	c.mu.Unlock()
	if key == "" {
		return
	}

	resp, err := c.post(ctx, "/session/release", key, nil)
	if err != nil {
		c.logger.Warn("session release failed, lease will expire naturally", zap.Error(err))
		return
	}
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("session release rejected", zap.Int("status", resp.StatusCode))
		return
	}
	c.logger.Info("vision session released")
}

func (c *Client) post(ctx context.Context, path, sessionKey string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Session-Key", sessionKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// drain consumes and closes the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
