// File: internal/relay/relay_test.go
package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/config"
)

// chanSource is a SnapshotSource fed by the test.
type chanSource struct {
	ch         chan *schemas.ContextSnapshot
	mu         sync.Mutex
	latest     *schemas.ContextSnapshot
	refreshed  *schemas.ContextSnapshot
	refreshErr error
	refreshes  []bool // withVision per ForceRefresh call
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan *schemas.ContextSnapshot, 4)}
}

func (c *chanSource) Subscribe() <-chan *schemas.ContextSnapshot { return c.ch }

func (c *chanSource) Latest() *schemas.ContextSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

func (c *chanSource) ForceRefresh(ctx context.Context, withVision bool) (*schemas.ContextSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes = append(c.refreshes, withVision)
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	if c.refreshed != nil {
		return c.refreshed.Clone(), nil
	}
	return c.latest.Clone(), nil
}

func (c *chanSource) refreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refreshes)
}

func (c *chanSource) push(snap *schemas.ContextSnapshot) {
	c.mu.Lock()
	c.latest = snap
	c.mu.Unlock()
	c.ch <- snap
}

type recordingSubmitter struct {
	mu       sync.Mutex
	requests []schemas.ActionRequest
	err      error
}

func (r *recordingSubmitter) Submit(ctx context.Context, req schemas.ActionRequest) (schemas.ActionResult, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.err != nil {
		return schemas.ActionResult{RequestID: req.ID, Error: r.err.Error()}, r.err
	}
	return schemas.ActionResult{RequestID: req.ID, Success: true}, nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// agentConn is the fake agent's end of the websocket.
type agentConn struct {
	conn     *websocket.Conn
	received chan outbound
}

// startAgent runs a fake agent endpoint and hands the test its connection
// once the relay dials in.
func startAgent(t *testing.T) (string, chan *agentConn) {
	t.Helper()
	conns := make(chan *agentConn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ac := &agentConn{conn: conn, received: make(chan outbound, 16)}
		conns <- ac
		for {
			var msg outbound
			if err := conn.ReadJSON(&msg); err != nil {
				close(ac.received)
				return
			}
			ac.received <- msg
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http"), conns
}

func startRelay(t *testing.T, url string, source SnapshotSource, submitter Submitter) *Relay {
	t.Helper()
	r := New(
		config.RelayConfig{Enabled: true, URL: url},
		config.DetectorConfig{MaxItemsPerGroup: 10, MaxDisplayChars: 50},
		source, submitter, zap.NewNop(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func waitAgent(t *testing.T, conns chan *agentConn) *agentConn {
	t.Helper()
	select {
	case ac := <-conns:
		return ac
	case <-time.After(2 * time.Second):
		t.Fatal("relay never connected")
		return nil
	}
}

func waitMessage(t *testing.T, ac *agentConn, msgType string) outbound {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-ac.received:
			if !ok {
				t.Fatal("agent connection closed")
			}
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message received", msgType)
		}
	}
}

func sampleSnapshot() *schemas.ContextSnapshot {
	return &schemas.ContextSnapshot{
		Timestamp:         time.Now(),
		ScreenResolution:  schemas.Point{X: 1920, Y: 1080},
		ActiveApplication: "browser",
		VisionSummary:     "a video page",
		Elements: []schemas.DetectedElement{
			{Text: "Subscribe", Type: schemas.ElementButton,
				Bounds: schemas.NewBoundingBox(600, 460, 80, 40), Confidence: 0.9},
		},
	}
}

func TestContextFlowsToAgent(t *testing.T) {
	url, conns := startAgent(t)
	source := newChanSource()
	relay := startRelay(t, url, source, &recordingSubmitter{})
	ac := waitAgent(t, conns)

	source.push(sampleSnapshot())

	msg := waitMessage(t, ac, msgContext)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, "browser", msg.Snapshot.ActiveApplication)
	assert.Contains(t, msg.Rendered, `"Subscribe" at (640, 480)`)
	assert.Contains(t, msg.Rendered, "Visual summary: a video page")
	assert.Contains(t, msg.Rendered, "Active application: browser")

	assert.Eventually(t, func() bool { return relay.Stats().ContextsSent == 1 },
		time.Second, 5*time.Millisecond)
}

func TestActionRoundTrip(t *testing.T) {
	url, conns := startAgent(t)
	submitter := &recordingSubmitter{}
	relay := startRelay(t, url, newChanSource(), submitter)
	ac := waitAgent(t, conns)

	err := ac.conn.WriteJSON(inbound{
		Type: msgAction,
		Action: &schemas.ActionRequest{
			ID:     "act-1",
			Kind:   schemas.ActionClick,
			Target: &schemas.Point{X: 10, Y: 20},
		},
	})
	require.NoError(t, err)

	msg := waitMessage(t, ac, msgActionResult)
	require.NotNil(t, msg.Result)
	assert.Equal(t, "act-1", msg.Result.RequestID)
	assert.True(t, msg.Result.Success)
	assert.Equal(t, 1, submitter.count())
	assert.Equal(t, int64(1), relay.Stats().ActionsReceived)
}

func TestFailedActionReportsError(t *testing.T) {
	url, conns := startAgent(t)
	submitter := &recordingSubmitter{err: schemas.ErrExecutionUnreachable}
	startRelay(t, url, newChanSource(), submitter)
	ac := waitAgent(t, conns)

	require.NoError(t, ac.conn.WriteJSON(inbound{
		Type: msgAction,
		Action: &schemas.ActionRequest{ID: "act-2", Kind: schemas.ActionClick,
			Target: &schemas.Point{X: 10, Y: 20}},
	}))

	msg := waitMessage(t, ac, msgActionResult)
	require.NotNil(t, msg.Result)
	assert.Equal(t, "act-2", msg.Result.RequestID)
	assert.False(t, msg.Result.Success)
	assert.Contains(t, msg.Result.Error, "unreachable")
}

func TestGetContextRepliesWithLatest(t *testing.T) {
	url, conns := startAgent(t)
	source := newChanSource()
	startRelay(t, url, source, &recordingSubmitter{})
	ac := waitAgent(t, conns)

	// Drain the initial publication so the reply is unambiguous.
	source.push(sampleSnapshot())
	waitMessage(t, ac, msgContext)

	require.NoError(t, ac.conn.WriteJSON(inbound{Type: msgGetContext}))
	msg := waitMessage(t, ac, msgContext)
	require.NotNil(t, msg.Snapshot)
	assert.Len(t, msg.Snapshot.Elements, 1)
}

func TestPaginationNeverReachesBackend(t *testing.T) {
	url, conns := startAgent(t)
	source := newChanSource()
	submitter := &recordingSubmitter{}
	startRelay(t, url, source, submitter)
	ac := waitAgent(t, conns)

	snap := sampleSnapshot()
	snap.Elements = append(snap.Elements, schemas.DetectedElement{
		Text: "Like", Type: schemas.ElementButton,
		Bounds: schemas.NewBoundingBox(300, 440, 40, 20), Confidence: 0.8,
	})
	source.push(snap)
	waitMessage(t, ac, msgContext)

	require.NoError(t, ac.conn.WriteJSON(inbound{
		Type: msgAction,
		Action: &schemas.ActionRequest{
			ID:     "page-1",
			Kind:   schemas.ActionGetMoreText,
			Params: map[string]any{"offset": float64(1)},
		},
	}))

	msg := waitMessage(t, ac, msgContext)
	assert.Contains(t, msg.Rendered, "Like")
	assert.NotContains(t, msg.Rendered, "Subscribe")
	assert.Zero(t, submitter.count(), "pagination is answered locally")
}

func TestPaginationHonorsLimitAndFilter(t *testing.T) {
	url, conns := startAgent(t)
	source := newChanSource()
	submitter := &recordingSubmitter{}
	startRelay(t, url, source, submitter)
	ac := waitAgent(t, conns)

	snap := sampleSnapshot()
	snap.Elements = []schemas.DetectedElement{
		{Text: "Subscribe", Type: schemas.ElementButton,
			Bounds: schemas.NewBoundingBox(600, 460, 80, 40), Confidence: 0.9},
		{Text: "Home", Type: schemas.ElementLink,
			Bounds: schemas.NewBoundingBox(20, 20, 60, 20), Confidence: 0.9},
		{Text: "Like", Type: schemas.ElementButton,
			Bounds: schemas.NewBoundingBox(300, 440, 40, 20), Confidence: 0.8},
		{Text: "Share", Type: schemas.ElementButton,
			Bounds: schemas.NewBoundingBox(400, 440, 50, 20), Confidence: 0.7},
	}
	source.push(snap)
	waitMessage(t, ac, msgContext)

	// Buttons only, skipping the first, at most one per page: exactly
	// "Like" comes back.
	require.NoError(t, ac.conn.WriteJSON(inbound{
		Type: msgAction,
		Action: &schemas.ActionRequest{
			ID:   "page-2",
			Kind: schemas.ActionGetMoreText,
			Params: map[string]any{
				"offset": float64(1), "limit": float64(1), "filter_type": "buttons",
			},
		},
	}))

	msg := waitMessage(t, ac, msgContext)
	assert.Contains(t, msg.Rendered, "Like")
	assert.NotContains(t, msg.Rendered, "Subscribe", "skipped by offset")
	assert.NotContains(t, msg.Rendered, "Share", "cut by limit")
	assert.NotContains(t, msg.Rendered, "Home", "links are filtered out")
	assert.Zero(t, submitter.count())
}

func TestContextRefreshRunsLocalCycle(t *testing.T) {
	url, conns := startAgent(t)
	source := newChanSource()
	submitter := &recordingSubmitter{}
	startRelay(t, url, source, submitter)
	ac := waitAgent(t, conns)

	refreshed := sampleSnapshot()
	refreshed.VisionSummary = "a refreshed view"
	source.mu.Lock()
	source.refreshed = refreshed
	source.mu.Unlock()

	require.NoError(t, ac.conn.WriteJSON(inbound{
		Type: msgAction,
		Action: &schemas.ActionRequest{
			ID:     "ref-1",
			Kind:   schemas.ActionContextRefresh,
			Params: map[string]any{"include_vision": true},
		},
	}))

	msg := waitMessage(t, ac, msgContext)
	require.NotNil(t, msg.Result)
	assert.True(t, msg.Result.Success)
	assert.Equal(t, "ref-1", msg.Result.RequestID)
	assert.Contains(t, msg.Rendered, "a refreshed view")
	assert.Equal(t, 1, source.refreshCount(), "refresh ran one perception cycle")
	assert.Equal(t, []bool{true}, source.refreshes, "vision pass was requested")
	assert.Zero(t, submitter.count(), "refresh never reaches the backend")
}

func TestContextRefreshReportsCycleFailure(t *testing.T) {
	url, conns := startAgent(t)
	source := newChanSource()
	source.refreshErr = schemas.ErrUnreachable
	startRelay(t, url, source, &recordingSubmitter{})
	ac := waitAgent(t, conns)

	require.NoError(t, ac.conn.WriteJSON(inbound{
		Type:   msgAction,
		Action: &schemas.ActionRequest{ID: "ref-2", Kind: schemas.ActionContextRefresh},
	}))

	msg := waitMessage(t, ac, msgActionResult)
	require.NotNil(t, msg.Result)
	assert.False(t, msg.Result.Success)
	assert.Contains(t, msg.Result.Error, "unreachable")
}

func TestInvalidContextQueryIsRejectedLocally(t *testing.T) {
	url, conns := startAgent(t)
	source := newChanSource()
	submitter := &recordingSubmitter{}
	startRelay(t, url, source, submitter)
	ac := waitAgent(t, conns)

	require.NoError(t, ac.conn.WriteJSON(inbound{
		Type: msgAction,
		Action: &schemas.ActionRequest{
			ID:     "bad-1",
			Kind:   schemas.ActionGetMoreText,
			Params: map[string]any{"limit": float64(1000)},
		},
	}))

	msg := waitMessage(t, ac, msgActionResult)
	require.NotNil(t, msg.Result)
	assert.False(t, msg.Result.Success)
	assert.Contains(t, msg.Result.Error, "limit")
	assert.Zero(t, submitter.count())
	assert.Zero(t, source.refreshCount())
}

// A peer that accepts the handshake and then goes silent must not pin
// Run: cancellation closes the connection out from under the blocked
// read.
func TestRunStopsDespiteSilentAgent(t *testing.T) {
	hold := make(chan struct{})
	connected := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connected <- struct{}{}
		<-hold
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(hold) })
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	relay := New(
		config.RelayConfig{Enabled: true, URL: url},
		config.DetectorConfig{MaxItemsPerGroup: 10, MaxDisplayChars: 50},
		newChanSource(), &recordingSubmitter{}, zap.NewNop(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never connected")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after cancellation")
	}
}
