// File: internal/relay/relay.go
// Description: Websocket integration with the upstream agent. Published
// context snapshots flow out; action requests flow in and are handed to
// the action coordinator, with results reported back on the same channel.

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/actions"
	"github.com/nakurity/neurodesk/internal/config"
	"github.com/nakurity/neurodesk/internal/detector"
)

const (
	msgContext      = "context"
	msgAction       = "action"
	msgActionResult = "action_result"
	msgGetContext   = "get_context"

	reconnectDelay   = 3 * time.Second
	writeTimeout     = 10 * time.Second
	defaultPageLimit = 50
)

// Submitter is the action-dispatch surface the relay hands requests to.
type Submitter interface {
	Submit(ctx context.Context, req schemas.ActionRequest) (schemas.ActionResult, error)
}

// SnapshotSource feeds the relay published context. ForceRefresh runs an
// immediate perception cycle on behalf of the agent.
type SnapshotSource interface {
	Subscribe() <-chan *schemas.ContextSnapshot
	Latest() *schemas.ContextSnapshot
	ForceRefresh(ctx context.Context, withVision bool) (*schemas.ContextSnapshot, error)
}

// inbound is a message received from the agent.
type inbound struct {
	Type   string                 `json:"type"`
	Action *schemas.ActionRequest `json:"action,omitempty"`
}

// outbound is a message sent to the agent.
type outbound struct {
	Type     string                   `json:"type"`
	Snapshot *schemas.ContextSnapshot `json:"snapshot,omitempty"`
	Rendered string                   `json:"rendered,omitempty"`
	Result   *schemas.ActionResult    `json:"result,omitempty"`
}

// Stats counts relay traffic since startup.
type Stats struct {
	ContextsSent    int64 `json:"contexts_sent"`
	ActionsReceived int64 `json:"actions_received"`
	Reconnects      int64 `json:"reconnects"`
}

// Relay maintains the agent connection, reconnecting until its context is
// cancelled.
type Relay struct {
	cfg       config.RelayConfig
	render    config.DetectorConfig
	source    SnapshotSource
	submitter Submitter
	logger    *zap.Logger

	contextsSent    atomic.Int64
	actionsReceived atomic.Int64
	reconnects      atomic.Int64
}

// New builds a relay. Call Run to start it.
func New(cfg config.RelayConfig, render config.DetectorConfig, source SnapshotSource, submitter Submitter, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		cfg:       cfg,
		render:    render,
		source:    source,
		submitter: submitter,
		logger:    logger.Named("Relay"),
	}
}

// Stats returns a copy of the traffic counters.
func (r *Relay) Stats() Stats {
	return Stats{
		ContextsSent:    r.contextsSent.Load(),
		ActionsReceived: r.actionsReceived.Load(),
		Reconnects:      r.reconnects.Load(),
	}
}

// Run connects to the agent endpoint and serves the session, reconnecting
// after transport failures until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	snapshots := r.source.Subscribe()
	for {
		if err := r.serve(ctx, snapshots); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("relay session ended, reconnecting",
				zap.Error(err), zap.Duration("delay", reconnectDelay))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
			r.reconnects.Add(1)
		}
	}
}

func (r *Relay) serve(ctx context.Context, snapshots <-chan *schemas.ContextSnapshot) error {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing agent relay %s: %w", r.cfg.URL, err)
	}
	defer conn.Close()
	r.logger.Info("connected to agent relay", zap.String("url", r.cfg.URL))

	// Writes are funneled through one channel; gorilla connections allow a
	// single concurrent writer.
	outgoing := make(chan outbound, 16)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				// Closing the connection is what unblocks the read
				// goroutine; an agent that never responds would otherwise
				// pin it in ReadJSON forever.
				_ = conn.Close()
				return groupCtx.Err()
			case msg := <-outgoing:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					return fmt.Errorf("writing to agent: %w", err)
				}
			}
		}
	})

	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case snap, ok := <-snapshots:
				if !ok {
					return errors.New("snapshot source closed")
				}
				r.sendContext(outgoing, snap)
			}
		}
	})

	group.Go(func() error {
		for {
			var msg inbound
			if err := conn.ReadJSON(&msg); err != nil {
				return fmt.Errorf("reading from agent: %w", err)
			}
			r.handleInbound(groupCtx, msg, outgoing)
		}
	})

	err = group.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *Relay) sendContext(outgoing chan<- outbound, snap *schemas.ContextSnapshot) {
	msg := outbound{
		Type:     msgContext,
		Snapshot: snap,
		Rendered: r.renderElements(snap, snap.Elements, r.render.MaxItemsPerGroup),
	}
	select {
	case outgoing <- msg:
		r.contextsSent.Add(1)
	default:
		r.logger.Warn("agent not draining, context dropped")
	}
}

func (r *Relay) handleInbound(ctx context.Context, msg inbound, outgoing chan<- outbound) {
	switch msg.Type {
	case msgGetContext:
		if snap := r.source.Latest(); snap != nil {
			r.sendContext(outgoing, snap)
		}
	case msgAction:
		if msg.Action == nil {
			r.logger.Warn("action message without action payload")
			return
		}
		r.actionsReceived.Add(1)
		// Dispatch off the read loop so a slow action never stalls
		// inbound traffic; the coordinator enforces one-at-a-time.
		go r.dispatch(ctx, *msg.Action, outgoing)
	default:
		r.logger.Debug("ignoring unknown message type", zap.String("type", msg.Type))
	}
}

func (r *Relay) dispatch(ctx context.Context, req schemas.ActionRequest, outgoing chan<- outbound) {
	// Context queries are answered from perception state; they never
	// reach the execution backend. They still pass the same parameter
	// validation the coordinator applies to dispatched actions.
	switch req.Kind {
	case schemas.ActionGetMoreText, schemas.ActionContextRefresh:
		if err := actions.Validate(req); err != nil {
			r.sendResult(ctx, outgoing, schemas.ActionResult{RequestID: req.ID, Error: err.Error()})
			return
		}
		if req.Kind == schemas.ActionGetMoreText {
			r.sendPage(req, outgoing)
		} else {
			r.refresh(ctx, req, outgoing)
		}
		return
	}

	result, err := r.submitter.Submit(ctx, req)
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}
	result.RequestID = req.ID
	r.sendResult(ctx, outgoing, result)
}

func (r *Relay) sendResult(ctx context.Context, outgoing chan<- outbound, result schemas.ActionResult) {
	select {
	case outgoing <- outbound{Type: msgActionResult, Result: &result}:
	case <-ctx.Done():
	}
}

// refresh runs an immediate perception cycle and replies with the fresh
// context. include_vision requests a vision pass for the cycle,
// include_ocr=false omits the element listing from the reply, and
// max_items_per_category overrides the per-group rendering cap.
func (r *Relay) refresh(ctx context.Context, req schemas.ActionRequest, outgoing chan<- outbound) {
	snap, err := r.source.ForceRefresh(ctx, boolParam(req.Params, "include_vision", false))
	if err != nil {
		r.sendResult(ctx, outgoing, schemas.ActionResult{RequestID: req.ID, Error: err.Error()})
		return
	}
	if !boolParam(req.Params, "include_ocr", true) {
		snap.Elements = nil
	}
	maxItems := intParam(req.Params, "max_items_per_category", r.render.MaxItemsPerGroup)

	result := schemas.ActionResult{RequestID: req.ID, Success: true}
	msg := outbound{
		Type:     msgContext,
		Snapshot: snap,
		Rendered: r.renderElements(snap, snap.Elements, maxItems),
		Result:   &result,
	}
	select {
	case outgoing <- msg:
		r.contextsSent.Add(1)
	case <-ctx.Done():
	}
}

// sendPage answers a pagination request with a further slice of the
// element list from the latest snapshot. filter_type narrows the list to
// one element class before offset and limit bound the slice.
func (r *Relay) sendPage(req schemas.ActionRequest, outgoing chan<- outbound) {
	offset := intParam(req.Params, "offset", 0)
	limit := intParam(req.Params, "limit", defaultPageLimit)
	filter := stringParam(req.Params, "filter_type", "all")

	result := schemas.ActionResult{RequestID: req.ID, Success: true}
	rendered := ""
	if snap := r.source.Latest(); snap != nil {
		elements := filterElements(snap.Elements, filter)
		if offset >= len(elements) {
			elements = nil
		} else {
			elements = elements[offset:]
		}
		if len(elements) > limit {
			elements = elements[:limit]
		}
		rendered = r.renderElements(snap, elements, limit)
	}
	select {
	case outgoing <- outbound{Type: msgContext, Rendered: rendered, Result: &result}:
	default:
		r.logger.Warn("agent not draining, page dropped")
	}
}

// filterElements narrows the listing to one element class. The filter
// names match the section headings of the rendered context.
func filterElements(elements []schemas.DetectedElement, filter string) []schemas.DetectedElement {
	var want schemas.ElementType
	switch filter {
	case "buttons":
		want = schemas.ElementButton
	case "links":
		want = schemas.ElementLink
	case "inputs":
		want = schemas.ElementInput
	case "text":
		want = schemas.ElementText
	default:
		return elements
	}
	out := make([]schemas.DetectedElement, 0, len(elements))
	for _, el := range elements {
		if el.Type == want {
			out = append(out, el)
		}
	}
	return out
}

// renderElements produces the agent-facing textual rendering of a
// (possibly filtered) element list, with the snapshot's vision summary
// and active application appended.
func (r *Relay) renderElements(snap *schemas.ContextSnapshot, elements []schemas.DetectedElement, maxPerGroup int) string {
	rendered := detector.FormatContext(elements, maxPerGroup, r.render.MaxDisplayChars)
	if snap.VisionSummary != "" {
		rendered += "\n\nVisual summary: " + snap.VisionSummary
	}
	if snap.ActiveApplication != "" {
		rendered += "\nActive application: " + snap.ActiveApplication
	}
	return rendered
}

func intParam(p map[string]any, field string, def int) int {
	switch v := p[field].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func boolParam(p map[string]any, field string, def bool) bool {
	if v, ok := p[field].(bool); ok {
		return v
	}
	return def
}

func stringParam(p map[string]any, field, def string) string {
	if v, ok := p[field].(string); ok {
		return v
	}
	return def
}
