// File: api/schemas/actions.go
package schemas

import "time"

// ActionKind enumerates the action request types the coordinator accepts.
type ActionKind string

const (
	ActionClick          ActionKind = "click"
	ActionMove           ActionKind = "move"
	ActionHotkey         ActionKind = "hotkey"
	ActionKeyDown        ActionKind = "keydown"
	ActionKeyUp          ActionKind = "keyup"
	ActionPress          ActionKind = "press"
	ActionDragTo         ActionKind = "dragto"
	ActionDragRel        ActionKind = "dragrel"
	ActionScreenshot     ActionKind = "screenshot"
	ActionContextRefresh ActionKind = "context_refresh"
	ActionGetMoreText    ActionKind = "get_more_text"
)

// MouseButton names the physical mouse buttons accepted by click and drag
// requests.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// ActionRequest is one agent-issued action. Params carries kind-specific
// fields; the coordinator validates them against the schema for Kind before
// anything is dispatched.
type ActionRequest struct {
	ID     string         `json:"id"`
	Kind   ActionKind     `json:"kind"`
	Target *Point         `json:"target,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// ActionResult reports the outcome of a dispatched action. When the target
// coordinates were clamped to the screen bounds, Clamped is set and
// ClampedTarget holds the coordinates actually used, so the recovery is
// visible to the caller rather than silent.
type ActionResult struct {
	RequestID     string        `json:"request_id"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
	Clamped       bool          `json:"clamped,omitempty"`
	ClampedTarget *Point        `json:"clamped_target,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
}
