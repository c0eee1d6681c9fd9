// File: api/schemas/elements.go
package schemas

import "time"

// ElementType classifies a detected UI element.
type ElementType string

const (
	ElementButton ElementType = "button"
	ElementLink   ElementType = "link"
	ElementInput  ElementType = "input"
	ElementText   ElementType = "text"
)

// ElementSource identifies which perception source produced an element.
type ElementSource string

const (
	SourceOCR    ElementSource = "ocr"
	SourceVision ElementSource = "vision"
)

// DetectedElement is one UI element extracted from a screen capture.
// Elements are created fresh each detection cycle and never mutated after
// creation; a new cycle's set supersedes the previous one wholesale.
type DetectedElement struct {
	Text       string        `json:"text"`
	Bounds     BoundingBox   `json:"bounds"`
	Confidence float64       `json:"confidence"`
	Type       ElementType   `json:"type"`
	Source     ElementSource `json:"source"`
}

// Center returns the element's screen midpoint.
func (e DetectedElement) Center() Point {
	return e.Bounds.Center()
}

// WindowInfo describes a top-level window reported by the execution backend.
type WindowInfo struct {
	Title       string      `json:"title"`
	Application string      `json:"application"`
	Bounds      BoundingBox `json:"bounds"`
	Focused     bool        `json:"focused"`
}

// ContextSnapshot is the structured description of current screen state
// handed to the consuming agent. It is owned exclusively by the perception
// orchestrator; consumers always receive a copy.
type ContextSnapshot struct {
	Timestamp         time.Time         `json:"timestamp"`
	ScreenResolution  Point             `json:"screen_resolution"`
	MousePosition     Point             `json:"mouse_position"`
	ActiveApplication string            `json:"active_application"`
	Windows           []WindowInfo      `json:"windows,omitempty"`
	Elements          []DetectedElement `json:"elements"`
	VisionSummary     string            `json:"vision_summary,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (s *ContextSnapshot) Clone() *ContextSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Elements = make([]DetectedElement, len(s.Elements))
	copy(out.Elements, s.Elements)
	out.Windows = make([]WindowInfo, len(s.Windows))
	copy(out.Windows, s.Windows)
	return &out
}
