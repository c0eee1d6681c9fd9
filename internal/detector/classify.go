// File: internal/detector/classify.go
package detector

import (
	"strings"

	"github.com/nakurity/neurodesk/api/schemas"
)

// Shape thresholds for the geometric rules. An input field reads as a wide,
// short box; a button as a small, roughly rectangular one.
const (
	inputAspectRatio = 3
	inputMaxHeight   = 40
	buttonMinWidth   = 50
	buttonMaxWidth   = 200
	buttonMinHeight  = 20
	buttonMaxHeight  = 60
)

// buttonKeywords mark text that names a common interactive control.
var buttonKeywords = []string{
	"click", "button", "submit", "ok", "cancel", "save", "delete",
	"subscribe", "like", "share", "comment", "play", "pause",
	"next", "back", "close", "apply", "sign in", "log in",
}

// linkMarkers mark navigational phrasing or literal URLs.
var linkMarkers = []string{".com", ".org", ".net", ".io"}

// classifierInput is the tagged shape the classification rules operate on.
// Keeping it free of image/OCR types makes every rule testable in isolation.
type classifierInput struct {
	Text   string
	Width  int
	Height int
}

// classifierRule pairs a predicate with the element type it implies. Rules
// are evaluated in order; the first match wins.
type classifierRule struct {
	name    string
	matches func(classifierInput) bool
	result  schemas.ElementType
}

var classifierRules = []classifierRule{
	{
		name: "action keyword",
		matches: func(in classifierInput) bool {
			lower := strings.ToLower(in.Text)
			for _, kw := range buttonKeywords {
				if strings.Contains(lower, kw) {
					return true
				}
			}
			return false
		},
		result: schemas.ElementButton,
	},
	{
		name: "url or domain",
		matches: func(in classifierInput) bool {
			lower := strings.ToLower(in.Text)
			if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
				strings.HasPrefix(lower, "www.") {
				return true
			}
			for _, marker := range linkMarkers {
				if strings.Contains(lower, marker) {
					return true
				}
			}
			return false
		},
		result: schemas.ElementLink,
	},
	{
		name: "wide short box",
		matches: func(in classifierInput) bool {
			return in.Height > 0 && in.Height < inputMaxHeight &&
				in.Width > in.Height*inputAspectRatio
		},
		result: schemas.ElementInput,
	},
	{
		name: "button shaped box",
		matches: func(in classifierInput) bool {
			return in.Width > buttonMinWidth && in.Width < buttonMaxWidth &&
				in.Height > buttonMinHeight && in.Height < buttonMaxHeight
		},
		result: schemas.ElementButton,
	},
}

// classify assigns an element type via the rule table. Anything ambiguous
// degrades to plain text.
func classify(in classifierInput) schemas.ElementType {
	for _, rule := range classifierRules {
		if rule.matches(in) {
			return rule.result
		}
	}
	return schemas.ElementText
}
