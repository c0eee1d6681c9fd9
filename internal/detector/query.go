// File: internal/detector/query.go
package detector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nakurity/neurodesk/api/schemas"
)

// Nearest returns the element whose center is closest to point, provided
// the distance does not exceed maxDistance. Returns nil when no element
// qualifies.
func Nearest(elements []schemas.DetectedElement, point schemas.Point, maxDistance float64) *schemas.DetectedElement {
	var best *schemas.DetectedElement
	bestDist := maxDistance
	for i := range elements {
		dist := elements[i].Center().DistanceTo(point)
		if dist <= bestDist {
			elem := elements[i]
			best = &elem
			bestDist = dist
		}
	}
	return best
}

// GroupByType buckets elements by their classified type, preserving input
// order within each bucket.
func GroupByType(elements []schemas.DetectedElement) map[schemas.ElementType][]schemas.DetectedElement {
	grouped := make(map[schemas.ElementType][]schemas.DetectedElement)
	for _, elem := range elements {
		grouped[elem.Type] = append(grouped[elem.Type], elem)
	}
	return grouped
}

// renderOrder fixes the section ordering of rendered context: interactive
// elements first, free text last.
var renderOrder = []struct {
	elemType schemas.ElementType
	heading  string
}{
	{schemas.ElementButton, "Buttons"},
	{schemas.ElementLink, "Links"},
	{schemas.ElementInput, "Inputs"},
	{schemas.ElementText, "Visible Text"},
}

// FormatContext renders elements for the agent-facing context message.
// Each type gets its own section, capped at maxPerGroup entries with an
// "...and N more items" suffix; element text is truncated to maxChars.
func FormatContext(elements []schemas.DetectedElement, maxPerGroup, maxChars int) string {
	if len(elements) == 0 {
		return "[No UI elements detected]"
	}
	if maxPerGroup <= 0 {
		maxPerGroup = 10
	}

	grouped := GroupByType(elements)
	var b strings.Builder
	fmt.Fprintf(&b, "UI Elements Detected: %d total", len(elements))

	for _, section := range renderOrder {
		group := grouped[section.elemType]
		if len(group) == 0 {
			continue
		}
		// Most confident entries first within each section.
		sorted := make([]schemas.DetectedElement, len(group))
		copy(sorted, group)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Confidence > sorted[j].Confidence
		})

		fmt.Fprintf(&b, "\n\n%s (%d):", section.heading, len(group))
		shown := 0
		for _, elem := range sorted {
			if shown >= maxPerGroup {
				break
			}
			center := elem.Center()
			fmt.Fprintf(&b, "\n  - %q at (%d, %d)", truncate(elem.Text, maxChars), center.X, center.Y)
			shown++
		}
		if remaining := len(group) - shown; remaining > 0 {
			fmt.Fprintf(&b, "\n  ...and %d more items", remaining)
		}
	}
	return b.String()
}

// truncate cuts s to at most maxChars runes, appending an ellipsis when
// anything was dropped.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 50
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "..."
}
