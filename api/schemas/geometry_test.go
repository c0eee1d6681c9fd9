// File: api/schemas/geometry_test.go
package schemas

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestNewBoundingBoxClampsNegativeDimensions(t *testing.T) {
	t.Parallel()

	box := NewBoundingBox(10, 20, -5, -1)
	assert.Equal(t, 0, box.Width)
	assert.Equal(t, 0, box.Height)
	assert.Equal(t, 0, box.Area())

	// Negative origins survive; secondary monitors sit left of the primary.
	box = NewBoundingBox(-1920, 0, 1920, 1080)
	assert.Equal(t, -1920, box.X)
}

func TestBoundingBoxCenterAndContains(t *testing.T) {
	t.Parallel()

	box := NewBoundingBox(100, 200, 80, 40)
	assert.Equal(t, Point{X: 140, Y: 220}, box.Center())
	assert.True(t, box.Contains(Point{X: 100, Y: 200}))
	assert.True(t, box.Contains(Point{X: 180, Y: 240}))
	assert.False(t, box.Contains(Point{X: 181, Y: 220}))
}

func TestIntersection(t *testing.T) {
	t.Parallel()

	a := NewBoundingBox(0, 0, 100, 100)
	b := NewBoundingBox(50, 50, 100, 100)
	if diff := cmp.Diff(BoundingBox{X: 50, Y: 50, Width: 50, Height: 50}, a.Intersection(b)); diff != "" {
		t.Errorf("intersection mismatch (-want +got):\n%s", diff)
	}

	// Disjoint boxes intersect in nothing.
	c := NewBoundingBox(500, 500, 10, 10)
	assert.Equal(t, BoundingBox{}, a.Intersection(c))
}

func TestOverlapRatio(t *testing.T) {
	t.Parallel()

	a := NewBoundingBox(0, 0, 100, 100)
	assert.Equal(t, 1.0, a.OverlapRatio(a))

	b := NewBoundingBox(50, 0, 100, 100)
	assert.InDelta(t, 0.5, a.OverlapRatio(b), 0.0001)

	empty := NewBoundingBox(0, 0, 0, 0)
	assert.Equal(t, 0.0, a.OverlapRatio(empty))

	// Ratio is against the smaller box: a small box fully inside a large
	// one overlaps completely.
	small := NewBoundingBox(10, 10, 10, 10)
	assert.Equal(t, 1.0, a.OverlapRatio(small))
}

func TestDistanceTo(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5.0, Point{X: 0, Y: 0}.DistanceTo(Point{X: 3, Y: 4}))
	assert.Equal(t, 0.0, Point{X: 7, Y: 7}.DistanceTo(Point{X: 7, Y: 7}))
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := &ContextSnapshot{
		ActiveApplication: "browser",
		Elements: []DetectedElement{
			{Text: "Subscribe", Type: ElementButton, Bounds: NewBoundingBox(600, 460, 80, 40)},
		},
		Windows: []WindowInfo{{Title: "Watching", Application: "browser", Focused: true}},
	}

	clone := orig.Clone()
	if diff := cmp.Diff(orig, clone); diff != "" {
		t.Fatalf("clone differs from original (-want +got):\n%s", diff)
	}

	clone.Elements[0].Text = "changed"
	clone.Windows[0].Title = "changed"
	assert.Equal(t, "Subscribe", orig.Elements[0].Text, "element slices are not shared")
	assert.Equal(t, "Watching", orig.Windows[0].Title, "window slices are not shared")

	var nilSnap *ContextSnapshot
	assert.Nil(t, nilSnap.Clone())
}
