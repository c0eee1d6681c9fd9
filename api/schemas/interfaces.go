// File: api/schemas/interfaces.go
// Description: Component contracts shared across the pipeline. Keeping these
// here instead of in the implementing packages lets the orchestrator, the
// coordinator and the CLI wire everything through interfaces, which is what
// makes the individual pieces mockable in tests.

package schemas

import (
	"context"
	"image"
)

// Detector extracts UI elements from a captured screen image.
type Detector interface {
	// Detect returns the deduplicated, classified element set for an image.
	// Returns ErrDetectionUnavailable when the recognition engine is not
	// installed; callers degrade to an empty set.
	Detect(ctx context.Context, img image.Image) ([]DetectedElement, error)

	// DetectFromPath is Detect for an image file on disk.
	DetectFromPath(ctx context.Context, path string) ([]DetectedElement, error)
}

// VisionAnalyzer is the remote vision-model surface consumed by the
// orchestrator. Session lifecycle (claim/heartbeat/release) is the
// implementation's concern; Analyze transparently re-claims once on expiry.
type VisionAnalyzer interface {
	// IsConfigured reports whether the feature is usable at all, without
	// touching the network.
	IsConfigured() bool

	// Analyze submits an image and returns a free-text summary.
	Analyze(ctx context.Context, img image.Image, prompt string) (string, error)

	// Release ends the session. Best-effort; errors are logged, not returned.
	Release(ctx context.Context)
}

// ExecutionBackend is the OS-level input/capture service, consumed over a
// persistent message channel. Connection errors surface as
// ErrExecutionUnreachable.
type ExecutionBackend interface {
	// Execute forwards a validated action request and reports the outcome.
	Execute(ctx context.Context, req ActionRequest) (ActionResult, error)

	// EnumerateWindows lists the currently visible top-level windows.
	EnumerateWindows(ctx context.Context) ([]WindowInfo, error)

	// CaptureScreen grabs the current screen contents.
	CaptureScreen(ctx context.Context) (image.Image, error)
}

// SnapshotJournal records published context snapshots for later inspection.
type SnapshotJournal interface {
	Record(ctx context.Context, snap *ContextSnapshot, hash string, rendered string) error
	Close() error
}
