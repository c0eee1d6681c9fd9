// File: internal/detector/detector.go
// Description: OCR-based UI element detection. Raw text regions from the
// recognition engine are classified, filtered by confidence, and
// deduplicated into the element set carried by context snapshots.

package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/config"
)

// Detector turns captured screen images into classified UI elements.
type Detector struct {
	cfg    config.DetectorConfig
	engine Engine
	logger *zap.Logger
}

// New creates a Detector around a recognition engine. A nil engine yields a
// detector that always reports ErrDetectionUnavailable, which callers treat
// as an empty element set.
func New(cfg config.DetectorConfig, engine Engine, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, engine: engine, logger: logger.Named("Detector")}
}

// Available reports whether the underlying engine is usable.
func (d *Detector) Available() bool {
	return d.engine != nil && d.engine.Available()
}

// Detect runs recognition over the image and returns the deduplicated,
// classified element set, ordered by descending confidence.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]schemas.DetectedElement, error) {
	if !d.Available() {
		return nil, schemas.ErrDetectionUnavailable
	}

	observations, err := d.engine.Recognize(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}

	elements := make([]schemas.DetectedElement, 0, len(observations))
	for _, obs := range observations {
		text := strings.TrimSpace(obs.Text)
		elementType := classify(classifierInput{
			Text:   text,
			Width:  obs.Bounds.Width,
			Height: obs.Bounds.Height,
		})
		if obs.Confidence < d.cfg.MinConfidence {
			continue
		}
		// Inputs may legitimately be empty; everything else needs text.
		if text == "" && elementType != schemas.ElementInput {
			continue
		}
		elements = append(elements, schemas.DetectedElement{
			Text:       text,
			Bounds:     obs.Bounds,
			Confidence: obs.Confidence,
			Type:       elementType,
			Source:     schemas.SourceOCR,
		})
	}

	deduped := d.dedupe(elements)
	d.logger.Debug("detection cycle complete",
		zap.Int("raw", len(observations)),
		zap.Int("kept", len(deduped)))
	return deduped, nil
}

// DetectFromPath is Detect for an image file on disk.
func (d *Detector) DetectFromPath(ctx context.Context, path string) ([]schemas.DetectedElement, error) {
	if !d.Available() {
		return nil, schemas.ErrDetectionUnavailable
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return d.Detect(ctx, img)
}

// dedupe merges elements whose boxes overlap beyond the configured ratio
// and whose text is near-identical, keeping the highest-confidence
// instance. The result is sorted by descending confidence.
func (d *Detector) dedupe(elements []schemas.DetectedElement) []schemas.DetectedElement {
	sorted := make([]schemas.DetectedElement, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]schemas.DetectedElement, 0, len(sorted))
	for _, candidate := range sorted {
		duplicate := false
		for _, existing := range kept {
			if existing.Bounds.OverlapRatio(candidate.Bounds) >= d.cfg.DedupeOverlap &&
				normalizeText(existing.Text) == normalizeText(candidate.Text) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// normalizeText collapses whitespace and lowercases, the tolerance used
// when deciding two overlapping regions carry the same text.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
