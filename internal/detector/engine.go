// File: internal/detector/engine.go
package detector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nakurity/neurodesk/api/schemas"
)

// Observation is one raw text region reported by the recognition engine,
// before classification and deduplication.
type Observation struct {
	Text       string
	Bounds     schemas.BoundingBox
	Confidence float64
}

// Engine abstracts the underlying text recognition backend so the detector
// logic can be tested without an OCR installation.
type Engine interface {
	// Available reports whether the engine can be used at all.
	Available() bool

	// Recognize runs text recognition over the full image.
	Recognize(ctx context.Context, img image.Image) ([]Observation, error)
}

// TesseractEngine shells out to the tesseract CLI and parses its TSV
// output. Absence of the binary is detected at construction and reported
// through Available, never as a hard failure.
type TesseractEngine struct {
	binPath string
	logger  *zap.Logger
}

// NewTesseractEngine resolves the tesseract binary, preferring an explicit
// path over a PATH lookup.
func NewTesseractEngine(binPath string, logger *zap.Logger) *TesseractEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if binPath == "" {
		binPath = "tesseract"
	}
	resolved, err := exec.LookPath(binPath)
	if err != nil {
		logger.Warn("tesseract binary not found; element detection disabled",
			zap.String("path", binPath))
		resolved = ""
	}
	return &TesseractEngine{binPath: resolved, logger: logger.Named("Tesseract")}
}

func (e *TesseractEngine) Available() bool {
	return e.binPath != ""
}

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) ([]Observation, error) {
	if !e.Available() {
		return nil, schemas.ErrDetectionUnavailable
	}

	tmpDir, err := os.MkdirTemp("", "neurodesk-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating OCR scratch dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inputPath := filepath.Join(tmpDir, "capture.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding capture for OCR: %w", err)
	}
	if err := os.WriteFile(inputPath, buf.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("writing capture for OCR: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.binPath, inputPath, "stdout", "tsv")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running tesseract: %w", err)
	}
	return parseTSV(bytes.NewReader(out))
}

// parseTSV converts tesseract's word-level TSV into line-level
// observations: words sharing a block/paragraph/line are joined, their
// boxes unioned and their confidences averaged.
func parseTSV(r *bytes.Reader) ([]Observation, error) {
	type lineKey struct{ block, par, line int }
	type lineAcc struct {
		words   []string
		bounds  schemas.BoundingBox
		confSum float64
		n       int
		order   int
	}

	acc := make(map[lineKey]*lineAcc)
	var keys []lineKey

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header row
			continue
		}
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue // non-word structural rows carry conf -1
		}
		text := strings.TrimSpace(fields[11])
		if text == "" {
			continue
		}

		block, _ := strconv.Atoi(fields[2])
		par, _ := strconv.Atoi(fields[3])
		line, _ := strconv.Atoi(fields[4])
		left, _ := strconv.Atoi(fields[6])
		top, _ := strconv.Atoi(fields[7])
		width, _ := strconv.Atoi(fields[8])
		height, _ := strconv.Atoi(fields[9])

		key := lineKey{block, par, line}
		entry, ok := acc[key]
		if !ok {
			entry = &lineAcc{
				bounds: schemas.NewBoundingBox(left, top, width, height),
				order:  len(keys),
			}
			acc[key] = entry
			keys = append(keys, key)
		} else {
			entry.bounds = union(entry.bounds, schemas.NewBoundingBox(left, top, width, height))
		}
		entry.words = append(entry.words, text)
		entry.confSum += conf / 100.0
		entry.n++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading tesseract output: %w", err)
	}

	observations := make([]Observation, 0, len(keys))
	for _, key := range keys {
		entry := acc[key]
		observations = append(observations, Observation{
			Text:       strings.Join(entry.words, " "),
			Bounds:     entry.bounds,
			Confidence: entry.confSum / float64(entry.n),
		})
	}
	return observations, nil
}

// union returns the smallest box covering both inputs.
func union(a, b schemas.BoundingBox) schemas.BoundingBox {
	x1 := min(a.X, b.X)
	y1 := min(a.Y, b.Y)
	x2 := max(a.X+a.Width, b.X+b.Width)
	y2 := max(a.Y+a.Height, b.Y+b.Height)
	return schemas.BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}
