// File: internal/perception/orchestrator.go
// Description: The perception loop. Every tick captures the screen and
// runs element detection; every Nth tick it additionally requests a vision
// summary, fire-and-forget with a bounded timeout. The merged snapshot is
// published only when it changed and no action is in flight.

package perception

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/config"
	"github.com/nakurity/neurodesk/internal/detector"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Gate suppresses snapshot publication while an action is in flight. The
// action coordinator implements it; the orchestrator also feeds the gate
// the current screen resolution for coordinate clamping.
type Gate interface {
	IsBusy() bool
	UpdateResolution(width, height int)
}

// visionResult is the latest-wins slot filled by the asynchronous analyze
// call. A result that arrives after its cycle passed still enriches the
// next snapshot.
type visionResult struct {
	summary string
	at      time.Time
}

// Options wires an Orchestrator. Detector and Backend are required; the
// rest degrade to no-ops when nil.
type Options struct {
	Config   config.PerceptionConfig
	Render   config.DetectorConfig
	Detector schemas.Detector
	Vision   schemas.VisionAnalyzer
	Backend  schemas.ExecutionBackend
	Gate     Gate
	Journal  schemas.SnapshotJournal
	Logger   *zap.Logger
}

// Orchestrator runs the fixed-cadence perception loop and owns the latest
// context snapshot. Not restartable: Run may be called once per instance.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	latest   *schemas.ContextSnapshot
	lastHash string
	pending  *schemas.ContextSnapshot // dirty snapshot retained behind a busy gate

	visionSlot     atomic.Pointer[visionResult]
	visionInFlight atomic.Bool
	wg             sync.WaitGroup

	subMu sync.Mutex
	subs  []chan *schemas.ContextSnapshot
}

// New builds an orchestrator. Call Run to start the loop.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{opts: opts, logger: logger.Named("Perception")}
}

// Subscribe returns a channel receiving published snapshots. Slow
// consumers never block the loop: a new snapshot replaces an unconsumed
// one.
func (o *Orchestrator) Subscribe() <-chan *schemas.ContextSnapshot {
	ch := make(chan *schemas.ContextSnapshot, 1)
	o.subMu.Lock()
	o.subs = append(o.subs, ch)
	o.subMu.Unlock()
	return ch
}

// Latest returns a copy of the most recent snapshot, published or not.
// Nil before the first completed tick.
func (o *Orchestrator) Latest() *schemas.ContextSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest.Clone()
}

// Run drives the loop until ctx is cancelled. In-flight vision calls are
// allowed to finish or time out before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.opts.Config.TickInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("perception loop started",
		zap.Duration("tick_interval", interval),
		zap.Int("vision_every_n", o.opts.Config.VisionEveryN))

	tickNo := 0
	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			o.logger.Info("perception loop stopped", zap.Int("ticks", tickNo))
			return ctx.Err()
		case <-ticker.C:
			tickNo++
			o.tick(ctx, tickNo)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context, tickNo int) {
	everyN := o.opts.Config.VisionEveryN
	if everyN <= 0 {
		everyN = 10
	}
	if _, err := o.cycle(ctx, tickNo%everyN == 0, false); err != nil {
		o.logger.Warn("screen capture failed, skipping tick", zap.Error(err))
	}
}

// ForceRefresh runs one perception cycle immediately, outside the tick
// cadence, and publishes the result even when nothing changed since the
// last publication. withVision additionally requests a vision pass for
// this cycle; the summary lands asynchronously like on a scheduled tick.
func (o *Orchestrator) ForceRefresh(ctx context.Context, withVision bool) (*schemas.ContextSnapshot, error) {
	return o.cycle(ctx, withVision, true)
}

// cycle is one capture-detect-publish pass, shared by the ticker loop and
// ForceRefresh. It returns a copy of the snapshot it built, or the capture
// error when the screen could not be read.
func (o *Orchestrator) cycle(ctx context.Context, wantVision, force bool) (*schemas.ContextSnapshot, error) {
	captureTimeout := o.opts.Config.CaptureTimeout
	if captureTimeout <= 0 {
		captureTimeout = 5 * time.Second
	}
	capCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	img, err := o.opts.Backend.CaptureScreen(capCtx)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if o.opts.Gate != nil {
		o.opts.Gate.UpdateResolution(bounds.Dx(), bounds.Dy())
	}

	// Window metadata is best-effort; an empty list still yields a usable
	// snapshot.
	windows, err := o.opts.Backend.EnumerateWindows(capCtx)
	if err != nil {
		o.logger.Debug("window enumeration failed", zap.Error(err))
		windows = nil
	}

	elements, err := o.opts.Detector.Detect(ctx, img)
	switch {
	case errors.Is(err, schemas.ErrDetectionUnavailable):
		elements = nil // degraded mode, not fatal
	case err != nil:
		o.logger.Warn("element detection failed", zap.Error(err))
		elements = nil
	}

	if wantVision {
		o.analyzeAsync(ctx, img)
	}

	snap := &schemas.ContextSnapshot{
		Timestamp:        time.Now(),
		ScreenResolution: schemas.Point{X: bounds.Dx(), Y: bounds.Dy()},
		Windows:          windows,
		Elements:         elements,
	}
	for _, w := range windows {
		if w.Focused {
			snap.ActiveApplication = w.Application
			break
		}
	}
	if result := o.visionSlot.Load(); result != nil {
		snap.VisionSummary = result.summary
	}

	o.publish(ctx, snap, force)
	return snap.Clone(), nil
}

// analyzeAsync kicks off a vision call unless one is already in flight.
// The result lands in the latest-wins slot; a hung call never delays the
// OCR path of subsequent cycles.
func (o *Orchestrator) analyzeAsync(ctx context.Context, img image.Image) {
	if o.opts.Vision == nil || !o.opts.Vision.IsConfigured() {
		return
	}
	if !o.visionInFlight.CompareAndSwap(false, true) {
		o.logger.Debug("previous vision call still in flight, skipping this cycle")
		return
	}

	timeout := o.opts.Config.VisionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.visionInFlight.Store(false)

		visCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		summary, err := o.opts.Vision.Analyze(visCtx, img, "")
		if err != nil {
			// Vision failures never block OCR-based context.
			o.logger.Warn("vision analysis failed, omitting summary", zap.Error(err))
			return
		}
		o.visionSlot.Store(&visionResult{summary: summary, at: time.Now()})
	}()
}

// publish records the snapshot as latest, and emits it to subscribers and
// the journal when it is dirty and no action is in flight. A snapshot held
// back by a busy gate is retained and emitted on the first idle tick.
// force marks an unchanged snapshot dirty anyway; the gate still applies.
func (o *Orchestrator) publish(ctx context.Context, snap *schemas.ContextSnapshot, force bool) {
	hash := snapshotHash(snap)

	o.mu.Lock()
	o.latest = snap
	dirty := force || hash != o.lastHash
	if dirty {
		o.lastHash = hash
		o.pending = snap
	}
	gateBusy := o.opts.Gate != nil && o.opts.Gate.IsBusy()
	var emit *schemas.ContextSnapshot
	if !gateBusy && o.pending != nil {
		emit = o.pending
		o.pending = nil
	}
	o.mu.Unlock()

	if emit == nil {
		if gateBusy && dirty {
			o.logger.Debug("action in flight, retaining snapshot")
		}
		return
	}

	rendered := detector.FormatContext(emit.Elements,
		o.opts.Render.MaxItemsPerGroup, o.opts.Render.MaxDisplayChars)

	if o.opts.Journal != nil {
		if err := o.opts.Journal.Record(ctx, emit, hash, rendered); err != nil {
			o.logger.Warn("journal record failed", zap.Error(err))
		}
	}

	o.subMu.Lock()
	for _, ch := range o.subs {
		out := emit.Clone()
		select {
		case ch <- out:
		default:
			// Drop the stale unconsumed snapshot, deliver the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- out:
			default:
			}
		}
	}
	o.subMu.Unlock()

	o.logger.Debug("context published",
		zap.Int("elements", len(emit.Elements)),
		zap.Bool("vision", emit.VisionSummary != ""))
}

// snapshotHash is the change-detection signal: snapshots hashing equal are
// considered identical and not republished.
func snapshotHash(snap *schemas.ContextSnapshot) string {
	payload, err := json.Marshal(struct {
		Elements []schemas.DetectedElement `json:"elements"`
		Vision   string                    `json:"vision"`
		App      string                    `json:"app"`
		Res      schemas.Point             `json:"res"`
	}{snap.Elements, snap.VisionSummary, snap.ActiveApplication, snap.ScreenResolution})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
