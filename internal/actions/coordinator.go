// File: internal/actions/coordinator.go
// Description: Serializes agent-issued actions toward the execution
// backend. At most one action is in flight system-wide; the same flag
// gates context publication so snapshots are never emitted mid-action.

package actions

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nakurity/neurodesk/api/schemas"
)

// Resolution is the screen size used for coordinate clamping.
type Resolution struct {
	Width  int
	Height int
}

// defaultResolution is the fallback until the perception loop reports the
// real screen size.
var defaultResolution = Resolution{Width: 1920, Height: 1080}

// Coordinator validates and dispatches action requests one at a time.
type Coordinator struct {
	backend    schemas.ExecutionBackend
	logger     *zap.Logger
	busy       atomic.Bool
	resolution atomic.Pointer[Resolution]
}

// NewCoordinator wires the coordinator to an execution backend.
func NewCoordinator(backend schemas.ExecutionBackend, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{backend: backend, logger: logger.Named("Actions")}
	res := defaultResolution
	c.resolution.Store(&res)
	return c
}

// IsBusy reports whether an action is currently in flight. The perception
// loop consults this before publishing a snapshot.
func (c *Coordinator) IsBusy() bool {
	return c.busy.Load()
}

// UpdateResolution records the current screen size for coordinate
// clamping. Called by the perception loop whenever a capture reports it.
func (c *Coordinator) UpdateResolution(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.resolution.Store(&Resolution{Width: width, Height: height})
}

// Submit validates the request, clamps its target to the screen bounds,
// and forwards it to the execution backend. A second Submit while one is
// in flight fails immediately with ErrActionInProgress; requests are never
// queued.
func (c *Coordinator) Submit(ctx context.Context, req schemas.ActionRequest) (schemas.ActionResult, error) {
	if err := validateRequest(req); err != nil {
		return schemas.ActionResult{RequestID: req.ID, Error: err.Error()}, err
	}
	if actionSchemas[req.Kind].localOnly {
		err := fmt.Errorf("%w: request %s (%s) is answered from local context, not dispatched", schemas.ErrInvalidAction, req.ID, req.Kind)
		return schemas.ActionResult{RequestID: req.ID, Error: err.Error()}, err
	}

	dispatched, clamped := c.clampTarget(req)

	if !c.busy.CompareAndSwap(false, true) {
		return schemas.ActionResult{RequestID: req.ID},
			fmt.Errorf("%w: request %s rejected", schemas.ErrActionInProgress, req.ID)
	}
	defer c.busy.Store(false)

	start := time.Now()
	c.logger.Debug("dispatching action",
		zap.String("id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.Bool("clamped", clamped))

	result, err := c.backend.Execute(ctx, dispatched)
	result.RequestID = req.ID
	result.Duration = time.Since(start)
	if clamped {
		result.Clamped = true
		result.ClampedTarget = dispatched.Target
	}

	if err != nil {
		if !errors.Is(err, schemas.ErrExecutionUnreachable) {
			err = fmt.Errorf("%w: request %s: %v", schemas.ErrExecutionUnreachable, req.ID, err)
		}
		c.logger.Error("action dispatch failed",
			zap.String("id", req.ID),
			zap.Error(err))
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
		return result, err
	}
	return result, nil
}

// clampTarget confines the target to [0, width-1] x [0, height-1].
// Out-of-range coordinates come from stale context, so they are recovered
// rather than rejected, and the clamp is reported in the result.
func (c *Coordinator) clampTarget(req schemas.ActionRequest) (schemas.ActionRequest, bool) {
	if req.Target == nil {
		return req, false
	}
	res := c.resolution.Load()
	clamped := *req.Target
	clamped.X = clampInt(clamped.X, 0, res.Width-1)
	clamped.Y = clampInt(clamped.Y, 0, res.Height-1)
	if clamped == *req.Target {
		return req, false
	}
	c.logger.Warn("target outside screen bounds, clamped",
		zap.String("id", req.ID),
		zap.Int("x", req.Target.X), zap.Int("y", req.Target.Y),
		zap.Int("clamped_x", clamped.X), zap.Int("clamped_y", clamped.Y))
	req.Target = &clamped
	return req, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
