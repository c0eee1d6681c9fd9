// File: cmd/run.go
// Description: The main pipeline command. Wires the execution backend,
// detector, vision session, coordinator, relay, and journal together and
// runs them until interrupted.

package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/actions"
	"github.com/nakurity/neurodesk/internal/backend"
	"github.com/nakurity/neurodesk/internal/detector"
	"github.com/nakurity/neurodesk/internal/network"
	"github.com/nakurity/neurodesk/internal/observability"
	"github.com/nakurity/neurodesk/internal/perception"
	"github.com/nakurity/neurodesk/internal/relay"
	"github.com/nakurity/neurodesk/internal/store"
	"github.com/nakurity/neurodesk/internal/vision"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the perception loop and action pipeline",
	Long: `Connects to the OS-level execution backend, starts the fixed-cadence
perception loop (OCR every tick, vision analysis every Nth tick), and
relays context snapshots to the agent while accepting action requests.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	cfg := appConfig

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exec := backend.NewClient(cfg.Backend, logger)
	defer exec.Close()

	engine := detector.NewTesseractEngine(cfg.Detector.TesseractPath, logger)
	det := detector.New(cfg.Detector, engine, logger)
	if !det.Available() {
		logger.Warn("OCR engine unavailable, running with empty element sets")
	}

	coordinator := actions.NewCoordinator(exec, logger)

	var analyzer schemas.VisionAnalyzer
	var visionClient *vision.Client
	if cfg.Vision.Enabled {
		httpCfg := network.NewDefaultClientConfig()
		httpCfg.RequestTimeout = cfg.Network.RequestTimeout
		httpCfg.IgnoreTLSErrors = cfg.Network.IgnoreTLSErrors
		httpCfg.Logger = logger
		visionClient = vision.NewClient(cfg.Vision, network.NewClient(httpCfg), logger)
		analyzer = visionClient
	}

	var journal schemas.SnapshotJournal
	if cfg.Journal.Enabled {
		j, err := store.Open(cfg.Journal, logger)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
	}

	orchestrator := perception.New(perception.Options{
		Config:   cfg.Perception,
		Render:   cfg.Detector,
		Detector: det,
		Vision:   analyzer,
		Backend:  exec,
		Gate:     coordinator,
		Journal:  journal,
		Logger:   logger,
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return orchestrator.Run(groupCtx)
	})

	if visionClient != nil {
		group.Go(func() error {
			visionClient.RunHeartbeats(groupCtx)
			return nil
		})
		defer func() {
			// The loop context is gone by now; give the release its own
			// short deadline.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			visionClient.Release(releaseCtx)
		}()
	}

	if cfg.Relay.Enabled {
		agentRelay := relay.New(cfg.Relay, cfg.Detector, orchestrator, coordinator, logger)
		group.Go(func() error {
			return agentRelay.Run(groupCtx)
		})
	}

	logger.Info("pipeline running",
		zap.String("backend", cfg.Backend.URL),
		zap.Bool("vision", cfg.Vision.Enabled),
		zap.Bool("relay", cfg.Relay.Enabled))

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("pipeline stopped")
		return nil
	}
	return err
}
