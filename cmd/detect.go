// File: cmd/detect.go
// Description: One-shot element detection over an image file, mostly for
// tuning the classifier heuristics without a running backend.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nakurity/neurodesk/internal/detector"
	"github.com/nakurity/neurodesk/internal/observability"
)

var detectList bool

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect UI elements in a screenshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		cfg := appConfig

		engine := detector.NewTesseractEngine(cfg.Detector.TesseractPath, logger)
		det := detector.New(cfg.Detector, engine, logger)

		elements, err := det.DetectFromPath(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		logger.Info("detection complete",
			zap.String("image", args[0]),
			zap.Int("elements", len(elements)))

		if detectList {
			for _, elem := range elements {
				fmt.Printf("%s\t%q\tconf=%.2f\tat=(%d,%d)\n",
					elem.Type, elem.Text, elem.Confidence, elem.Center().X, elem.Center().Y)
			}
			return nil
		}
		fmt.Println(detector.FormatContext(elements,
			cfg.Detector.MaxItemsPerGroup, cfg.Detector.MaxDisplayChars))
		return nil
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectList, "list", false, "print one element per line instead of the grouped rendering")
	rootCmd.AddCommand(detectCmd)
}
