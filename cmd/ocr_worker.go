package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/backend"
	"github.com/LiboWorks/screenflow/internal/config"
	"github.com/LiboWorks/screenflow/internal/observability"
	"github.com/LiboWorks/screenflow/internal/worker"
)

// newOCRWorkerCmd serves learned text recognition over stdin/stdout. The
// host spawns it when ocr.learned.kind is "worker"; it is not meant to be
// run by hand.
func newOCRWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "ocr-worker",
		Short:  "Serve text recognition requests over stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			learned := config.Get().OCR.Learned
			vision, err := backend.NewOpenAIBackend(backend.OpenAIConfig{
				APIKey:       learned.APIKey,
				BaseURL:      learned.BaseURL,
				DefaultModel: learned.Model,
			})
			if err != nil {
				return err
			}
			defer vision.Close()

			logger := observability.GetLogger()
			logger.Debug("OCR worker backend ready", zap.String("backend", vision.Name()))
			return worker.NewServer(vision, logger).Run(cmd.Context())
		},
	}
}
