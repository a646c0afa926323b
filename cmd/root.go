package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/config"
	"github.com/LiboWorks/screenflow/internal/observability"
)

// newRootCmd builds the command tree. Each call returns an independent tree
// so tests can execute commands without sharing flag state.
func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "screenflow",
		Short: "Run declarative screen automation scenarios against Android devices",
		Long: `screenflow drives Android devices and emulators through adb by running
YAML scenarios. Steps tap, swipe and wait; conditions look at the screen
through template matching, feature matching and OCR.

Examples:
  screenflow run -c screenflow.yaml
  screenflow run --instance main --scenario daily
  screenflow validate resources/en/workflows.yaml`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				observability.InitializeLogger(config.NewConfig().Logger)
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			config.Set(cfg)
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded",
				zap.String("version", Version),
				zap.String("resources_dir", cfg.ResourcesDir),
				zap.Int("instances", len(cfg.Instances)))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./screenflow.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCmd(), newValidateCmd(), newHistoryCmd(), newOCRWorkerCmd(), newVersionCmd())
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		observability.Sync()
		os.Exit(1)
	}
}
