package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/LiboWorks/screenflow/internal/config"
	"github.com/LiboWorks/screenflow/internal/host"
	"github.com/LiboWorks/screenflow/internal/interpreter"
	"github.com/LiboWorks/screenflow/internal/observability"
)

func newRunCmd() *cobra.Command {
	var instance, scenario string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured scenarios on every instance",
		Long: `run executes each configured instance in order. For every instance the
launch command runs first, then each listed scenario.

SIGINT or SIGTERM stops the run at the next step boundary. SIGUSR1 pauses
and resumes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.Context(), cmd.OutOrStdout(), config.Get(), instance, scenario)
		},
	}
	cmd.Flags().StringVarP(&instance, "instance", "i", "", "run only this instance")
	cmd.Flags().StringVarP(&scenario, "scenario", "s", "", "run only this scenario on each instance")
	return cmd
}

func selectInstances(cfg *config.Config, name string) ([]config.InstanceConfig, error) {
	if name != "" {
		inst, ok := cfg.Instance(name)
		if !ok {
			return nil, fmt.Errorf("unknown instance %q", name)
		}
		return []config.InstanceConfig{inst}, nil
	}
	if len(cfg.Instances) == 0 {
		return nil, errors.New("no instances configured")
	}
	return cfg.Instances, nil
}

func runScenarios(ctx context.Context, out io.Writer, cfg *config.Config, instance, scenario string) error {
	instances, err := selectInstances(cfg, instance)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	h, c, err := host.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer h.Close()

	ctl := interpreter.NewControl()
	stop := host.WatchSignals(ctx, ctl, c.Notifier, logger)
	defer stop()

	report, err := h.Run(ctx, ctl, instances, scenario)
	printReport(out, report)
	return err
}

func printReport(out io.Writer, report *host.Report) {
	if report == nil {
		return
	}
	for _, res := range report.Results {
		fmt.Fprint(out, res.Summary())
	}
	skipped := make([]string, 0, len(report.Skipped))
	for name := range report.Skipped {
		skipped = append(skipped, name)
	}
	sort.Strings(skipped)
	for _, name := range skipped {
		fmt.Fprintf(out, "instance %s skipped: %v\n", name, report.Skipped[name])
	}
}
