package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LiboWorks/screenflow/internal/workflow"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflows.yaml>...",
		Short: "Check workflows files for defects without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			defects := 0
			for _, path := range args {
				doc, err := workflow.LoadDocument(path)
				if err != nil {
					return err
				}
				diags := doc.Validate()
				for _, d := range diags {
					fmt.Fprintf(out, "%s: %s\n", path, d)
				}
				if len(diags) == 0 {
					fmt.Fprintf(out, "%s: %d scenarios ok\n", path, len(doc.Scenarios))
				}
				defects += len(diags)
			}
			if defects > 0 {
				return fmt.Errorf("%d defects found", defects)
			}
			return nil
		},
	}
}
