// File: cmd/report.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/receipt-harvester/internal/reporting"
)

// newReportCmd creates the `report` command, which re-renders the JSON report
// written by `run --report`.
func newReportCmd() *cobra.Command {
	var outputPath string
	var format string

	reportCmd := &cobra.Command{
		Use:   "report <report.json>",
		Short: "Render the summary of a previous run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open report: %w", err)
			}
			defer f.Close()

			res, err := reporting.ReadSummary(f)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			var r reporting.Reporter
			if outputPath == "" {
				r, err = reporting.NewWriter(cmd.OutOrStdout(), format)
			} else {
				r, err = reporting.New(format, outputPath)
			}
			if err != nil {
				return err
			}
			if err := r.Write(res); err != nil {
				r.Close()
				return err
			}
			return r.Close()
		},
	}

	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the report to this file instead of standard output")
	reportCmd.Flags().StringVarP(&format, "format", "f", "text", "Report format (text, markdown, json)")

	return reportCmd
}
