// File: cmd/run.go
package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/internal/config"
	"github.com/xkilldash9x/receipt-harvester/internal/harvest"
	"github.com/xkilldash9x/receipt-harvester/internal/observability"
	"github.com/xkilldash9x/receipt-harvester/internal/operator"
	"github.com/xkilldash9x/receipt-harvester/internal/reporting"
	"github.com/xkilldash9x/receipt-harvester/internal/retry"
	"github.com/xkilldash9x/receipt-harvester/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd(provider viewProvider) *cobra.Command {
	var (
		listURL    string
		format     string
		reportPath string
		unattended bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Log in, discover the receipt pages and save every receipt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if unattended {
				cfg.Operator.Interactive = false
			}

			// Fail on a bad format before the browser is started.
			out, err := reporting.NewWriter(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}
			defer out.Close()

			st, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			rc, err := newRunContext(cmd, cfg, st, logger)
			if err != nil {
				return err
			}

			view, cleanup, err := provider.Open(ctx, cfg, rc.Logger)
			if err != nil {
				return fmt.Errorf("failed to open browser: %w", err)
			}
			defer cleanup()

			res, runErr := harvest.NewRunner(rc, view).Run(ctx, listURL)

			if reportPath != "" {
				if err := writeReport(reportPath, res); err != nil {
					logger.Warn("Could not write run report", zap.Error(err))
				}
			}
			if err := out.Write(res); err != nil {
				logger.Warn("Could not print run summary", zap.Error(err))
			}

			if runErr != nil {
				if errors.Is(runErr, harvest.ErrNoItems) {
					logger.Error("Nothing to harvest on the first list page", zap.String("list_url", res.ListURL))
				}
				return runErr
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&listURL, "list-url", "u", "", "First receipt list page (skips the address prompt)")
	runCmd.Flags().StringVarP(&format, "format", "f", "text", "Summary format printed at the end (text, markdown, json)")
	runCmd.Flags().BoolVar(&unattended, "unattended", false, "Never prompt; exhausted retries resolve to operator.unattended_decision")
	runCmd.Flags().StringVar(&reportPath, "report", "", "Also write the summary as JSON to this file (see `harvest report`)")
	runCmd.Flags().String("run-dir", "", "Use this directory instead of a new timestamped one")
	runCmd.Flags().Int("page-count", 0, "Number of list pages; skips next-page discovery (needs harvest.page_url_template)")
	runCmd.Flags().Int("max-pages", 0, "Stop discovery after this many pages (0 = unlimited)")
	runCmd.Flags().Int("item-count", 0, "Expected number of receipts, for progress display (0 = count during discovery)")

	return runCmd
}

// openStore creates the run directory: output.dir verbatim when set,
// otherwise a timestamped directory under output.base_dir.
func openStore(cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	if cfg.Output.Dir != "" {
		return store.Open(cfg.Output.Dir, logger)
	}
	return store.New(cfg.Output.BaseDir, cfg.Output.DirPrefix, time.Now(), logger)
}

// newRunContext wires the console operator to the command's streams. Prompts
// and progress go to stderr so stdout carries only the summary.
func newRunContext(cmd *cobra.Command, cfg *config.Config, st *store.Store, logger *zap.Logger) (*harvest.RunContext, error) {
	decision, err := retry.ParseDecision(cfg.Operator.UnattendedDecision)
	if err != nil {
		return nil, err
	}
	console := operator.NewConsole(cmd.InOrStdin(), cmd.ErrOrStderr(), cfg.Operator.Interactive, decision, logger)
	return harvest.NewRunContext(cfg, st, console, logger)
}

// writeReport stores the JSON summary outside the run directory, which only
// ever holds receipts and diagnostics.
func writeReport(path string, res harvest.Result) error {
	r, err := reporting.New("json", path)
	if err != nil {
		return err
	}
	if err := r.Write(res); err != nil {
		r.Close()
		return err
	}
	return r.Close()
}
