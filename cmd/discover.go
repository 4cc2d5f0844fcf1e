// File: cmd/discover.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/internal/harvest"
	"github.com/xkilldash9x/receipt-harvester/internal/observability"
	"github.com/xkilldash9x/receipt-harvester/internal/reporting"
	"github.com/xkilldash9x/receipt-harvester/internal/store"
)

// newDiscoverCmd creates the `discover` command, a dry run that lists the
// receipt pages without opening any item.
func newDiscoverCmd(provider viewProvider) *cobra.Command {
	var listURL string

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "List the receipt pages that a run would visit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			// Discovery writes nothing; the run context still needs a directory.
			tmp, err := os.MkdirTemp("", "harvest-discover-*")
			if err != nil {
				return fmt.Errorf("failed to create scratch directory: %w", err)
			}
			defer func() {
				if err := os.RemoveAll(tmp); err != nil {
					logger.Debug("Scratch directory not removed", zap.Error(err))
				}
			}()
			st, err := store.Open(tmp, logger)
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

			pages, err := harvest.NewRunner(rc, view).Discover(ctx, listURL)
			if err != nil {
				return err
			}
			reporting.WritePages(cmd.OutOrStdout(), pages)
			return nil
		},
	}

	discoverCmd.Flags().StringVarP(&listURL, "list-url", "u", "", "First receipt list page (skips the address prompt)")
	discoverCmd.Flags().Int("page-count", 0, "Number of list pages; skips next-page discovery")
	discoverCmd.Flags().Int("max-pages", 0, "Stop discovery after this many pages (0 = unlimited)")

	return discoverCmd
}
