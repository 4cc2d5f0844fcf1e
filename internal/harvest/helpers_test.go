package harvest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/receipt-harvester/internal/config"
	"github.com/xkilldash9x/receipt-harvester/internal/mocks"
	"github.com/xkilldash9x/receipt-harvester/internal/store"
)

type testRun struct {
	rc     *RunContext
	op     *mocks.MockOperator
	store  *store.Store
	pauses []time.Duration
}

// newTestRun builds a run with default settings, no login wait, no list
// prompt and pauses that return immediately. interactive drives what the
// operator mock reports.
func newTestRun(t *testing.T, interactive bool, tweak ...func(*config.Config)) *testRun {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.NewDefaultConfig()
	cfg.Auth.Manual = false
	cfg.Harvest.PromptListURL = false
	cfg.Harvest.PageURLTemplate = mocks.SiteBase + "/payments?page=%d"
	for _, f := range tweak {
		f(cfg)
	}
	require.NoError(t, cfg.Validate())

	st, err := store.Open(t.TempDir(), logger)
	require.NoError(t, err)

	op := new(mocks.MockOperator)
	op.On("Interactive").Return(interactive).Maybe()

	rc, err := NewRunContext(cfg, st, op, logger)
	require.NoError(t, err)

	tr := &testRun{rc: rc, op: op, store: st}
	rc.Sleep = func(ctx context.Context, d time.Duration) error {
		tr.pauses = append(tr.pauses, d)
		return ctx.Err()
	}
	return tr
}

// artifacts lists stored receipts, leaving out diagnostic snapshots.
func (tr *testRun) artifacts(t *testing.T) []string {
	t.Helper()
	names, err := tr.store.List()
	require.NoError(t, err)
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, tr.rc.Config.Capture.FilePrefix+"_") {
			out = append(out, n)
		}
	}
	return out
}

// issuedPage returns n already issued receipts with references
// CW-<page><pos>.
func issuedPage(page, n int) []mocks.ReceiptSpec {
	specs := make([]mocks.ReceiptSpec, n)
	for i := range specs {
		specs[i] = mocks.ReceiptSpec{Reference: fmt.Sprintf("CW-%d%02d", page, i+1), Issued: true}
	}
	return specs
}
