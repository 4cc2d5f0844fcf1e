// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
	"github.com/xkilldash9x/receipt-harvester/internal/observability"
)

// fakeProvider hands out a prepared view instead of launching a browser.
type fakeProvider struct {
	view   schemas.DocumentView
	err    error
	opened int
	closed int
}

func (p *fakeProvider) Open(context.Context, *config.Config, *zap.Logger) (schemas.DocumentView, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	if p.view == nil {
		return nil, nil, errors.New("no view configured")
	}
	p.opened++
	return p.view, func() { p.closed++ }, nil
}

// resetForTest isolates a test from the developer's environment: no login
// wait, no prompts, no pauses and a log file inside the test directory.
func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	t.Setenv("HARVEST_LOGGER_LEVEL", "error")
	t.Setenv("HARVEST_LOGGER_LOG_FILE", filepath.Join(t.TempDir(), "harvest.log"))
	t.Setenv("HARVEST_AUTH_MANUAL", "false")
	t.Setenv("HARVEST_HARVEST_PROMPT_LIST_URL", "false")
	t.Setenv("HARVEST_HARVEST_SETTLE_DELAY", "0s")
	t.Setenv("HARVEST_RETRY_BACKOFF", "0s")
	t.Setenv("HARVEST_CAPTURE_RETRY_PAUSE", "0s")
	t.Setenv("HARVEST_CAPTURE_COSMETIC_PAUSE", "0s")
	t.Setenv("HARVEST_CAPTURE_INTERACTIVE_PRINT", "false")
}

// executeCommand runs a fresh command tree with the given stdin and returns
// everything written to stdout and stderr.
func executeCommand(t *testing.T, provider viewProvider, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(provider)

	buf := new(bytes.Buffer)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(buf)
	root.SetErr(buf)
	if args == nil {
		// A nil slice makes cobra fall back to os.Args.
		args = []string{}
	}
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}
