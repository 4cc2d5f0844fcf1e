// File: cmd/root_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/receipt-harvester/internal/mocks"
)

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, &fakeProvider{}, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "harvest version "+Version)
}

func TestRootCmd_NoArgs(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, &fakeProvider{}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Harvest issues and saves payment receipts")
	assert.Contains(t, out, "discover")
	assert.Contains(t, out, "report")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	t.Run("ValidationFails", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("HARVEST_RETRY_MAX_ATTEMPTS", "0")
		provider := &fakeProvider{view: mocks.NewReceiptSite(issuedPage(1, 1))}

		_, err := executeCommand(t, provider, "", "run", "--list-url", mocks.ListAddress(1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry.max_attempts")
		assert.Zero(t, provider.opened)
	})

	t.Run("UnreadableFile", func(t *testing.T) {
		resetForTest(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("retry: [unclosed"), 0o644))

		_, err := executeCommand(t, &fakeProvider{}, "", "report", "--config", path, "summary.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("BadDecision", func(t *testing.T) {
		resetForTest(t)
		t.Setenv("HARVEST_OPERATOR_UNATTENDED_DECISION", "retry")

		_, err := executeCommand(t, &fakeProvider{}, "", "report", "summary.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "operator.unattended_decision")
	})
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	resetForTest(t)
	base := t.TempDir()
	runDir := filepath.Join(base, "from-flag")
	cfgPath := filepath.Join(base, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
capture:
  file_prefix: receipt
output:
  dir: `+filepath.Join(base, "from-file")+`
`), 0o644))

	provider := &fakeProvider{view: mocks.NewReceiptSite(issuedPage(1, 1))}
	_, err := executeCommand(t, provider, "",
		"run", "-c", cfgPath, "--run-dir", runDir, "--unattended", "--list-url", mocks.ListAddress(1))
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(runDir, "receipt_001*.pdf"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.NoDirExists(t, filepath.Join(base, "from-file"))
}
