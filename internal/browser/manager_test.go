// internal/browser/manager_test.go
package browser

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/receipt-harvester/internal/config"
)

func flagValue(flags []Flag, name string) (interface{}, bool) {
	var (
		value interface{}
		found bool
	)
	// Last one wins, as in the allocator.
	for _, f := range flags {
		if f.Name == name {
			value, found = f.Value, true
		}
	}
	return value, found
}

func TestAllocatorFlags(t *testing.T) {
	t.Run("VisibleByDefault", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Browser
		flags := AllocatorFlags(cfg)

		v, ok := flagValue(flags, "headless")
		require.True(t, ok)
		assert.Equal(t, false, v)

		v, _ = flagValue(flags, "enable-automation")
		assert.Equal(t, false, v)

		v, _ = flagValue(flags, "disable-blink-features")
		assert.Equal(t, "AutomationControlled", v)

		v, _ = flagValue(flags, "window-size")
		assert.Equal(t, "1920,1080", v)
	})

	t.Run("CustomArgs", func(t *testing.T) {
		cfg := config.BrowserConfig{Args: []string{"--lang=ja-JP", "--disable-sync"}}
		flags := AllocatorFlags(cfg)

		v, _ := flagValue(flags, "lang")
		assert.Equal(t, "ja-JP", v)
		v, _ = flagValue(flags, "disable-sync")
		assert.Equal(t, true, v)
		_, ok := flagValue(flags, "window-size")
		assert.False(t, ok)
	})

	t.Run("LinuxSandbox", func(t *testing.T) {
		_, ok := flagValue(AllocatorFlags(config.BrowserConfig{}), "no-sandbox")
		assert.Equal(t, runtime.GOOS == "linux", ok)
	})

	t.Run("OptionsIncludeDefaults", func(t *testing.T) {
		cfg := config.BrowserConfig{Headless: true}
		opts := AllocatorOptions(cfg)
		assert.Greater(t, len(opts), len(AllocatorFlags(cfg)))
	})
}

func TestManagerLifecycle(t *testing.T) {
	found := false
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no Chrome or Chromium binary found")
	}

	cfg := config.NewDefaultConfig().Browser
	cfg.Headless = true
	cfg.NavigationRate = 0

	ctx := context.Background()
	m := NewManager(ctx, zaptest.NewLogger(t), cfg)

	s, err := m.NewSession(ctx)
	require.NoError(t, err)

	addr, err := s.CurrentAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "about:blank", addr)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	assert.NoError(t, m.Shutdown(shutdownCtx))
}
