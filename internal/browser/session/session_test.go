// internal/browser/session/session_test.go
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
)

const listPage = `<!DOCTYPE html><html><head><title>Payments</title></head><body>
<div class="alert">Maintenance tonight</div>
<table>
  <tr><td>2024-01</td><td><a href="/receipt/1">領収書</a></td></tr>
  <tr><td>2024-02</td><td><a href="/receipt/2">請求書</a></td></tr>
  <tr><td>2024-03</td><td><a href="/receipt/3">領収書</a></td></tr>
</table>
<a rel="next" href="/list?page=2">次へ</a>
<button id="counter" onclick="this.dataset.clicks = (parseInt(this.dataset.clicks || '0') + 1)">count</button>
</body></html>`

// findBrowser skips the test when no Chrome binary is installed.
func findBrowser(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome or Chromium binary found")
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	findBrowser(t)

	cfg := config.NewDefaultConfig().Browser
	cfg.Headless = true
	cfg.NavigationRate = 0
	cfg.NavigationTimeout = 20 * time.Second
	cfg.ActionTimeout = 10 * time.Second
	cfg.PollInterval = 20 * time.Millisecond

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("no-sandbox", true))
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	t.Cleanup(cancelAlloc)

	s, err := New(allocCtx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func newListServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, listPage)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSessionAgainstBrowser(t *testing.T) {
	s := newTestSession(t)
	server := newListServer(t)
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, server.URL+"/list"))

	t.Run("CurrentAddress", func(t *testing.T) {
		addr, err := s.CurrentAddress(ctx)
		require.NoError(t, err)
		assert.Equal(t, server.URL+"/list", addr)
	})

	t.Run("FindAllAppliesTextFilters", func(t *testing.T) {
		handles, err := s.FindAll(ctx, schemas.Selector{By: schemas.ByXPath, Query: "//a[contains(text(),'書')]", Exclude: "請求書"})
		require.NoError(t, err)
		require.Len(t, handles, 2)
		assert.Equal(t, 0, handles[0].Index)
		assert.Equal(t, server.URL+"/receipt/1", handles[0].Href)
		assert.Equal(t, server.URL+"/receipt/3", handles[1].Href)
		assert.Equal(t, "a", handles[1].Tag)
	})

	t.Run("FindAllCSS", func(t *testing.T) {
		handles, err := s.FindAll(ctx, schemas.Selector{By: schemas.ByCSS, Query: "a[rel='next']"})
		require.NoError(t, err)
		require.Len(t, handles, 1)
		assert.Equal(t, "次へ", handles[0].Text)
	})

	t.Run("ClickAndStaleHandle", func(t *testing.T) {
		sel := schemas.Selector{By: schemas.ByCSS, Query: "#counter"}
		handles, err := s.FindAll(ctx, sel)
		require.NoError(t, err)
		require.Len(t, handles, 1)
		require.NoError(t, s.Click(ctx, handles[0]))

		var clicks string
		require.NoError(t, s.RunScript(ctx, "document.getElementById('counter').dataset.clicks", &clicks))
		assert.Equal(t, "1", clicks)

		err = s.Click(ctx, schemas.ElementHandle{Selector: sel, Index: 5})
		assert.ErrorIs(t, err, ErrStaleHandle)
	})

	t.Run("SuppressChromeHidesAlerts", func(t *testing.T) {
		var ok bool
		require.NoError(t, s.RunScript(ctx, scripts.SuppressChrome, &ok))
		assert.True(t, ok)

		var display string
		require.NoError(t, s.RunScript(ctx, "getComputedStyle(document.querySelector('.alert')).display", &display))
		assert.Equal(t, "none", display)
	})

	t.Run("Render", func(t *testing.T) {
		pdf, err := s.RenderToDocument(ctx, schemas.A4RenderOptions())
		require.NoError(t, err)
		assert.Equal(t, "%PDF", string(pdf[:4]))

		png, err := s.RenderToImage(ctx)
		require.NoError(t, err)
		assert.Equal(t, "\x89PNG", string(png[:4]))
	})
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	_, err := s.CurrentAddress(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("SucceedsOnceConditionHolds", func(t *testing.T) {
		var calls int32
		err := Poll(ctx, func(context.Context) (bool, error) {
			return atomic.AddInt32(&calls, 1) >= 3, nil
		}, time.Second, time.Millisecond)
		require.NoError(t, err)
		assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	})

	t.Run("TimesOutWithLastError", func(t *testing.T) {
		err := Poll(ctx, func(context.Context) (bool, error) {
			return false, errors.New("not rendered")
		}, 20*time.Millisecond, 5*time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrWaitTimeout)
		assert.Contains(t, err.Error(), "not rendered")
	})

	t.Run("StopsOnCancel", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Poll(cctx, func(context.Context) (bool, error) { return false, nil }, time.Minute, time.Millisecond)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
