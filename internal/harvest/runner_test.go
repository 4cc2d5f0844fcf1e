package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
	"github.com/xkilldash9x/receipt-harvester/internal/mocks"
)

const loginAddress = mocks.SiteBase + "/login"

func withLogin(c *config.Config) {
	c.Auth.Manual = true
	c.Auth.LoginURL = loginAddress
	c.Auth.Timeout = time.Minute
}

func TestNewRunContext(t *testing.T) {
	_, err := NewRunContext(nil, nil, nil, zaptest.NewLogger(t))
	assert.Error(t, err)

	tr := newTestRun(t, false)
	assert.NotEqual(t, tr.rc.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.False(t, tr.rc.Started.IsZero())
}

func TestWaitForLogin(t *testing.T) {
	t.Run("TextMarker", func(t *testing.T) {
		tr := newTestRun(t, false, withLogin)
		site := mocks.NewFakeSite()
		site.AddPage(loginAddress, &mocks.FakePage{Text: "ようこそ マイページ"})

		require.NoError(t, WaitForLogin(context.Background(), tr.rc, site))
		assert.Equal(t, []string{loginAddress}, site.Navigations())
		assert.Len(t, tr.op.Notifications(), 2)
	})

	t.Run("AddressMarker", func(t *testing.T) {
		tr := newTestRun(t, false, withLogin, func(c *config.Config) {
			c.Auth.LoginURL = mocks.SiteBase + "/mypage"
		})
		site := mocks.NewFakeSite()
		site.AddPage(mocks.SiteBase+"/mypage", &mocks.FakePage{})

		require.NoError(t, WaitForLogin(context.Background(), tr.rc, site))
	})

	t.Run("Timeout", func(t *testing.T) {
		tr := newTestRun(t, false, withLogin)
		site := mocks.NewFakeSite()
		site.AddPage(loginAddress, &mocks.FakePage{Text: "ログインしてください"})

		err := WaitForLogin(context.Background(), tr.rc, site)
		assert.ErrorIs(t, err, ErrAuthTimeout)
	})
}

func TestRunner_ListAddress(t *testing.T) {
	prompt := func(c *config.Config) { c.Harvest.PromptListURL = true }

	t.Run("NonInteractiveUsesConfig", func(t *testing.T) {
		tr := newTestRun(t, false, prompt)
		r := NewRunner(tr.rc, mocks.NewFakeSite())

		addr, err := r.ListAddress(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tr.rc.Config.Harvest.ListURL, addr)
	})

	t.Run("DefaultChoice", func(t *testing.T) {
		tr := newTestRun(t, true, prompt)
		tr.op.On("Ask", mock.Anything, mock.Anything).Return("1", nil).Once()
		r := NewRunner(tr.rc, mocks.NewFakeSite())

		addr, err := r.ListAddress(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tr.rc.Config.Harvest.ListURL, addr)
	})

	t.Run("CustomAddress", func(t *testing.T) {
		tr := newTestRun(t, true, prompt)
		tr.op.On("Ask", mock.Anything, mock.Anything).Return("2", nil).Once()
		tr.op.On("Ask", mock.Anything, mock.Anything).Return(" https://example.test/payments ", nil).Once()
		r := NewRunner(tr.rc, mocks.NewFakeSite())

		addr, err := r.ListAddress(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "https://example.test/payments", addr)
		tr.op.AssertExpectations(t)
	})
}

func TestRunner_Run(t *testing.T) {
	tr := newTestRun(t, false, withLogin)
	site := mocks.NewReceiptSite(issuedPage(1, 2), issuedPage(2, 1))
	site.AddPage(loginAddress, &mocks.FakePage{Text: "マイページ"})
	r := NewRunner(tr.rc, site)

	res, err := r.Run(context.Background(), mocks.ListAddress(1))
	require.NoError(t, err)

	assert.Equal(t, tr.rc.ID.String(), res.RunID)
	assert.Equal(t, tr.store.Dir(), res.Dir)
	assert.Equal(t, mocks.ListAddress(1), res.ListURL)
	assert.Equal(t, []schemas.PageReference{listPage(1), listPage(2)}, res.Pages)
	assert.Equal(t, schemas.RunProgress{Attempted: 3, Succeeded: 3, PagesCompleted: 2}, res.Progress)
	assert.Equal(t, 3, res.ExpectedItems)
	assert.False(t, res.Finished.Before(res.Started))
	assert.Len(t, tr.artifacts(t), 3)
	require.Len(t, res.Artifacts, 3)
	for i, art := range res.Artifacts {
		assert.Equal(t, i+1, art.GlobalIndex)
	}
}

func TestRunner_RunFirstPageEmpty(t *testing.T) {
	tr := newTestRun(t, false)
	site := mocks.NewReceiptSite(nil)
	r := NewRunner(tr.rc, site)

	res, err := r.Run(context.Background(), mocks.ListAddress(1))
	require.ErrorIs(t, err, ErrNoItems)
	assert.Equal(t, schemas.RunProgress{}, res.Progress)

	names, err := tr.store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRunner_Discover(t *testing.T) {
	tr := newTestRun(t, false)
	site := mocks.NewReceiptSite(issuedPage(1, 1), issuedPage(2, 1))
	r := NewRunner(tr.rc, site)

	pages, err := r.Discover(context.Background(), mocks.ListAddress(1))
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Empty(t, tr.artifacts(t))
}
