package harvest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
	"github.com/xkilldash9x/receipt-harvester/internal/mocks"
)

func listPage(n int) schemas.PageReference {
	return schemas.PageReference{Ordinal: n, Address: mocks.ListAddress(n)}
}

func TestMachine_IssuedAlready(t *testing.T) {
	tr := newTestRun(t, false)
	site := mocks.NewReceiptSite(issuedPage(1, 2))
	m := NewMachine(tr.rc, site)

	out, err := m.Process(context.Background(), listPage(1), 2, 7)
	require.NoError(t, err)

	assert.Equal(t, schemas.ItemCaptured, out.Status)
	assert.False(t, out.IssuedHere)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, tr.store.Path("領収書_007_CW-102.pdf"), out.Artifact.Path)
	assert.Equal(t, schemas.ArtifactDocument, out.Artifact.Kind)
	assert.Zero(t, site.IssueClicks())

	data, err := os.ReadFile(out.Artifact.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), mocks.DetailAddress(1, 2), "second entry was captured")
}

func TestMachine_NeedsIssuance(t *testing.T) {
	t.Run("ConfirmControl", func(t *testing.T) {
		tr := newTestRun(t, false)
		site := mocks.NewReceiptSite([]mocks.ReceiptSpec{{Reference: "R-55555"}})
		m := NewMachine(tr.rc, site)

		out, err := m.Process(context.Background(), listPage(1), 1, 1)
		require.NoError(t, err)

		assert.True(t, out.IssuedHere)
		assert.Equal(t, schemas.ItemCaptured, out.Status)
		assert.True(t, site.Issued(1, 1))
		assert.Equal(t, 1, site.IssueClicks())
		assert.Zero(t, site.ScriptRuns(scripts.NameConfirmFallback))
		assert.Equal(t, tr.store.Path("領収書_001_R-55555.pdf"), out.Artifact.Path)
	})

	t.Run("ScriptedConfirmFallback", func(t *testing.T) {
		tr := newTestRun(t, false)
		site := mocks.NewReceiptSite([]mocks.ReceiptSpec{{Reference: "R-1", NoConfirmControl: true}})
		m := NewMachine(tr.rc, site)

		out, err := m.Process(context.Background(), listPage(1), 1, 1)
		require.NoError(t, err)

		assert.True(t, out.IssuedHere)
		assert.True(t, site.Issued(1, 1))
		assert.Equal(t, 1, site.ScriptRuns(scripts.NameConfirmFallback))
	})

	t.Run("MissingControlsDoNotAbort", func(t *testing.T) {
		tr := newTestRun(t, false)
		site := mocks.NewReceiptSite([]mocks.ReceiptSpec{{Reference: "R-2"}})
		sel := tr.rc.Config.Selectors
		site.SetElements(mocks.DetailAddress(1, 1), sel.Preview[0].Query, nil)
		site.SetElements(mocks.DetailAddress(1, 1), sel.Issue[0].Query, nil)
		m := NewMachine(tr.rc, site)

		out, err := m.Process(context.Background(), listPage(1), 1, 3)
		require.NoError(t, err)

		assert.True(t, out.IssuedHere)
		assert.False(t, site.Issued(1, 1))
		assert.Equal(t, schemas.ItemCaptured, out.Status, "capture runs on the view regardless")
	})
}

func TestMachine_RenavigatesBeforeResolving(t *testing.T) {
	tr := newTestRun(t, false)
	site := mocks.NewReceiptSite(issuedPage(1, 2))
	m := NewMachine(tr.rc, site)

	_, err := m.Process(context.Background(), listPage(1), 1, 1)
	require.NoError(t, err)
	require.Equal(t, mocks.DetailAddress(1, 1), site.Current())

	_, err = m.Process(context.Background(), listPage(1), 2, 2)
	require.NoError(t, err)

	nav := site.Navigations()
	assert.Equal(t, []string{
		mocks.ListAddress(1), mocks.DetailAddress(1, 1),
		mocks.ListAddress(1), mocks.DetailAddress(1, 2),
	}, nav)
}

func TestMachine_ItemNotFound(t *testing.T) {
	tr := newTestRun(t, false)
	site := mocks.NewReceiptSite(issuedPage(1, 2))
	m := NewMachine(tr.rc, site)

	_, err := m.Process(context.Background(), listPage(1), 3, 3)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestMachine_OpenFailurePropagates(t *testing.T) {
	tr := newTestRun(t, false)
	site := mocks.NewReceiptSite([]mocks.ReceiptSpec{{Issued: true, OpenFailures: 1}})
	m := NewMachine(tr.rc, site)

	_, err := m.Process(context.Background(), listPage(1), 1, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open item 1")
	assert.Empty(t, tr.artifacts(t))
}

func TestMachine_ManualCompletion(t *testing.T) {
	tr := newTestRun(t, false)
	site := mocks.NewReceiptSite([]mocks.ReceiptSpec{{Issued: true, DocumentFailures: -1, ImageFails: true}})
	tr.op.On("Acknowledge", mock.Anything, mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "領収書_004.pdf")
	})).Return(nil).Once()
	m := NewMachine(tr.rc, site)

	out, err := m.Process(context.Background(), listPage(1), 1, 4)
	require.NoError(t, err)

	assert.Equal(t, schemas.ItemUnverified, out.Status)
	assert.Nil(t, out.Artifact)
	assert.Empty(t, tr.artifacts(t))
	tr.op.AssertExpectations(t)
}

func TestMachine_Canceled(t *testing.T) {
	tr := newTestRun(t, false)
	site := mocks.NewReceiptSite(issuedPage(1, 1))
	m := NewMachine(tr.rc, site)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Process(ctx, listPage(1), 1, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
