package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
	"github.com/xkilldash9x/receipt-harvester/internal/mocks"
	"github.com/xkilldash9x/receipt-harvester/internal/store"
)

const detailAddress = "https://receipts.test/receipt_sheets/new?id=1"

type engineFixture struct {
	site     *mocks.FakeSite
	store    *store.Store
	operator *mocks.MockOperator
	engine   *Engine
	renders  int
	sleeps   []time.Duration
}

// setupEngine serves one receipt page. documentFailures renders fail before
// the next one succeeds; -1 fails them all.
func setupEngine(t *testing.T, html string, documentFailures int, imageFails bool, interactive bool) *engineFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	st, err := store.Open(t.TempDir(), logger)
	require.NoError(t, err)

	fx := &engineFixture{site: mocks.NewFakeSite(), store: st, operator: new(mocks.MockOperator)}
	fx.site.AddPage(detailAddress, &mocks.FakePage{HTML: html})
	require.NoError(t, fx.site.Navigate(context.Background(), detailAddress))

	fx.site.RenderDocumentHook = func(addr string) ([]byte, error) {
		fx.renders++
		if documentFailures < 0 || fx.renders <= documentFailures {
			return nil, errors.New("Printing failed")
		}
		return []byte("%PDF-1.4 " + addr), nil
	}
	if imageFails {
		fx.site.RenderImageHook = func(string) ([]byte, error) { return nil, errors.New("screenshot failed") }
	}
	fx.operator.On("Interactive").Return(interactive).Maybe()

	cfg := config.NewDefaultConfig().Capture
	fx.engine = NewEngine(fx.site, st, fx.operator, cfg, logger)
	fx.engine.Sleep = func(_ context.Context, d time.Duration) error {
		fx.sleeps = append(fx.sleeps, d)
		return nil
	}
	return fx
}

const refHTML = `<html><body><table><tr><th>領収書番号</th><td>CW-2001</td></tr></table></body></html>`

func TestCapture_FirstRenderSucceeds(t *testing.T) {
	fx := setupEngine(t, refHTML, 0, false, false)

	art, err := fx.engine.Capture(context.Background(), 4)
	require.NoError(t, err)

	assert.Equal(t, schemas.ArtifactDocument, art.Kind)
	assert.Equal(t, 4, art.GlobalIndex)
	assert.Equal(t, "CW-2001", art.Reference)
	assert.Equal(t, fx.store.Path("領収書_004_CW-2001.pdf"), art.Path)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), detailAddress)

	assert.Equal(t, 1, fx.renders)
	assert.Equal(t, 2, fx.site.ScriptRuns(scripts.NameSuppressChrome), "two cosmetic passes")
	assert.Equal(t, []schemas.RenderOptions{schemas.A4RenderOptions()}, fx.site.RenderOptions())
	assert.Empty(t, fx.site.Navigations()[1:], "capture must not navigate")
}

func TestCapture_SecondRenderAfterPause(t *testing.T) {
	fx := setupEngine(t, refHTML, 1, false, false)

	art, err := fx.engine.Capture(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, schemas.ArtifactDocument, art.Kind)
	assert.Equal(t, fx.store.Path("領収書_001_CW-2001.pdf"), art.Path)
	assert.Equal(t, 2, fx.renders)
	assert.Contains(t, fx.sleeps, 2*time.Second, "retry pause")
	assert.Equal(t, 4, fx.site.ScriptRuns(scripts.NameSuppressChrome), "chrome suppressed again before the retry")

	names, err := fx.store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"領収書_001_CW-2001.pdf"}, names)
}

func TestCapture_ImageFallback(t *testing.T) {
	fx := setupEngine(t, `<html><body><h1>領収書</h1></body></html>`, -1, false, false)

	art, err := fx.engine.Capture(context.Background(), 12)
	require.NoError(t, err)

	assert.Equal(t, schemas.ArtifactImage, art.Kind)
	assert.Equal(t, fx.store.Path("領収書_012.png"), art.Path)
	assert.Empty(t, art.Reference)
	assert.Equal(t, 2, fx.renders)
	assert.Zero(t, fx.site.ScriptRuns(scripts.NamePrint), "no print dialog without an operator")
}

func TestCapture_InteractivePrint(t *testing.T) {
	t.Run("SavedUnderSuggestedName", func(t *testing.T) {
		fx := setupEngine(t, refHTML, -1, false, true)
		fx.operator.On("Confirm", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			_, err := fx.store.Write("領収書_002_CW-2001.pdf", []byte("%PDF"))
			require.NoError(t, err)
		}).Return(true, nil).Once()

		art, err := fx.engine.Capture(context.Background(), 2)
		require.NoError(t, err)

		assert.Equal(t, schemas.ArtifactDocument, art.Kind)
		assert.Equal(t, fx.store.Path("領収書_002_CW-2001.pdf"), art.Path)
		assert.Equal(t, 1, fx.site.ScriptRuns(scripts.NamePrint))
		require.Len(t, fx.operator.Notifications(), 1)
		assert.Contains(t, fx.operator.Notifications()[0], "領収書_002_CW-2001.pdf")
		fx.operator.AssertExpectations(t)
	})

	t.Run("SavedUnderCustomName", func(t *testing.T) {
		fx := setupEngine(t, refHTML, -1, false, true)
		fx.operator.On("Confirm", mock.Anything, mock.Anything).Return(true, nil).Once()
		fx.operator.On("Ask", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			_, err := fx.store.Write("my-receipt.pdf", []byte("%PDF"))
			require.NoError(t, err)
		}).Return("my-receipt.pdf", nil).Once()

		art, err := fx.engine.Capture(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, fx.store.Path("my-receipt.pdf"), art.Path)
		fx.operator.AssertExpectations(t)
	})

	t.Run("CustomNameOutsideRunDirectory", func(t *testing.T) {
		fx := setupEngine(t, refHTML, -1, false, true)
		outside := filepath.Join(t.TempDir(), "my-receipt.pdf")
		require.NoError(t, os.WriteFile(outside, []byte("%PDF"), 0o644))
		fx.operator.On("Confirm", mock.Anything, mock.Anything).Return(true, nil).Once()
		fx.operator.On("Ask", mock.Anything, mock.Anything).Return(outside, nil).Once()

		art, err := fx.engine.Capture(context.Background(), 4)
		require.NoError(t, err)
		assert.Equal(t, schemas.ArtifactImage, art.Kind, "a file outside the run directory is not a saved receipt")
		assert.Equal(t, fx.store.Path("領収書_004.png"), art.Path)

		names, err := fx.store.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"領収書_004.png"}, names)
	})

	t.Run("DeclinedFallsBackToImage", func(t *testing.T) {
		fx := setupEngine(t, refHTML, -1, false, true)
		fx.operator.On("Confirm", mock.Anything, mock.Anything).Return(false, nil).Once()

		art, err := fx.engine.Capture(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, schemas.ArtifactImage, art.Kind)
		assert.Equal(t, fx.store.Path("領収書_003.png"), art.Path)
		fx.operator.AssertExpectations(t)
	})
}

func TestCapture_AllMethodsFail(t *testing.T) {
	fx := setupEngine(t, refHTML, -1, true, false)

	_, err := fx.engine.Capture(context.Background(), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCaptureFailed)
	assert.Contains(t, err.Error(), "screenshot failed")

	names, err := fx.store.List()
	require.NoError(t, err)
	assert.Empty(t, names, "no artifact on failure")
}

func TestCapture_Canceled(t *testing.T) {
	fx := setupEngine(t, refHTML, 0, false, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.engine.Capture(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fx.renders)
}
