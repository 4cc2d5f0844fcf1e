// Package capture turns the currently displayed receipt into a file. It
// tries a programmatic PDF rendering, the same rendering once more after a
// pause, an operator driven print dialog and finally a raster screenshot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
	"github.com/xkilldash9x/receipt-harvester/internal/retry"
	"github.com/xkilldash9x/receipt-harvester/internal/store"
)

// ErrCaptureFailed is returned when every fallback failed.
var ErrCaptureFailed = errors.New("all capture methods failed")

// Prompter is the part of the operator console the engine needs for the
// interactive print fallback.
type Prompter interface {
	Interactive() bool
	Notify(msg string)
	Confirm(ctx context.Context, question string) (bool, error)
	Ask(ctx context.Context, question string) (string, error)
}

// Engine captures the current view into the run's store.
type Engine struct {
	view     schemas.DocumentView
	store    *store.Store
	prompter Prompter
	refs     *Extractor
	cfg      config.CaptureConfig
	logger   *zap.Logger

	// Sleep is used for the pause before the second attempt and between
	// cosmetic passes.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine builds an engine.
func NewEngine(view schemas.DocumentView, st *store.Store, prompter Prompter, cfg config.CaptureConfig, logger *zap.Logger) *Engine {
	return &Engine{
		view:     view,
		store:    st,
		prompter: prompter,
		refs:     NewExtractor(cfg.ReferenceLabels),
		cfg:      cfg,
		logger:   logger.Named("capture"),
		Sleep:    retry.Sleep,
	}
}

// Capture writes one artifact for the item with the given global index, or
// returns ErrCaptureFailed. It never triggers navigation.
func (e *Engine) Capture(ctx context.Context, globalIndex int) (schemas.CaptureArtifact, error) {
	log := e.logger.With(zap.Int("global_index", globalIndex))

	if err := e.SuppressChrome(ctx); err != nil {
		return schemas.CaptureArtifact{}, err
	}
	ref := e.Reference(ctx)
	name := DocumentName(e.cfg.FilePrefix, globalIndex, ref)
	log.Debug("Capturing receipt.", zap.String("file", name), zap.String("reference", ref))

	var errs []error

	// 1. Programmatic rendering.
	art, err := e.renderDocument(ctx, name, globalIndex, ref)
	if err == nil {
		return art, nil
	}
	if ctx.Err() != nil {
		return schemas.CaptureArtifact{}, ctx.Err()
	}
	log.Warn("Document rendering failed; retrying after a pause.", zap.Error(err))
	errs = append(errs, fmt.Errorf("render: %w", err))

	// 2. Same rendering after a pause, page chrome suppressed again.
	if err := e.Sleep(ctx, e.cfg.RetryPause); err != nil {
		return schemas.CaptureArtifact{}, err
	}
	if err := e.SuppressChrome(ctx); err != nil {
		return schemas.CaptureArtifact{}, err
	}
	art, err = e.renderDocument(ctx, name, globalIndex, ref)
	if err == nil {
		return art, nil
	}
	if ctx.Err() != nil {
		return schemas.CaptureArtifact{}, ctx.Err()
	}
	log.Warn("Second document rendering failed.", zap.Error(err))
	errs = append(errs, fmt.Errorf("render retry: %w", err))

	// 3. Print dialog completed by the operator.
	if e.cfg.InteractivePrint && e.prompter != nil && e.prompter.Interactive() {
		art, err = e.interactivePrint(ctx, name, globalIndex, ref)
		if err == nil {
			return art, nil
		}
		if ctx.Err() != nil {
			return schemas.CaptureArtifact{}, ctx.Err()
		}
		log.Warn("Interactive print did not produce a file.", zap.Error(err))
		errs = append(errs, fmt.Errorf("interactive print: %w", err))
	}

	// 4. Raster snapshot.
	art, err = e.renderImage(ctx, globalIndex, ref)
	if err == nil {
		log.Warn("Receipt saved as an image.", zap.String("path", art.Path))
		return art, nil
	}
	if ctx.Err() != nil {
		return schemas.CaptureArtifact{}, ctx.Err()
	}
	errs = append(errs, fmt.Errorf("image: %w", err))

	return schemas.CaptureArtifact{}, fmt.Errorf("%w: %w", ErrCaptureFailed, errors.Join(errs...))
}

// SuppressChrome hides alerts and other overlays. Failures are logged only;
// the pass is cosmetic. Only cancellation is returned.
func (e *Engine) SuppressChrome(ctx context.Context) error {
	passes := e.cfg.CosmeticPasses
	if passes <= 0 {
		passes = 1
	}
	for i := 0; i < passes; i++ {
		if i > 0 {
			if err := e.Sleep(ctx, e.cfg.CosmeticPause); err != nil {
				return err
			}
		}
		if err := e.view.RunScript(ctx, scripts.SuppressChrome, nil); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Debug("Cosmetic pass failed.", zap.Error(err))
		}
	}
	return nil
}

// Reference scrapes and sanitizes the reference number of the displayed
// receipt. It returns "" when none is found.
func (e *Engine) Reference(ctx context.Context) string {
	var html string
	if err := e.view.RunScript(ctx, scripts.OuterHTML, &html); err != nil {
		e.logger.Debug("Could not read page source.", zap.Error(err))
	}
	address, err := e.view.CurrentAddress(ctx)
	if err != nil {
		e.logger.Debug("Could not read current address.", zap.Error(err))
	}

	raw, source := e.refs.Extract(html, address)
	ref := SanitizeReference(raw, e.cfg.ReferenceMaxLength)
	if ref != "" {
		e.logger.Debug("Reference number found.", zap.String("reference", ref), zap.String("source", source))
	}
	return ref
}

func (e *Engine) renderDocument(ctx context.Context, name string, globalIndex int, ref string) (schemas.CaptureArtifact, error) {
	data, err := e.view.RenderToDocument(ctx, e.cfg.RenderOptions())
	if err != nil {
		return schemas.CaptureArtifact{}, err
	}
	path, err := e.store.Write(name, data)
	if err != nil {
		return schemas.CaptureArtifact{}, err
	}
	e.logger.Info("Receipt saved.", zap.String("path", path), zap.Int("global_index", globalIndex))
	return schemas.CaptureArtifact{Path: path, Kind: schemas.ArtifactDocument, GlobalIndex: globalIndex, Reference: ref}, nil
}

func (e *Engine) interactivePrint(ctx context.Context, name string, globalIndex int, ref string) (schemas.CaptureArtifact, error) {
	if err := e.view.RunScript(ctx, scripts.Print, nil); err != nil {
		return schemas.CaptureArtifact{}, fmt.Errorf("opening print dialog: %w", err)
	}
	e.prompter.Notify(fmt.Sprintf("A print dialog was opened. Choose \"Save as PDF\" and save the receipt as:\n  %s", e.store.Path(name)))

	saved, err := e.prompter.Confirm(ctx, "Did you save the PDF?")
	if err != nil {
		return schemas.CaptureArtifact{}, err
	}
	if !saved {
		return schemas.CaptureArtifact{}, errors.New("operator did not save the file")
	}

	if e.store.Exists(name) {
		return schemas.CaptureArtifact{Path: e.store.Path(name), Kind: schemas.ArtifactDocument, GlobalIndex: globalIndex, Reference: ref}, nil
	}

	custom, err := e.prompter.Ask(ctx, fmt.Sprintf("%s was not found. Enter the file name you used (empty to give up)", name))
	if err != nil {
		return schemas.CaptureArtifact{}, err
	}
	if custom == "" {
		return schemas.CaptureArtifact{}, fmt.Errorf("%s was not saved", name)
	}
	if err := e.store.CheckName(custom); err != nil {
		return schemas.CaptureArtifact{}, fmt.Errorf("the receipt must be saved in %s: %w", e.store.Dir(), err)
	}
	if !e.store.Exists(custom) {
		return schemas.CaptureArtifact{}, fmt.Errorf("%s was not found", custom)
	}
	return schemas.CaptureArtifact{Path: e.store.Path(custom), Kind: schemas.ArtifactDocument, GlobalIndex: globalIndex, Reference: ref}, nil
}

func (e *Engine) renderImage(ctx context.Context, globalIndex int, ref string) (schemas.CaptureArtifact, error) {
	data, err := e.view.RenderToImage(ctx)
	if err != nil {
		return schemas.CaptureArtifact{}, err
	}
	path, err := e.store.Write(ImageName(e.cfg.FilePrefix, globalIndex), data)
	if err != nil {
		return schemas.CaptureArtifact{}, err
	}
	return schemas.CaptureArtifact{Path: path, Kind: schemas.ArtifactImage, GlobalIndex: globalIndex, Reference: ref}, nil
}
