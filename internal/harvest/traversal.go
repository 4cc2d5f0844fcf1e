// File: internal/harvest/traversal.go
package harvest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
	"github.com/xkilldash9x/receipt-harvester/internal/locate"
	"github.com/xkilldash9x/receipt-harvester/internal/retry"
)

// Controller discovers the list pages once and then walks them by absolute
// address, feeding every entry to the item machine.
type Controller struct {
	rc      *RunContext
	nav     *navigator
	machine *Machine
	next    locate.Chain
	logger  *zap.Logger

	expected  int
	artifacts []schemas.CaptureArtifact
}

// NewController builds a traversal controller for a view.
func NewController(rc *RunContext, view schemas.DocumentView) *Controller {
	logger := rc.Logger.Named("traversal")
	return &Controller{
		rc:      rc,
		nav:     newNavigator(rc, view, logger),
		machine: NewMachine(rc, view),
		next:    locate.FromConfig("next page", rc.Config.Selectors.NextPage, rc.Config.Harvest.LookupTimeout),
		logger:  logger,
	}
}

// DiscoverPages builds the frozen page list starting at first.
//
// With harvest.page_count set, pages come from harvest.page_url_template.
// Otherwise the "next page" link is followed until it disappears, leads to
// a page without items, revisits a page or harvest.max_pages is reached.
// Every page is recorded under the address the view actually landed on.
// ErrNoItems is returned when the first page has no entries.
func (c *Controller) DiscoverPages(ctx context.Context, first string) ([]schemas.PageReference, error) {
	cfg := c.rc.Config.Harvest
	c.expected = 0

	firstPage, firstCount, err := c.openFirstPage(ctx, first)
	if err != nil {
		return nil, err
	}
	counts := map[int]int{firstPage.Ordinal: firstCount}

	if cfg.PageCount > 0 {
		rest, err := c.landPages(ctx, templatePages(cfg.PageURLTemplate, 2, cfg.PageCount), counts)
		if err != nil {
			return nil, err
		}
		pages := append([]schemas.PageReference{firstPage}, rest...)
		c.logger.Info("Using configured page count.", zap.Int("pages", len(pages)))
		c.expected = c.expectedItems(pages, counts, 0)
		return pages, nil
	}

	pages := []schemas.PageReference{firstPage}
	seen := map[string]bool{firstPage.Address: true}
	operatorItems := 0
	for cfg.MaxPages <= 0 || len(pages) < cfg.MaxPages {
		h, strategy, err := c.next.First(ctx, c.nav.view, c.logger)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Info("No further page link; discovery finished.", zap.Int("pages", len(pages)))
			break
		}

		address, err := c.nav.follow(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Following the next page link failed.", zap.String("strategy", strategy), zap.Error(err))
			pages, operatorItems, err = c.fallbackCounts(ctx, pages, counts)
			if err != nil {
				return nil, err
			}
			break
		}
		if seen[address] {
			c.logger.Info("Next page link leads to a known page; discovery finished.", zap.String("address", address))
			break
		}

		handles, err := c.nav.enumerate(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list items on %s: %w", address, err)
		}
		if len(handles) == 0 {
			c.logger.Info("Next page has no items; discovery finished.", zap.String("address", address))
			break
		}

		seen[address] = true
		page := schemas.PageReference{Ordinal: len(pages) + 1, Address: address}
		pages = append(pages, page)
		counts[page.Ordinal] = len(handles)
		c.logger.Debug("Page discovered.", zap.Stringer("page", page), zap.Int("items", len(handles)))
	}

	c.expected = c.expectedItems(pages, counts, operatorItems)
	c.logger.Info("Page discovery complete.", zap.Int("pages", len(pages)), zap.Int("expected_items", c.expected))
	return pages, nil
}

// ExpectedItems is the receipt total found by the last DiscoverPages: the
// configured or operator supplied count, otherwise the entries seen with
// unseen pages estimated from the first one. It is 0 before discovery.
func (c *Controller) ExpectedItems() int { return c.expected }

// openFirstPage opens the first page with retries and fails the run when it
// never shows an entry. The returned page carries the landed address, which
// may differ from the requested one after redirects.
func (c *Controller) openFirstPage(ctx context.Context, address string) (schemas.PageReference, int, error) {
	requested := schemas.PageReference{Ordinal: 1, Address: address}
	landed := requested
	var count int

	outcome, err := c.rc.policy(c.logger, nil).Do(ctx, retry.Escalation{Scope: retry.ScopePage, Page: 1},
		func(ctx context.Context, _ int) error {
			if err := c.nav.open(ctx, address); err != nil {
				return fmt.Errorf("failed to open %s: %w", requested, err)
			}
			current, err := c.nav.view.CurrentAddress(ctx)
			if err != nil {
				return fmt.Errorf("failed to read address on %s: %w", requested, err)
			}
			handles, err := c.nav.enumerate(ctx)
			if err != nil {
				return fmt.Errorf("failed to list items on %s: %w", requested, err)
			}
			if len(handles) == 0 {
				return retry.Quiet(fmt.Errorf("%w on %s", ErrNoItems, requested))
			}
			landed.Address = current
			count = len(handles)
			return nil
		})
	switch outcome {
	case retry.Done:
		if landed.Address != address {
			c.logger.Info("First page address differs from the requested one.",
				zap.String("requested", address), zap.String("landed", landed.Address))
		}
		return landed, count, nil
	case retry.Exhausted:
		return schemas.PageReference{}, 0, fmt.Errorf("%w on %s", ErrNoItems, requested)
	default:
		return schemas.PageReference{}, 0, abortError(err)
	}
}

// landPages visits template pages once to record where each one lands and
// how many entries it shows. A page that cannot be opened keeps its template
// address and stays uncounted.
func (c *Controller) landPages(ctx context.Context, pages []schemas.PageReference, counts map[int]int) ([]schemas.PageReference, error) {
	for i := range pages {
		if err := c.nav.open(ctx, pages[i].Address); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Could not open template page; keeping its address.", zap.Stringer("page", pages[i]), zap.Error(err))
			continue
		}
		current, err := c.nav.view.CurrentAddress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("Could not read template page address.", zap.Stringer("page", pages[i]), zap.Error(err))
			continue
		}
		pages[i].Address = current
		if handles, err := c.nav.enumerate(ctx); err == nil {
			counts[pages[i].Ordinal] = len(handles)
		}
	}
	return pages, nil
}

// fallbackCounts asks the operator for the page and receipt totals when
// "next" following broke down. Pages beyond those already known are built
// from harvest.page_url_template.
func (c *Controller) fallbackCounts(ctx context.Context, pages []schemas.PageReference, counts map[int]int) ([]schemas.PageReference, int, error) {
	if !c.rc.Operator.Interactive() {
		return pages, 0, nil
	}

	if template := c.rc.Config.Harvest.PageURLTemplate; template != "" {
		total, err := c.askCount(ctx, fmt.Sprintf("Automatic page discovery failed after %d page(s). Enter the total number of pages (empty to keep %d)", len(pages), len(pages)))
		if err != nil {
			return nil, 0, err
		}
		if total > len(pages) {
			c.logger.Info("Using operator supplied page count.", zap.Int("pages", total))
			extra, err := c.landPages(ctx, templatePages(template, len(pages)+1, total), counts)
			if err != nil {
				return nil, 0, err
			}
			pages = append(pages, extra...)
		}
	}

	items, err := c.askCount(ctx, "Enter the total number of receipts (empty to estimate)")
	if err != nil {
		return nil, 0, err
	}
	if items > 0 {
		c.logger.Info("Using operator supplied receipt count.", zap.Int("items", items))
	}
	return pages, items, nil
}

// askCount reads a count from the operator. Empty and invalid answers give
// 0; only cancellation is returned as an error.
func (c *Controller) askCount(ctx context.Context, question string) (int, error) {
	n, err := c.rc.Operator.AskInt(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.logger.Warn("Count entry rejected.", zap.Error(err))
		return 0, nil
	}
	return n, nil
}

// expectedItems settles the receipt total shown by the progress display.
func (c *Controller) expectedItems(pages []schemas.PageReference, counts map[int]int, override int) int {
	if n := c.rc.Config.Harvest.ItemCount; n > 0 {
		return n
	}
	if override > 0 {
		return override
	}
	total, estimated := 0, 0
	for _, p := range pages {
		n, ok := counts[p.Ordinal]
		if !ok {
			n = counts[1]
			estimated++
		}
		total += n
	}
	if estimated > 0 {
		c.logger.Info("Receipt total estimated from the first page.", zap.Int("estimated_pages", estimated), zap.Int("items", total))
	}
	return total
}

func templatePages(template string, from, to int) []schemas.PageReference {
	var pages []schemas.PageReference
	for n := from; n <= to; n++ {
		pages = append(pages, schemas.PageReference{Ordinal: n, Address: fmt.Sprintf(template, n)})
	}
	return pages
}

// loadPage opens a list page and counts its entries. Zero entries is a
// quiet failure: it is retried but never escalated.
func (c *Controller) loadPage(ctx context.Context, page schemas.PageReference) (int, error) {
	if err := c.nav.goTo(ctx, page); err != nil {
		return 0, err
	}
	handles, err := c.nav.enumerate(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list items on %s: %w", page, err)
	}
	if len(handles) == 0 {
		return 0, retry.Quiet(fmt.Errorf("%w on %s", ErrNoItems, page))
	}
	return len(handles), nil
}

// RunAll processes every page in order, navigating by absolute address. The
// returned progress is valid even when an error ends the run early.
func (c *Controller) RunAll(ctx context.Context, pages []schemas.PageReference) (schemas.RunProgress, error) {
	var progress schemas.RunProgress
	globalIndex := 0

	pagePolicy := c.rc.policy(c.logger, c.snapshot)
	itemPolicy := c.rc.policy(c.logger, c.snapshot)
	navPolicy := c.rc.policy(c.logger, nil)

	for i, page := range pages {
		log := c.logger.With(zap.Int("page", page.Ordinal))

		var count int
		outcome, err := pagePolicy.Do(ctx, retry.Escalation{Scope: retry.ScopePage, Page: page.Ordinal},
			func(ctx context.Context, _ int) error {
				n, err := c.loadPage(ctx, page)
				count = n
				return err
			})
		switch outcome {
		case retry.Done:
		case retry.Exhausted:
			if i == 0 {
				log.Error("First page has no items; nothing to harvest.")
				return progress, fmt.Errorf("%w on %s", ErrNoItems, page)
			}
			log.Warn("Page has no items; skipping it.")
			c.dumpSource(ctx, page)
			continue
		case retry.Skipped:
			log.Warn("Page skipped by operator.", zap.Error(err))
			continue
		default:
			return progress, abortError(err)
		}
		log.Info("Processing page.", zap.Int("items", count), zap.Int("of_pages", len(pages)))

		for pos := 1; pos <= count; pos++ {
			globalIndex++
			progress.Attempted++
			idx := globalIndex

			var result schemas.ItemOutcome
			outcome, err := itemPolicy.Do(ctx, retry.Escalation{Scope: retry.ScopeItem, Page: page.Ordinal, Item: pos},
				func(ctx context.Context, _ int) error {
					o, err := c.machine.Process(ctx, page, pos, idx)
					if err != nil {
						return err
					}
					result = o
					return nil
				})

			switch outcome {
			case retry.Done:
				if result.Status == schemas.ItemCaptured {
					progress.Succeeded++
					c.artifacts = append(c.artifacts, *result.Artifact)
				} else {
					progress.Unverified++
				}
			case retry.Skipped, retry.Exhausted:
				progress.Skipped++
				log.Warn("Item skipped.", zap.Int("item", pos), zap.Int("global_index", idx), zap.Error(err))
				if err := c.recoverNavigation(ctx, navPolicy, page); err != nil {
					return progress, err
				}
			default:
				return progress, abortError(err)
			}
			c.rc.Operator.Notify(progressLine(c.expected, idx, page.Ordinal, len(pages), pos, count))
		}

		progress.PagesCompleted++
		log.Info("Page complete.",
			zap.Int("attempted", progress.Attempted),
			zap.Int("succeeded", progress.Succeeded))
	}
	return progress, nil
}

// Artifacts returns the files written by RunAll so far, in GlobalIndex order.
func (c *Controller) Artifacts() []schemas.CaptureArtifact {
	return append([]schemas.CaptureArtifact(nil), c.artifacts...)
}

// recoverNavigation brings the view back to the list page after an item was
// skipped. Failing that is escalated on its own.
func (c *Controller) recoverNavigation(ctx context.Context, policy *retry.Policy, page schemas.PageReference) error {
	outcome, err := policy.Do(ctx, retry.Escalation{Scope: retry.ScopeNavigation, Page: page.Ordinal},
		func(ctx context.Context, _ int) error {
			return c.nav.goTo(ctx, page)
		})
	switch outcome {
	case retry.Done:
		return nil
	case retry.Skipped, retry.Exhausted:
		c.logger.Warn("Continuing without recovering the list page.", zap.Int("page", page.Ordinal), zap.Error(err))
		return nil
	default:
		return abortError(err)
	}
}

// snapshot saves a screenshot of whatever is on screen when a round of
// attempts is exhausted.
func (c *Controller) snapshot(ctx context.Context, e retry.Escalation) {
	data, err := c.nav.view.RenderToImage(ctx)
	if err != nil {
		c.logger.Debug("Diagnostic screenshot failed.", zap.Error(err))
		return
	}
	path, err := c.rc.Store.WriteDiagnostic(e.Page, e.Item, "png", data)
	if err != nil {
		c.logger.Warn("Could not store diagnostic screenshot.", zap.Error(err))
		return
	}
	c.logger.Info("Diagnostic screenshot saved.", zap.String("path", path), zap.Stringer("escalation", e))
}

// dumpSource saves the markup of a list page that never showed an entry.
func (c *Controller) dumpSource(ctx context.Context, page schemas.PageReference) {
	var html string
	if err := c.nav.view.RunScript(ctx, scripts.OuterHTML, &html); err != nil {
		c.logger.Debug("Could not read page source.", zap.Int("page", page.Ordinal), zap.Error(err))
		return
	}
	path, err := c.rc.Store.WriteDiagnostic(page.Ordinal, 0, "html", []byte(html))
	if err != nil {
		c.logger.Warn("Could not store page source.", zap.Error(err))
		return
	}
	c.logger.Info("Page source saved.", zap.String("path", path), zap.Int("page", page.Ordinal))
}

func abortError(err error) error {
	if err == nil {
		return ErrAborted
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAborted, err)
}
