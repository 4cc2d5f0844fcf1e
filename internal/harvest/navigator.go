package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
	"github.com/xkilldash9x/receipt-harvester/internal/locate"
)

// navigator holds the view operations shared by the controller and the
// item machine: absolute navigation, readiness waits and item enumeration.
type navigator struct {
	rc     *RunContext
	view   schemas.DocumentView
	items  locate.Chain
	logger *zap.Logger
}

func newNavigator(rc *RunContext, view schemas.DocumentView, logger *zap.Logger) *navigator {
	cfg := rc.Config
	return &navigator{
		rc:     rc,
		view:   view,
		items:  locate.FromConfig("receipt link", cfg.Selectors.ItemLinks, cfg.Harvest.LookupTimeout),
		logger: logger,
	}
}

// open navigates to address and waits for the document to settle.
func (n *navigator) open(ctx context.Context, address string) error {
	if err := n.view.Navigate(ctx, address); err != nil {
		return err
	}
	return n.settle(ctx)
}

// settle waits until the document reports itself complete, then pauses for
// the configured settle delay so late scripts can finish.
func (n *navigator) settle(ctx context.Context) error {
	err := n.view.WaitUntil(ctx, func(ctx context.Context) (bool, error) {
		var state string
		if err := n.view.RunScript(ctx, scripts.ReadyState, &state); err != nil {
			return false, err
		}
		return state == "complete", nil
	}, n.rc.Config.Browser.NavigationTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A document that never reports complete can still be usable.
		n.logger.Debug("Document did not report ready.", zap.Error(err))
	}
	return n.rc.Sleep(ctx, n.rc.Config.Harvest.SettleDelay)
}

// goTo navigates to the list page and verifies the view actually shows it,
// navigating a second time before giving up with ErrWrongPage.
func (n *navigator) goTo(ctx context.Context, page schemas.PageReference) error {
	for attempt := 1; attempt <= 2; attempt++ {
		if err := n.open(ctx, page.Address); err != nil {
			return fmt.Errorf("failed to open %s: %w", page, err)
		}
		current, err := n.view.CurrentAddress(ctx)
		if err != nil {
			return fmt.Errorf("failed to read address on %s: %w", page, err)
		}
		if sameDocument(page.Address, current) {
			return nil
		}
		n.logger.Warn("View is not on the expected page.",
			zap.Int("page", page.Ordinal),
			zap.String("expected", page.Address),
			zap.String("current", current),
			zap.Int("attempt", attempt))
	}
	return fmt.Errorf("%w: %s", ErrWrongPage, page)
}

// enumerate resolves the receipt links of the loaded page. A page without
// any is not an error.
func (n *navigator) enumerate(ctx context.Context) ([]schemas.ElementHandle, error) {
	m, err := n.items.All(ctx, n.view, n.logger)
	if errors.Is(err, locate.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Handles, nil
}

// follow opens whatever a link handle points to: its address when it has
// one, otherwise a click. It returns the address the view ended up on.
func (n *navigator) follow(ctx context.Context, h schemas.ElementHandle) (string, error) {
	if h.Href != "" && !strings.HasPrefix(strings.ToLower(h.Href), "javascript:") {
		target, err := n.resolve(ctx, h.Href)
		if err != nil {
			return "", err
		}
		if err := n.open(ctx, target); err != nil {
			return "", err
		}
	} else {
		if err := n.view.Click(ctx, h); err != nil {
			return "", err
		}
		if err := n.settle(ctx); err != nil {
			return "", err
		}
	}
	return n.view.CurrentAddress(ctx)
}

// resolve turns a possibly relative href into an absolute address against
// the current document.
func (n *navigator) resolve(ctx context.Context, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", href, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	current, err := n.view.CurrentAddress(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("invalid current address %q: %w", current, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// sameDocument compares two addresses loosely: host and path must agree and
// every query parameter of expected must be present in actual with the same
// value. Extra parameters and fragments in actual are ignored.
func sameDocument(expected, actual string) bool {
	if expected == actual {
		return true
	}
	e, err1 := url.Parse(expected)
	a, err2 := url.Parse(actual)
	if err1 != nil || err2 != nil {
		return false
	}
	if !strings.EqualFold(e.Host, a.Host) {
		return false
	}
	if strings.TrimSuffix(e.Path, "/") != strings.TrimSuffix(a.Path, "/") {
		return false
	}
	aq := a.Query()
	for key, values := range e.Query() {
		if aq.Get(key) != values[0] {
			return false
		}
	}
	return true
}
