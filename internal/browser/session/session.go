// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
	"github.com/xkilldash9x/receipt-harvester/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrStaleHandle is returned by Click when the handle no longer resolves
// to an element in the current document.
var ErrStaleHandle = errors.New("element handle no longer resolves")

// ErrClosed is returned by every call made after Close.
var ErrClosed = errors.New("session is closed")

// Session is a single chromedp tab implementing schemas.DocumentView.
type Session struct {
	id      string
	ctx     context.Context // chromedp tab context
	cancel  context.CancelFunc
	cfg     config.BrowserConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

var _ schemas.DocumentView = (*Session)(nil)

// New opens a tab on the browser behind allocCtx. The first tab created on an
// exec allocator starts the browser process; closing it stops the process.
func New(allocCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	id := uuid.NewString()
	log := logger.Named("session").With(zap.String("session_id", id))

	opts := []chromedp.ContextOption{chromedp.WithErrorf(log.Sugar().Errorf)}
	if cfg.Debug {
		opts = append(opts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	tabCtx, cancel := chromedp.NewContext(allocCtx, opts...)

	limit := rate.Inf
	if cfg.NavigationRate > 0 {
		limit = rate.Limit(cfg.NavigationRate)
	}
	burst := cfg.NavigationBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Session{
		id:      id,
		ctx:     tabCtx,
		cancel:  cancel,
		cfg:     cfg,
		logger:  log,
		limiter: rate.NewLimiter(limit, burst),
	}

	// Allocate the target now so launch failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}
	log.Debug("Browser tab opened.")
	return s, nil
}

// ID returns the session identifier used in log fields.
func (s *Session) ID() string { return s.id }

// run executes actions on the tab, bounded by timeout and by the caller's
// context.
func (s *Session) run(ctx context.Context, timeout time.Duration, what string, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	opCtx, cancelOp := context.WithTimeout(ctx, timeout)
	defer cancelOp()
	runCtx, cancel := CombineContext(s.ctx, opCtx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%s canceled: %w", what, ctx.Err())
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s timed out after %s: %w", what, timeout, err)
	default:
		return fmt.Errorf("%s failed: %w", what, err)
	}
}

// Navigate loads address and waits for the body to be ready. Navigations are
// paced by the configured rate limiter.
func (s *Session) Navigate(ctx context.Context, address string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("navigation to %s canceled while pacing: %w", address, err)
	}
	s.logger.Debug("Navigating.", zap.String("address", address))
	return s.run(ctx, s.cfg.NavigationTimeout, "navigation to "+address,
		chromedp.Navigate(address),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// CurrentAddress returns the address of the loaded document.
func (s *Session) CurrentAddress(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.ActionTimeout, "reading location", chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// elementDescriptor is what scripts.FindAll reports per element.
type elementDescriptor struct {
	Tag     string `json:"tag"`
	Text    string `json:"text"`
	Href    string `json:"href"`
	Value   string `json:"value"`
	Visible bool   `json:"visible"`
}

// FindAll resolves sel in the current document.
func (s *Session) FindAll(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
	var raw []byte
	if err := s.run(ctx, s.cfg.ActionTimeout, "lookup "+sel.String(),
		chromedp.Evaluate(scripts.FindAll(sel), &raw)); err != nil {
		return nil, err
	}

	var found []elementDescriptor
	if err := json.Unmarshal(raw, &found); err != nil {
		return nil, fmt.Errorf("decoding lookup result for %s: %w", sel, err)
	}

	handles := make([]schemas.ElementHandle, len(found))
	for i, d := range found {
		handles[i] = schemas.ElementHandle{
			Selector: sel,
			Index:    i,
			Tag:      d.Tag,
			Text:     d.Text,
			Href:     d.Href,
			Value:    d.Value,
			Visible:  d.Visible,
		}
	}
	return handles, nil
}

// Click re-resolves h and clicks it in page script, which also reaches
// elements covered by overlays.
func (s *Session) Click(ctx context.Context, h schemas.ElementHandle) error {
	var clicked bool
	if err := s.run(ctx, s.cfg.ActionTimeout, "click "+h.Selector.String(),
		chromedp.Evaluate(scripts.Click(h), &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%w: %s[%d]", ErrStaleHandle, h.Selector, h.Index)
	}
	return nil
}

// RunScript evaluates code, awaiting promises, and decodes the result into
// res. A nil res discards the result.
func (s *Session) RunScript(ctx context.Context, code string, res interface{}) error {
	name := scripts.Identify(code)
	if name == "" {
		name = "script"
	}
	return s.run(ctx, s.cfg.ActionTimeout, name,
		chromedp.Evaluate(code, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
}

// RenderToDocument prints the current document to PDF.
func (s *Session) RenderToDocument(ctx context.Context, opts schemas.RenderOptions) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, s.cfg.RenderTimeout, "print to pdf", chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPaperWidth(opts.PaperWidth).
			WithPaperHeight(opts.PaperHeight).
			WithScale(opts.Scale).
			WithMarginTop(opts.Margin).
			WithMarginBottom(opts.Margin).
			WithMarginLeft(opts.Margin).
			WithMarginRight(opts.Margin).
			WithPrintBackground(opts.PrintBackground).
			WithDisplayHeaderFooter(opts.DisplayHeaderFooter).
			Do(ctx)
		buf = data
		return err
	}))
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, errors.New("print to pdf returned no data")
	}
	return buf, nil
}

// RenderToImage captures the visible viewport as PNG.
func (s *Session) RenderToImage(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.cfg.RenderTimeout, "screenshot", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// WaitUntil polls cond every poll interval until it reports true, the
// timeout passes or ctx is done. Errors from cond count as "not yet".
func (s *Session) WaitUntil(ctx context.Context, cond schemas.Condition, timeout time.Duration) error {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return Poll(ctx, cond, timeout, interval)
}

// Poll is the polling loop behind WaitUntil.
func Poll(ctx context.Context, cond schemas.Condition, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := cond(ctx)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if !time.Now().Before(deadline) {
			if lastErr != nil {
				return fmt.Errorf("%w after %s (last error: %v)", schemas.ErrWaitTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", schemas.ErrWaitTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser tab.")
	closeCtx, cancel := context.WithTimeout(Detach(s.ctx), 10*time.Second)
	defer cancel()
	err := chromedp.Cancel(closeCtx)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser tab: %w", err)
	}
	return nil
}
