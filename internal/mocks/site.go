// File: internal/mocks/site.go
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
	"github.com/xkilldash9x/receipt-harvester/internal/browser/scripts"
)

// FakeElement is an element of a FakePage.
type FakeElement struct {
	Text string
	// Href is navigated to on click when set.
	Href string
	// OnClick runs after Href handling. The site is unlocked at that point.
	OnClick func(s *FakeSite) error
}

// FakePage is one document of a FakeSite.
type FakePage struct {
	HTML string
	Text string
	// Elements are keyed by Selector.Query.
	Elements map[string][]FakeElement
	// ConfirmFallback answers the scripted acknowledgement fallback.
	ConfirmFallback func(s *FakeSite) bool
}

// FakeSite is an in-memory schemas.DocumentView. Queries are not evaluated;
// a page simply lists the elements each query returns, and the selector's
// text filters are applied on top.
type FakeSite struct {
	mu      sync.Mutex
	pages   map[string]*FakePage
	current string

	// NavigateHook may fail a navigation before it happens.
	NavigateHook func(address string) error
	// RenderDocumentHook and RenderImageHook replace the default renderings.
	RenderDocumentHook func(address string) ([]byte, error)
	RenderImageHook    func(address string) ([]byte, error)

	navigations []string
	clicks      []string
	scriptRuns  map[string]int
	renderOpts  []schemas.RenderOptions
}

var _ schemas.DocumentView = (*FakeSite)(nil)

// NewFakeSite returns an empty site showing about:blank.
func NewFakeSite() *FakeSite {
	return &FakeSite{
		pages:      map[string]*FakePage{"about:blank": {}},
		current:    "about:blank",
		scriptRuns: map[string]int{},
	}
}

// AddPage registers (or replaces) the page served at address.
func (s *FakeSite) AddPage(address string, p *FakePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Elements == nil {
		p.Elements = map[string][]FakeElement{}
	}
	s.pages[address] = p
}

// SetElements replaces the elements a query returns on the page at address.
func (s *FakeSite) SetElements(address, query string, els []FakeElement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[address]; ok {
		p.Elements[query] = els
	}
}

// Current returns the loaded address.
func (s *FakeSite) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Navigations returns every address navigated to, in order.
func (s *FakeSite) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Clicks returns "<address> <query>[index]" for every click.
func (s *FakeSite) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// ScriptRuns counts evaluations of a named snippet (see scripts.Identify).
func (s *FakeSite) ScriptRuns(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scriptRuns[name]
}

// RenderOptions returns the options of every document rendering.
func (s *FakeSite) RenderOptions() []schemas.RenderOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.RenderOptions(nil), s.renderOpts...)
}

func (s *FakeSite) Navigate(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.NavigateHook != nil {
		if err := s.NavigateHook(address); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, address)
	if _, ok := s.pages[address]; !ok {
		return fmt.Errorf("navigation to %s failed: 404", address)
	}
	s.current = address
	return nil
}

func (s *FakeSite) CurrentAddress(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Current(), nil
}

func (s *FakeSite) resolve(sel schemas.Selector) []FakeElement {
	p := s.pages[s.current]
	if p == nil {
		return nil
	}
	var out []FakeElement
	for _, el := range p.Elements[sel.Query] {
		if sel.Accepts(el.Text) {
			out = append(out, el)
		}
	}
	return out
}

func (s *FakeSite) FindAll(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var handles []schemas.ElementHandle
	for i, el := range s.resolve(sel) {
		handles = append(handles, schemas.ElementHandle{
			Selector: sel,
			Index:    i,
			Tag:      "a",
			Text:     el.Text,
			Href:     el.Href,
			Visible:  true,
		})
	}
	return handles, nil
}

func (s *FakeSite) Click(ctx context.Context, h schemas.ElementHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	els := s.resolve(h.Selector)
	if h.Index >= len(els) {
		s.mu.Unlock()
		return fmt.Errorf("element handle no longer resolves: %s[%d]", h.Selector, h.Index)
	}
	el := els[h.Index]
	s.clicks = append(s.clicks, fmt.Sprintf("%s %s[%d]", s.current, h.Selector.Query, h.Index))
	s.mu.Unlock()

	if el.Href != "" {
		if err := s.Navigate(ctx, el.Href); err != nil {
			return err
		}
	}
	if el.OnClick != nil {
		return el.OnClick(s)
	}
	return nil
}

func (s *FakeSite) RunScript(ctx context.Context, code string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := scripts.Identify(code)

	s.mu.Lock()
	s.scriptRuns[name]++
	page := s.pages[s.current]
	s.mu.Unlock()
	if page == nil {
		page = &FakePage{}
	}

	switch name {
	case scripts.NameSuppressChrome:
		return assign(res, true)
	case scripts.NameOuterHTML:
		return assign(res, page.HTML)
	case scripts.NameBodyText:
		text := page.Text
		if text == "" {
			text = page.HTML
		}
		return assign(res, text)
	case scripts.NameReadyState:
		return assign(res, "complete")
	case scripts.NamePrint:
		return assign(res, true)
	case scripts.NameConfirmFallback:
		clicked := false
		if page.ConfirmFallback != nil {
			clicked = page.ConfirmFallback(s)
		}
		return assign(res, clicked)
	default:
		return fmt.Errorf("fake site cannot evaluate script %q", firstLine(code))
	}
}

func assign(res interface{}, v interface{}) error {
	switch r := res.(type) {
	case nil:
		return nil
	case *bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("cannot assign %T to *bool", v)
		}
		*r = b
	case *string:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("cannot assign %T to *string", v)
		}
		*r = str
	case *interface{}:
		*r = v
	default:
		return fmt.Errorf("unsupported result type %T", res)
	}
	return nil
}

func firstLine(code string) string {
	if i := strings.IndexByte(code, '\n'); i >= 0 {
		return code[:i]
	}
	return code
}

func (s *FakeSite) RenderToDocument(ctx context.Context, opts schemas.RenderOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.renderOpts = append(s.renderOpts, opts)
	addr := s.current
	s.mu.Unlock()
	if s.RenderDocumentHook != nil {
		return s.RenderDocumentHook(addr)
	}
	return []byte("%PDF-1.4\n% " + addr + "\n"), nil
}

func (s *FakeSite) RenderToImage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := s.Current()
	if s.RenderImageHook != nil {
		return s.RenderImageHook(addr)
	}
	return []byte("\x89PNG\r\n" + addr), nil
}

// WaitUntil evaluates cond once; the fake never changes on its own.
func (s *FakeSite) WaitUntil(ctx context.Context, cond schemas.Condition, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := cond(ctx)
	if err == nil && ok {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w after %s: %v", schemas.ErrWaitTimeout, timeout, err)
	}
	return fmt.Errorf("%w after %s", schemas.ErrWaitTimeout, timeout)
}
