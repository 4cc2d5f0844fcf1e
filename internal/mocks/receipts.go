// File: internal/mocks/receipts.go
package mocks

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/xkilldash9x/receipt-harvester/internal/config"
)

// SiteBase is the origin of a ReceiptSite.
const SiteBase = "https://receipts.test"

// ListAddress is the address of list page n (1 based).
func ListAddress(page int) string {
	return fmt.Sprintf("%s/payments?page=%d", SiteBase, page)
}

// DetailAddress is the address of the receipt at position pos on page.
func DetailAddress(page, pos int) string {
	return fmt.Sprintf("%s/receipt_sheets/new?page=%d&item=%d", SiteBase, page, pos)
}

// ReceiptSpec describes one list entry of a ReceiptSite.
type ReceiptSpec struct {
	Reference string
	// Issued receipts show the print button right away.
	Issued bool
	// DocumentFailures fails that many PDF renderings; -1 fails all.
	DocumentFailures int
	// ImageFails fails every raster snapshot.
	ImageFails bool
	// OpenFailures fails that many navigations to the detail page; -1 fails all.
	OpenFailures int
	// NoConfirmControl hides the "yes" button so only the scripted
	// acknowledgement fallback can confirm issuance.
	NoConfirmControl bool
}

// ReceiptSite is a FakeSite laid out like the payments list: list pages with
// receipt links (plus an invoice link that must be ignored) and a "next"
// link, and detail pages with the preview/issue/confirm flow.
type ReceiptSite struct {
	*FakeSite
	sel   config.SelectorsConfig
	pages [][]ReceiptSpec

	mu           sync.Mutex
	docFailures  map[string]int
	openFailures map[string]int
	issued       map[string]bool
	issueClicks  int
	imageFails   map[string]bool
	attempts     map[string]int
}

// ErrFakeRender is what failing renderings return.
var ErrFakeRender = errors.New("fake rendering failure")

// NewReceiptSite builds a site with one list page per element of pages.
// Lookups match the first strategy of each default selector list.
func NewReceiptSite(pages ...[]ReceiptSpec) *ReceiptSite {
	rs := &ReceiptSite{
		FakeSite:     NewFakeSite(),
		sel:          config.DefaultSelectors(),
		pages:        pages,
		docFailures:  map[string]int{},
		openFailures: map[string]int{},
		issued:       map[string]bool{},
		imageFails:   map[string]bool{},
		attempts:     map[string]int{},
	}
	for p := range pages {
		rs.buildListPage(p + 1)
	}
	rs.NavigateHook = rs.navigateHook
	rs.RenderDocumentHook = rs.renderDocument
	rs.RenderImageHook = rs.renderImage
	return rs
}

func (rs *ReceiptSite) buildListPage(page int) {
	specs := rs.pages[page-1]
	itemQuery := rs.sel.ItemLinks[0].Query

	var links []FakeElement
	var rows strings.Builder
	for i, spec := range specs {
		pos := i + 1
		addr := DetailAddress(page, pos)
		links = append(links, FakeElement{Text: "領収書", Href: addr})
		fmt.Fprintf(&rows, `<tr><td>%d</td><td><a href="%s">領収書</a></td></tr>`, pos, html.EscapeString(addr))
		if i == 0 {
			// An invoice link between receipts; it must never be picked.
			links = append(links, FakeElement{Text: "請求書", Href: SiteBase + "/invoices/1"})
		}
		rs.buildDetailPage(page, pos, spec)
	}

	p := &FakePage{
		HTML:     "<html><body><table>" + rows.String() + "</table></body></html>",
		Elements: map[string][]FakeElement{},
	}
	if len(links) > 0 {
		p.Elements[itemQuery] = links
	}
	if page < len(rs.pages) {
		p.Elements[rs.sel.NextPage[0].Query] = []FakeElement{{Text: "次へ", Href: ListAddress(page + 1)}}
	}
	rs.AddPage(ListAddress(page), p)
}

func (rs *ReceiptSite) buildDetailPage(page, pos int, spec ReceiptSpec) {
	addr := DetailAddress(page, pos)
	rs.docFailures[addr] = spec.DocumentFailures
	rs.openFailures[addr] = spec.OpenFailures
	rs.imageFails[addr] = spec.ImageFails
	rs.issued[addr] = spec.Issued

	body := `<h1>領収書</h1>`
	if spec.Reference != "" {
		body += `<table><tr><th>領収書番号</th><td>` + html.EscapeString(spec.Reference) + `</td></tr></table>`
	}
	p := &FakePage{
		HTML:     "<html><body>" + body + "</body></html>",
		Elements: map[string][]FakeElement{},
	}
	if spec.Issued {
		p.Elements[rs.sel.IssuedMarker[0].Query] = []FakeElement{{Text: "印刷する"}}
	} else {
		p.Elements[rs.sel.Preview[0].Query] = []FakeElement{{Text: "プレビューで内容を確認する"}}
		p.Elements[rs.sel.Issue[0].Query] = []FakeElement{{
			Text: "この内容で発行する",
			OnClick: func(s *FakeSite) error {
				rs.mu.Lock()
				rs.issueClicks++
				rs.mu.Unlock()
				if !spec.NoConfirmControl {
					s.SetElements(addr, rs.sel.Confirm[0].Query, []FakeElement{{
						Text:    "はい",
						OnClick: func(*FakeSite) error { rs.markIssued(addr); return nil },
					}})
				}
				return nil
			},
		}}
		p.ConfirmFallback = func(*FakeSite) bool {
			rs.mu.Lock()
			clicked := rs.issueClicks > 0
			rs.mu.Unlock()
			if clicked {
				rs.markIssued(addr)
			}
			return clicked
		}
	}
	rs.AddPage(addr, p)
}

func (rs *ReceiptSite) markIssued(addr string) {
	rs.mu.Lock()
	rs.issued[addr] = true
	rs.mu.Unlock()
	rs.SetElements(addr, rs.sel.Issue[0].Query, nil)
	rs.SetElements(addr, rs.sel.Confirm[0].Query, nil)
	rs.SetElements(addr, rs.sel.IssuedMarker[0].Query, []FakeElement{{Text: "印刷する"}})
}

// Issued reports whether the receipt at page/pos is issued.
func (rs *ReceiptSite) Issued(page, pos int) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.issued[DetailAddress(page, pos)]
}

// IssueClicks counts clicks on any "issue" button.
func (rs *ReceiptSite) IssueClicks() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.issueClicks
}

func consume(m map[string]int, addr string) bool {
	n := m[addr]
	switch {
	case n < 0:
		return true
	case n > 0:
		m[addr] = n - 1
		return true
	default:
		return false
	}
}

// NavigationAttempts counts navigations to address, failed ones included.
func (rs *ReceiptSite) NavigationAttempts(address string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.attempts[address]
}

func (rs *ReceiptSite) navigateHook(address string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.attempts[address]++
	if consume(rs.openFailures, address) {
		return fmt.Errorf("navigation to %s timed out", address)
	}
	return nil
}

func (rs *ReceiptSite) renderDocument(address string) ([]byte, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if consume(rs.docFailures, address) {
		return nil, ErrFakeRender
	}
	return []byte("%PDF-1.4\n% " + address + "\n"), nil
}

func (rs *ReceiptSite) renderImage(address string) ([]byte, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.imageFails[address] {
		return nil, ErrFakeRender
	}
	return []byte("\x89PNG\r\n" + address), nil
}
