package capture

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Source names where a reference number was found.
const (
	SourceLabel   = "label"
	SourceTable   = "table"
	SourceText    = "text"
	SourceAddress = "address"
)

var (
	tokenPattern      = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9-]*`)
	afterColonPattern = regexp.MustCompile(`[：:]\s*([A-Za-z0-9][A-Za-z0-9-]*)`)
	cellPatterns      = []*regexp.Regexp{
		regexp.MustCompile(`CW-\d+`),
		regexp.MustCompile(`\b[A-Z]-\d+\b`),
		regexp.MustCompile(`\b\d{5,}\b`),
	}
	textFallbackPatterns = []*regexp.Regexp{
		regexp.MustCompile(`No[.．]?\s*[：:]\s*([A-Za-z0-9-]*\d[A-Za-z0-9-]*)`),
		regexp.MustCompile(`番号\s*[：:]\s*([A-Za-z0-9-]*\d[A-Za-z0-9-]*)`),
		regexp.MustCompile(`(CW-\d+)`),
		regexp.MustCompile(`\b([A-Z]-\d{5,})\b`),
	}
	addressPattern = regexp.MustCompile(`(?:receipts?|invoices?|receipt_sheets)/(\d+)`)
	headerHints    = []string{"番号", "No"}
)

// maxLabelRunes bounds how long an element's text may be for the element to
// count as a label rather than a container.
const maxLabelRunes = 40

// Extractor finds the receipt's reference number in a rendered detail page.
type Extractor struct {
	labels       []string
	textPatterns []*regexp.Regexp
}

// NewExtractor builds an extractor for the given field labels, e.g.
// "領収書番号".
func NewExtractor(labels []string) *Extractor {
	x := &Extractor{labels: labels}
	for _, l := range labels {
		if l == "" {
			continue
		}
		x.textPatterns = append(x.textPatterns,
			regexp.MustCompile(regexp.QuoteMeta(l)+`\s*[：:]?\s*([A-Za-z0-9-]*\d[A-Za-z0-9-]*)`))
	}
	x.textPatterns = append(x.textPatterns, textFallbackPatterns...)
	return x
}

// Extract tries, in order: a labeled field, a table cell, free text and
// finally the page address. It returns the raw reference and where it was
// found, or two empty strings.
func (x *Extractor) Extract(html, address string) (ref, source string) {
	if html != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			if ref := x.fromLabel(doc); ref != "" {
				return ref, SourceLabel
			}
			if ref := fromTable(doc); ref != "" {
				return ref, SourceTable
			}
			if ref := x.fromText(doc.Find("body").Text()); ref != "" {
				return ref, SourceText
			}
		}
	}
	if m := addressPattern.FindStringSubmatch(address); m != nil {
		return m[1], SourceAddress
	}
	return "", ""
}

// firstToken returns the first alphanumeric token of s that contains a digit.
func firstToken(s string) string {
	for _, tok := range tokenPattern.FindAllString(s, -1) {
		if strings.ContainsAny(tok, "0123456789") {
			return tok
		}
	}
	return ""
}

func (x *Extractor) isLabel(text string) bool {
	if utf8.RuneCountInString(text) > maxLabelRunes {
		return false
	}
	for _, l := range x.labels {
		if l != "" && strings.Contains(text, l) {
			return true
		}
	}
	return false
}

func (x *Extractor) fromLabel(doc *goquery.Document) string {
	var ref string
	doc.Find("th, td, dt, label, div, span, p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !x.isLabel(text) {
			return true
		}
		// Prefer the innermost element carrying the label.
		nested := s.Children().FilterFunction(func(_ int, c *goquery.Selection) bool {
			return x.isLabel(strings.TrimSpace(c.Text()))
		})
		if nested.Length() > 0 {
			return true
		}
		// "領収書番号: R-1" inside the label element itself.
		if m := afterColonPattern.FindStringSubmatch(text); m != nil && strings.ContainsAny(m[1], "0123456789") {
			ref = m[1]
			return false
		}
		for _, candidate := range []*goquery.Selection{s.Next(), s.Parent().Next()} {
			if tok := firstToken(candidate.Text()); tok != "" {
				ref = tok
				return false
			}
		}
		return true
	})
	return ref
}

func fromTable(doc *goquery.Document) string {
	var ref string
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		col := -1
		table.Find("tr").First().Children().EachWithBreak(func(i int, cell *goquery.Selection) bool {
			text := strings.TrimSpace(cell.Text())
			for _, h := range headerHints {
				if strings.Contains(text, h) {
					col = i
					return false
				}
			}
			return true
		})
		if col < 0 {
			return true
		}
		table.Find("tr").Slice(1, goquery.ToEnd).EachWithBreak(func(_ int, row *goquery.Selection) bool {
			if tok := firstToken(row.Children().Eq(col).Text()); tok != "" {
				ref = tok
				return false
			}
			return true
		})
		return ref == ""
	})
	if ref != "" {
		return ref
	}

	doc.Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		text := strings.TrimSpace(cell.Text())
		for _, p := range cellPatterns {
			if m := p.FindString(text); m != "" {
				ref = m
				return false
			}
		}
		return true
	})
	return ref
}

func (x *Extractor) fromText(body string) string {
	for _, p := range x.textPatterns {
		if m := p.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}
